package server

import (
	"html/template"
	"net/http"

	"atlasbridge/pkg/logging"

	"github.com/Masterminds/sprig/v3"
)

const homeTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
textarea { width: 100%; min-height: 5rem; font-size: 1rem; }
button { padding: 0.5rem 1.25rem; font-size: 1rem; cursor: pointer; }
pre { background: #f4f4f4; padding: 1rem; white-space: pre-wrap; }
.muted { color: #666; }
</style>
</head>
<body>
<h1>{{ .Title }}</h1>
{{ if .Authenticated }}
<p class="muted">Connected to Atlassian{{ if .ObtainedAt }} since {{ .ObtainedAt | date "2006-01-02 15:04" }}{{ end }}.
<a href="#" onclick="logout()">Log out</a></p>
<form id="query-form">
<textarea name="query" placeholder="Ask about your Jira issues or Confluence pages..."></textarea>
<p><button type="submit">Ask</button></p>
</form>
<pre id="response" hidden></pre>
<script>
document.getElementById('query-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  const out = document.getElementById('response');
  out.hidden = false;
  out.textContent = 'Working...';
  const resp = await fetch('/atlassian/query', {
    method: 'POST',
    headers: {'Content-Type': 'application/x-www-form-urlencoded'},
    body: new URLSearchParams(new FormData(e.target)),
  });
  const data = await resp.json();
  out.textContent = data.result || data.error || 'No response';
});
async function logout() {
  await fetch('/auth/logout', {method: 'POST'});
  location.reload();
}
</script>
{{ else }}
<p>Ask questions about your team's Jira issues and Confluence pages.</p>
<p><a href="/auth/login"><button>Connect Atlassian</button></a></p>
{{ end }}
</body>
</html>`

var homeTmpl = template.Must(
	template.New("home").Funcs(sprig.FuncMap()).Parse(homeTemplate),
)

// handleHome renders the landing page. Unknown paths fall through here;
// anything but the root gets a 404.
func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	userID := h.sessions.EnsureUser(w, r)
	info := h.auth.GetUserInfo(r.Context(), userID)

	data := map[string]interface{}{
		"Title":         "Atlassian Assistant",
		"Authenticated": info != nil,
	}
	if info != nil && !info.TokenObtainedAt.IsZero() {
		data["ObtainedAt"] = info.TokenObtainedAt
	} else {
		data["ObtainedAt"] = nil
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTmpl.Execute(w, data); err != nil {
		logging.Error("HTTP", err, "Failed to render home page")
	}
}
