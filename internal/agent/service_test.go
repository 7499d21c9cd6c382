package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"atlasbridge/internal/config"
	"atlasbridge/internal/llm"
	"atlasbridge/internal/mcpclient"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeTokens maps user ids to tokens; absent users get nil.
type fakeTokens struct {
	tokens map[string]*oauth2.Token
}

func (f *fakeTokens) ValidToken(ctx context.Context, userID string) *oauth2.Token {
	return f.tokens[userID]
}

// fakeMCP implements mcpclient.Client in memory.
type fakeMCP struct {
	initErr   error
	tools     []mcp.Tool
	toolErr   error
	callText  map[string]string
	callErr   error
	callCount int32
	closed    int32
}

func (f *fakeMCP) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeMCP) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func (f *fakeMCP) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, f.toolErr
}

func (f *fakeMCP) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	atomic.AddInt32(&f.callCount, 1)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: f.callText[name]}},
	}, nil
}

func (f *fakeMCP) Ping(ctx context.Context) error { return nil }

type fakeDialer struct {
	client  *fakeMCP
	dialErr error
	tokens  []string
	mu      sync.Mutex
}

func (f *fakeDialer) Dial(accessToken string) (mcpclient.Client, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, accessToken)
	f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f.client, nil
}

// fakeChat returns scripted responses in order.
type fakeChat struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	requests  []*llm.ChatRequest
	err       error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return textResponse("done"), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
}

func toolCallResponse(id, name, args string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message: llm.Message{
				Role: "assistant",
				ToolCalls: []llm.ToolCall{{
					ID:   id,
					Type: "function",
					Function: llm.FunctionCall{Name: name, Arguments: args},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}
}

func searchTool() mcp.Tool {
	return mcp.Tool{Name: "jira_search", Description: "Search Jira issues"}
}

func newAgentService(chat ChatClient, dialer mcpclient.Dialer, tokens TokenProvider) *Service {
	return NewService(
		config.AgentConfig{Workers: 4},
		config.MCPConfig{TimeoutSeconds: 30},
		chat, dialer, tokens,
	)
}

func TestExecuteDirectAnswer(t *testing.T) {
	chat := &fakeChat{responses: []*llm.ChatResponse{textResponse("OPS-1 is open")}}
	dialer := &fakeDialer{client: &fakeMCP{tools: []mcp.Tool{searchTool()}}}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, dialer, tokens)
	result, err := svc.Execute(context.Background(), "user-1", "status of OPS-1?")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "OPS-1 is open", result.Result)
	assert.Empty(t, result.Error)
	assert.Equal(t, "status of OPS-1?", result.Query)
	assert.False(t, result.Timestamp.IsZero())

	// The MCP client was dialed with the user's token and closed.
	assert.Equal(t, []string{"at"}, dialer.tokens)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dialer.client.closed))

	// Tools were advertised to the model.
	require.NotEmpty(t, chat.requests)
	require.Len(t, chat.requests[0].Tools, 1)
	assert.Equal(t, "jira_search", chat.requests[0].Tools[0].Function.Name)
}

func TestExecuteToolCallLoop(t *testing.T) {
	chat := &fakeChat{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", "jira_search", `{"jql":"assignee = me"}`),
		textResponse("You have 2 open tickets"),
	}}
	client := &fakeMCP{
		tools:    []mcp.Tool{searchTool()},
		callText: map[string]string{"jira_search": "OPS-1, OPS-2"},
	}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, &fakeDialer{client: client}, tokens)
	result, err := svc.Execute(context.Background(), "user-1", "my open tickets")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "You have 2 open tickets", result.Result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.callCount))

	// Second LLM round carries the assistant tool call and the tool result.
	require.Len(t, chat.requests, 2)
	msgs := chat.requests[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, "OPS-1, OPS-2", last.Content)
}

func TestExecuteToolErrorReportedToModel(t *testing.T) {
	chat := &fakeChat{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", "jira_search", `{"jql":"x"}`),
		textResponse("The search failed"),
	}}
	client := &fakeMCP{
		tools:   []mcp.Tool{searchTool()},
		callErr: fmt.Errorf("boom"),
	}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, &fakeDialer{client: client}, tokens)
	result, err := svc.Execute(context.Background(), "user-1", "search")
	require.NoError(t, err)
	// The tool error went back to the model, not to the caller.
	assert.True(t, result.Success)

	msgs := chat.requests[1].Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "tool call failed")
}

func TestExecuteWithoutToken(t *testing.T) {
	chat := &fakeChat{}
	dialer := &fakeDialer{client: &fakeMCP{}}
	svc := newAgentService(chat, dialer, &fakeTokens{})

	result, err := svc.Execute(context.Background(), "user-1", "anything")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, AuthFailureMessage, result.Error)
	assert.Empty(t, result.Result)
	assert.Empty(t, dialer.tokens, "must not dial without a token")
}

func TestExecuteMCPConnectFailure(t *testing.T) {
	chat := &fakeChat{}
	dialer := &fakeDialer{client: &fakeMCP{initErr: fmt.Errorf("401 unauthorized")}}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, dialer, tokens)
	result, err := svc.Execute(context.Background(), "user-1", "anything")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, AuthFailureMessage, result.Error)
}

func TestExecuteNoToolsFails(t *testing.T) {
	chat := &fakeChat{responses: []*llm.ChatResponse{textResponse("should never run")}}
	dialer := &fakeDialer{client: &fakeMCP{tools: []mcp.Tool{}}}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, dialer, tokens)
	result, err := svc.Execute(context.Background(), "user-1", "anything")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, AuthFailureMessage, result.Error)
	assert.Empty(t, chat.requests, "the model must not be invoked without tools")

	records := svc.History("user-1", 10)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, AuthFailureMessage, records[0].Response)
}

func TestExecuteLLMErrorKeepsText(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("rate limited")}
	dialer := &fakeDialer{client: &fakeMCP{tools: []mcp.Tool{searchTool()}}}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, dialer, tokens)
	result, err := svc.Execute(context.Background(), "user-1", "anything")
	require.NoError(t, err)
	assert.False(t, result.Success)
	// An execution failure keeps its real error, not the fixed auth message.
	assert.Contains(t, result.Error, "rate limited")
	assert.NotEqual(t, AuthFailureMessage, result.Error)
}

func TestExecuteRecordsHistory(t *testing.T) {
	chat := &fakeChat{responses: []*llm.ChatResponse{textResponse("answer")}}
	dialer := &fakeDialer{client: &fakeMCP{tools: []mcp.Tool{searchTool()}}}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, dialer, tokens)
	_, err := svc.Execute(context.Background(), "user-1", "q1")
	require.NoError(t, err)
	// Failures are recorded too.
	_, err = svc.Execute(context.Background(), "user-2", "q2")
	require.NoError(t, err)

	records := svc.History("user-1", 10)
	require.Len(t, records, 1)
	assert.Equal(t, "q1", records[0].Query)
	assert.True(t, records[0].Success)

	records = svc.History("user-2", 10)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, AuthFailureMessage, records[0].Response)
}

func TestExecuteBoundedConcurrency(t *testing.T) {
	var active, peak int32
	chat := &fakeChatConcurrency{active: &active, peak: &peak}
	dialer := &fakeDialer{client: &fakeMCP{tools: []mcp.Tool{searchTool()}}}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := NewService(
		config.AgentConfig{Workers: 2},
		config.MCPConfig{TimeoutSeconds: 30},
		chat, dialer, tokens,
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Execute(context.Background(), "user-1", "q")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2), "worker pool must bound concurrency")
}

// fakeChatConcurrency tracks how many queries run inside the LLM call at
// once, which is a good proxy for the worker pool bound.
type fakeChatConcurrency struct {
	active *int32
	peak   *int32
}

func (f *fakeChatConcurrency) CreateChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	cur := atomic.AddInt32(f.active, 1)
	for {
		old := atomic.LoadInt32(f.peak)
		if cur <= old || atomic.CompareAndSwapInt32(f.peak, old, cur) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(f.active, -1)
	return textResponse("ok"), nil
}

func TestToolsReturnsEmptyOnFailure(t *testing.T) {
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	// No token.
	svc := newAgentService(&fakeChat{}, &fakeDialer{client: &fakeMCP{}}, &fakeTokens{})
	assert.Empty(t, svc.Tools(context.Background(), "user-1"))

	// Connect failure.
	svc = newAgentService(&fakeChat{}, &fakeDialer{client: &fakeMCP{initErr: fmt.Errorf("down")}}, tokens)
	assert.Empty(t, svc.Tools(context.Background(), "user-1"))

	// List failure.
	svc = newAgentService(&fakeChat{}, &fakeDialer{client: &fakeMCP{toolErr: fmt.Errorf("boom")}}, tokens)
	assert.Empty(t, svc.Tools(context.Background(), "user-1"))
}

func TestToolsSuccess(t *testing.T) {
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}
	svc := newAgentService(&fakeChat{}, &fakeDialer{client: &fakeMCP{tools: []mcp.Tool{searchTool()}}}, tokens)

	tools := svc.Tools(context.Background(), "user-1")
	require.Len(t, tools, 1)
	assert.Equal(t, "jira_search", tools[0].Name)
}

func TestClearHistoryAndStats(t *testing.T) {
	chat := &fakeChat{responses: []*llm.ChatResponse{textResponse("a"), textResponse("b")}}
	dialer := &fakeDialer{client: &fakeMCP{tools: []mcp.Tool{searchTool()}}}
	tokens := &fakeTokens{tokens: map[string]*oauth2.Token{"user-1": {AccessToken: "at"}}}

	svc := newAgentService(chat, dialer, tokens)
	_, _ = svc.Execute(context.Background(), "user-1", "q1")
	_, _ = svc.Execute(context.Background(), "user-1", "q2")

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Users)
	assert.Equal(t, 2, stats.TotalQueries)

	assert.True(t, svc.ClearHistory("user-1"))
	assert.False(t, svc.ClearHistory("user-1"))
	assert.Empty(t, svc.History("user-1", 10))
}
