package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"atlasbridge/internal/config"
	"atlasbridge/internal/llm"
	"atlasbridge/internal/mcpclient"
	"atlasbridge/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"
)

// maxToolRounds bounds the LLM/tool-call loop for one query.
const maxToolRounds = 10

// AuthFailureMessage is returned to the user when an agent cannot be
// created for their session, typically because the token is missing or
// the MCP server rejected it.
const AuthFailureMessage = "Failed to create Atlassian agent. Please check your authentication."

// errAgentUnavailable marks failures that prevent an agent from being
// assembled at all (no token, unreachable MCP server, no tools), as
// opposed to errors while executing the query.
var errAgentUnavailable = errors.New("agent unavailable")

const systemPrompt = "You are an assistant for a team's Atlassian workspace. " +
	"Use the available Jira and Confluence tools to answer questions and carry out requests. " +
	"Prefer tool results over guesses; when a request is ambiguous, ask for the missing detail. " +
	"Keep answers concise and include issue keys and page titles where relevant."

// ChatClient is the LLM surface the agent needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// TokenProvider supplies a fresh access token for a user, or nil when the
// user must re-authenticate.
type TokenProvider interface {
	ValidToken(ctx context.Context, userID string) *oauth2.Token
}

// Result is the outcome of one executed query. Exactly one of Result and
// Error is set.
type Result struct {
	Success   bool          `json:"success"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Query     string        `json:"query"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"-"`
}

// Service runs natural-language queries against Atlassian through an LLM
// with MCP tool access. Execution is bounded by a worker pool; each query
// gets its own MCP connection authenticated as the requesting user.
type Service struct {
	llm     ChatClient
	dialer  mcpclient.Dialer
	tokens  TokenProvider
	history *History

	sem     chan struct{}
	timeout time.Duration
}

// NewService creates the query execution service.
func NewService(cfg config.AgentConfig, mcpCfg config.MCPConfig, llmClient ChatClient, dialer mcpclient.Dialer, tokens TokenProvider) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	timeout := time.Duration(mcpCfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Service{
		llm:     llmClient,
		dialer:  dialer,
		tokens:  tokens,
		history: NewHistory(),
		sem:     make(chan struct{}, workers),
		timeout: timeout,
	}
}

// Execute runs one query for the user. Slots are limited; callers beyond
// the worker budget block until one frees up. Failures are reported in
// the result rather than as an error so they land in history too.
func (s *Service) Execute(ctx context.Context, userID, query string) (*Result, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	response, err := s.run(ctx, userID, query)
	result := &Result{
		Success:   err == nil,
		Result:    response,
		Query:     query,
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		logging.Warn("Agent", "Query failed for user=%s: %v", logging.TruncateUserID(userID), err)
		// Agent assembly failures all read the same to the user; real
		// execution errors keep their text.
		if errors.Is(err, errAgentUnavailable) {
			result.Error = AuthFailureMessage
		} else {
			result.Error = err.Error()
		}
	}

	recorded := result.Result
	if !result.Success {
		recorded = result.Error
	}
	s.history.Add(userID, query, recorded, result.Success)
	return result, nil
}

// run performs the agent loop: connect to the MCP server as the user,
// advertise its tools to the LLM, and relay tool calls until the model
// produces a final answer.
func (s *Service) run(ctx context.Context, userID, query string) (string, error) {
	token := s.tokens.ValidToken(ctx, userID)
	if token == nil {
		return "", fmt.Errorf("%w: no valid token for user", errAgentUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := s.dialer.Dial(token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create MCP client: %v", errAgentUnavailable, err)
	}
	if err := client.Initialize(ctx); err != nil {
		return "", fmt.Errorf("%w: failed to connect to MCP server: %v", errAgentUnavailable, err)
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to list tools: %v", errAgentUnavailable, err)
	}
	if len(tools) == 0 {
		return "", fmt.Errorf("%w: MCP server exposed no tools", errAgentUnavailable)
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: query},
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := s.llm.CreateChatCompletion(ctx, &llm.ChatRequest{
			Messages: messages,
			Tools:    toLLMTools(tools),
		})
		if err != nil {
			return "", fmt.Errorf("llm request failed: %w", err)
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			messages = append(messages, s.executeToolCall(ctx, client, call))
		}
	}

	return "", fmt.Errorf("query exceeded %d tool rounds", maxToolRounds)
}

// executeToolCall runs one requested tool and wraps the outcome as a tool
// message. Tool errors are reported back to the model instead of aborting
// the loop; the model can recover or explain.
func (s *Service) executeToolCall(ctx context.Context, client mcpclient.Client, call llm.ToolCall) llm.Message {
	msg := llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Function.Name,
	}

	var args map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			msg.Content = fmt.Sprintf("Error: invalid tool arguments: %v", err)
			return msg
		}
	}

	logging.Debug("Agent", "Calling tool %s", call.Function.Name)
	result, err := client.CallTool(ctx, call.Function.Name, args)
	if err != nil {
		msg.Content = fmt.Sprintf("Error: tool call failed: %v", err)
		return msg
	}

	msg.Content = mcpclient.ResultText(result)
	if result.IsError {
		msg.Content = "Error: " + msg.Content
	}
	return msg
}

// Tools lists the MCP tools available to the user. Returns an empty slice
// on any failure so callers can render an empty list without branching.
func (s *Service) Tools(ctx context.Context, userID string) []mcp.Tool {
	token := s.tokens.ValidToken(ctx, userID)
	if token == nil {
		return []mcp.Tool{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := s.dialer.Dial(token.AccessToken)
	if err != nil {
		return []mcp.Tool{}
	}
	if err := client.Initialize(ctx); err != nil {
		logging.Debug("Agent", "Tool listing failed for user=%s: %v", logging.TruncateUserID(userID), err)
		return []mcp.Tool{}
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	if err != nil {
		return []mcp.Tool{}
	}
	return tools
}

// History returns the user's recent queries, oldest first.
func (s *Service) History(userID string, limit int) []Record {
	return s.history.Recent(userID, limit)
}

// ClearHistory drops the user's history. Reports whether anything was
// removed.
func (s *Service) ClearHistory(userID string) bool {
	return s.history.Clear(userID)
}

// Stats returns activity counters across all users.
func (s *Service) Stats() Stats {
	return s.history.Stats()
}

// toLLMTools converts MCP tool descriptors to the OpenAI function schema.
func toLLMTools(tools []mcp.Tool) []llm.Tool {
	out := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		params, err := json.Marshal(t.InputSchema)
		if err != nil {
			continue
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
