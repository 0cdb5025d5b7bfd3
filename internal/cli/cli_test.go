// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/errclass"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// isolate points the config directory at a temp dir and clears the
// environment overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGCHAT_HOME", dir)
	for _, key := range []string{
		"RIGCHAT_API_KEY", "OPENROUTER_API_KEY", "RIGCHAT_BASE_URL",
		"RIGCHAT_MODEL", "RIGCHAT_BUDGET", "RIGCHAT_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	return dir
}

// runCLI executes the command tree with captured output.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const catalogJSON = `{"data":[
	{"id":"openai/gpt-4o-mini","name":"GPT-4o mini","context_length":128000,"pricing":{"prompt":"0.00000015","completion":"0.0000006"},
	 "architecture":{"modality":"text+image->text","input_modalities":["text","image"]}},
	{"id":"meta/llama-free","name":"Llama Free","context_length":8192,"pricing":{"prompt":"0","completion":"0"},
	 "architecture":{"modality":"text->text","input_modalities":["text"]}}
]}`

// fakeOpenRouter serves the catalog and chat completions. status, when
// non-zero, fails every completion.
type fakeOpenRouter struct {
	status int

	mu      sync.Mutex
	prompts []string
}

func (f *fakeOpenRouter) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, catalogJSON)
			return
		case "/chat/completions":
		default:
			http.NotFound(w, r)
			return
		}

		var body struct {
			Stream   bool `json:"stream"`
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			return
		}
		if n := len(body.Messages); n > 0 {
			var s string
			_ = json.Unmarshal(body.Messages[n-1].Content, &s)
			f.mu.Lock()
			f.prompts = append(f.prompts, s)
			f.mu.Unlock()
		}

		if f.status != 0 {
			w.WriteHeader(f.status)
			fmt.Fprint(w, `{"error":{"message":"No auth credentials found","code":401}}`)
			return
		}

		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			``,
			`data: [DONE]`,
			``,
		} {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	})
}

func (f *fakeOpenRouter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// startServer isolates the config dir and points the client at a fake API.
func startServer(t *testing.T, f *fakeOpenRouter) string {
	t.Helper()
	dir := isolate(t)
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)
	t.Setenv("RIGCHAT_BASE_URL", server.URL)
	t.Setenv("RIGCHAT_API_KEY", "sk-or-test")
	return dir
}

// =============================================================================
// UNIT TESTS
// =============================================================================

func TestParseSlashCommand(t *testing.T) {
	tests := []struct {
		line string
		want slashCommand
	}{
		{"/quit", slashCommand{name: "quit"}},
		{"/MODEL openai/gpt-4o", slashCommand{name: "model", arg: "openai/gpt-4o"}},
		{"  /budget   quality-first  ", slashCommand{name: "budget", arg: "quality-first"}},
		{"/", slashCommand{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSlashCommand(tt.line))
		})
	}
}

func TestRowsUsed(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  int
	}{
		{"empty", "", 80, 1},
		{"short", "hello", 80, 1},
		{"exact", strings.Repeat("a", 80), 80, 1},
		{"wraps", strings.Repeat("a", 81), 80, 2},
		{"newlines", "a\nb\n", 80, 3},
		{"wide runes", strings.Repeat("世", 41), 80, 2},
		{"tabs", "\t\t", 10, 2},
		{"zero width uses default", "x", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rowsUsed(tt.text, tt.width))
		})
	}
}

func TestEraseRows(t *testing.T) {
	assert.Empty(t, eraseRows(0))
	assert.Equal(t, "\r\x1b[J", eraseRows(1))
	assert.Equal(t, "\r\x1b[2A\x1b[J", eraseRows(3))
}

func TestSelectModels(t *testing.T) {
	ranked := []model.Candidate{
		{ID: "free/a", Name: "Alpha"},
		{ID: "vision/b", Name: "Beta Vision", Multimodal: true},
		{ID: "paid/c", Name: "Gamma"},
		{ID: "vision/d", Name: "Delta", Multimodal: true},
	}

	ids := func(cs []model.Candidate) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}

	assert.Equal(t, []string{"free/a", "vision/b", "paid/c", "vision/d"}, ids(selectModels(ranked, false, "", 0)))
	assert.Equal(t, []string{"vision/b", "vision/d"}, ids(selectModels(ranked, true, "", 0)))
	assert.Equal(t, []string{"vision/b", "vision/d"}, ids(selectModels(ranked, false, "VISION", 0)))
	assert.Equal(t, []string{"paid/c"}, ids(selectModels(ranked, false, "gamma", 0)))
	assert.Equal(t, []string{"free/a", "vision/b"}, ids(selectModels(ranked, false, "", 2)))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "unknown", formatPrice(model.Candidate{ID: "x"}))
	assert.Equal(t, "free", formatPrice(model.Candidate{ID: "x", Pricing: &model.Pricing{}}))
	assert.Equal(t, "0.75", formatPrice(model.Candidate{ID: "x", Pricing: &model.Pricing{
		Prompt: 0.00000015, Completion: 0.0000006,
	}}))
}

func TestTurnStats(t *testing.T) {
	assert.Empty(t, turnStats(&session.TurnResult{}))

	res := &session.TurnResult{
		Model:   "openai/gpt-4o-mini",
		Usage:   &model.Usage{Latency: 1500 * time.Millisecond, CompletionTokens: 42},
		Routing: &model.Routing{FromModel: "anthropic/claude-3.5-sonnet"},
	}
	stats := turnStats(res)
	assert.Contains(t, stats, "openai/gpt-4o-mini")
	assert.Contains(t, stats, "42 tokens")
	assert.Contains(t, stats, "fallback from anthropic/claude-3.5-sonnet")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"config", &ConfigError{Err: errors.New("bad")}, ExitConfigError},
		{"usage", &UsageError{Message: "bad flag"}, ExitUsageError},
		{"not found", fmt.Errorf("x: %w", storage.ErrConversationNotFound), ExitNotFoundError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"auth", fmt.Errorf("wrapped (%w)", &errclass.Error{Category: errclass.MissingCredential}), ExitAuthError},
		{"network", &errclass.Error{Category: errclass.Network}, ExitNetworkError},
		{"server", &errclass.Error{Category: errclass.ServerUnavailable}, ExitNetworkError},
		{"timeout", &errclass.Error{Category: errclass.Timeout}, ExitTimeoutError},
		{"model", &errclass.Error{Category: errclass.InvalidModel}, ExitNotFoundError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "a,b", formatValue([]string{"a", "b"}))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "1.5", formatValue(1.5))
}

// =============================================================================
// TURN PRINTER
// =============================================================================

func newBufferPrinter(quiet bool) (*turnPrinter, *bytes.Buffer) {
	var buf bytes.Buffer
	return &turnPrinter{out: &buf, width: 80, quiet: quiet, errors: true}, &buf
}

func TestTurnPrinter_PrintsDeltas(t *testing.T) {
	p, buf := newBufferPrinter(false)
	p.handle(session.Event{Kind: session.EventDisplay, Text: "Hel"})
	p.handle(session.Event{Kind: session.EventDisplay, Text: "Hello"})
	p.handle(session.Event{Kind: session.EventDisplay, Text: "Hello world", Final: true})
	p.handle(session.Event{Kind: session.EventTurnEnded, Result: &session.TurnResult{Model: "m/x"}})

	assert.Equal(t, "Hello world\nm/x\n", buf.String())
}

func TestTurnPrinter_NoticeAndError(t *testing.T) {
	p, buf := newBufferPrinter(true)
	p.handle(session.Event{Kind: session.EventDisplay, Text: "partial"})
	p.handle(session.Event{Kind: session.EventNotice, Text: "Response stopped."})
	p.handle(session.Event{Kind: session.EventMessageAppended, Message: &model.Message{
		Role: model.RoleAssistant, Content: "Rate limited.", IsError: true,
	}})
	p.handle(session.Event{Kind: session.EventTurnEnded, Result: &session.TurnResult{Model: "m/x", Cancelled: true}})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "partial\n[Response stopped.]\n"), out)
	assert.Contains(t, out, "[Error] Rate limited.")
	assert.NotContains(t, out, "m/x")
}

func TestTurnPrinter_SuppressedErrors(t *testing.T) {
	p, buf := newBufferPrinter(false)
	p.errors = false
	p.handle(session.Event{Kind: session.EventMessageAppended, Message: &model.Message{
		Role: model.RoleAssistant, Content: "bad", IsError: true,
	}})
	assert.Empty(t, buf.String())
}

func TestTurnPrinter_RestartsOnNonPrefix(t *testing.T) {
	p, buf := newBufferPrinter(true)
	p.handle(session.Event{Kind: session.EventDisplay, Text: "abc"})
	p.handle(session.Event{Kind: session.EventDisplay, Text: "xyz"})
	assert.Equal(t, "abc\r\x1b[Jxyz", buf.String())
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestAsk_StreamsReplyAndSaves(t *testing.T) {
	api := &fakeOpenRouter{}
	startServer(t, api)

	out, err := runCLI(t, "", "ask", "Say", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "openai/gpt-4o-mini")
	assert.Equal(t, "Say hello", api.lastPrompt())

	list, err := runCLI(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, list, "Conversations:")
	assert.Contains(t, list, "Say hello")
}

func TestAsk_AppendsPipedInput(t *testing.T) {
	api := &fakeOpenRouter{}
	startServer(t, api)

	_, err := runCLI(t, "line one\nline two\n", "ask", "-q", "Summarize")
	require.NoError(t, err)
	assert.Equal(t, "Summarize\n\nline one\nline two", api.lastPrompt())
}

func TestAsk_NoStream(t *testing.T) {
	api := &fakeOpenRouter{}
	startServer(t, api)

	out, err := runCLI(t, "", "ask", "--no-stream", "hi")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
}

func TestAsk_AuthFailureExitCode(t *testing.T) {
	api := &fakeOpenRouter{status: http.StatusUnauthorized}
	startServer(t, api)

	_, err := runCLI(t, "", "ask", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitAuthError, ExitCode(err))
}

func TestAsk_BadBudgetFlag(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "", "ask", "--budget", "lavish", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestAsk_InvalidConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[turn]\nbudget_mode = \"lavish\"\n"), 0600))

	_, err := runCLI(t, "", "-c", path, "ask", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestHistory_ShowsConversationByPrefix(t *testing.T) {
	api := &fakeOpenRouter{}
	dir := startServer(t, api)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"),
		[]byte("[storage]\nbackend = \"json\"\n"), 0600))

	_, err := runCLI(t, "", "ask", "-q", "What is two plus two?")
	require.NoError(t, err)

	store, err := storage.Open(storage.BackendJSON, filepath.Join(dir, "conversations"))
	require.NoError(t, err)
	convs, err := store.ListConversations(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, convs, 1)

	out, err := runCLI(t, "", "history", convs[0].ID[:10])
	require.NoError(t, err)
	assert.Contains(t, out, "What is two plus two?")
	assert.Contains(t, out, "Hello")

	_, err = runCLI(t, "", "history", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, ExitCode(err))
}

func TestModels_ListsRankedCatalog(t *testing.T) {
	startServer(t, &fakeOpenRouter{})

	out, err := runCLI(t, "", "models", "--budget", "free-first")
	require.NoError(t, err)
	assert.Contains(t, out, "Models (free-first)")
	free := strings.Index(out, "meta/llama-free")
	paid := strings.Index(out, "openai/gpt-4o-mini")
	require.True(t, free >= 0 && paid >= 0, out)
	assert.Less(t, free, paid, "free models rank first")

	out, err = runCLI(t, "", "models", "--multimodal")
	require.NoError(t, err)
	assert.NotContains(t, out, "meta/llama-free")
	assert.Contains(t, out, "* openai/gpt-4o-mini")
}

func TestConfig_SetGet(t *testing.T) {
	dir := isolate(t)
	t.Setenv("RIGCHAT_API_KEY", "sk-or-from-env")

	_, err := runCLI(t, "", "config", "set", "turn.budget_mode", "quality-first")
	require.NoError(t, err)

	out, err := runCLI(t, "", "config", "get", "turn.budget_mode")
	require.NoError(t, err)
	assert.Equal(t, "quality-first\n", out)

	// Environment values are applied at load time, never written back.
	data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-or-from-env")

	_, err = runCLI(t, "", "config", "set", "turn.budget_mode", "lavish")
	require.Error(t, err)

	_, err = runCLI(t, "", "config", "get", "cloud.api_key")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestConfig_KeysAndShow(t *testing.T) {
	isolate(t)
	t.Setenv("RIGCHAT_API_KEY", "sk-or-secret")

	out, err := runCLI(t, "", "config", "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "turn.model")
	assert.Contains(t, out, "typewriter.speed")

	out, err = runCLI(t, "", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-or-secret")
	assert.Contains(t, out, config.DefaultModel)
}

func TestChat_RequiresTerminal(t *testing.T) {
	if IsTTY() {
		t.Skip("stdin is a terminal")
	}
	isolate(t)
	_, err := runCLI(t, "", "chat")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestRankMatchesRouter(t *testing.T) {
	mode, err := router.ParseBudgetMode("cost-effective")
	require.NoError(t, err)
	assert.Equal(t, "cost-effective", mode.String())
}
