package agentproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

func TestNewBackend(t *testing.T) {
	claude, err := NewBackend(appconfig.BackendConfig{Name: "claude", Command: "claude"})
	require.NoError(t, err)
	assert.Equal(t, "claude", claude.Name())

	gemini, err := NewBackend(appconfig.BackendConfig{Name: "gemini", Command: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", gemini.Name())

	_, err = NewBackend(appconfig.BackendConfig{Name: "gpt"})
	assert.Error(t, err)
}

func TestClaudeBackend_TurnArgs(t *testing.T) {
	b := &claudeBackend{cfg: appconfig.BackendConfig{Name: "claude", ExtraArgs: []string{"--model", "sonnet"}}}

	t.Run("fresh session", func(t *testing.T) {
		args := b.TurnArgs(TurnSpec{Prompt: "hello"})
		assert.Equal(t, []string{
			"--print", "--output-format", "stream-json", "--verbose",
			"--model", "sonnet", "hello",
		}, args)
	})

	t.Run("resume and context", func(t *testing.T) {
		args := b.TurnArgs(TurnSpec{Prompt: "hi", SessionID: "sess-1", ContextPath: "/ws/AGENTS.md"})
		assert.Contains(t, args, "--resume")
		assert.Contains(t, args, "sess-1")
		assert.Contains(t, args, "--append-system-prompt-file")
		assert.Equal(t, "hi", args[len(args)-1])
	})
}

func TestClaudeBackend_DecodeLine(t *testing.T) {
	b := &claudeBackend{cfg: appconfig.BackendConfig{Name: "claude"}}

	t.Run("system init", func(t *testing.T) {
		line := `{"type":"system","subtype":"init","session_id":"sess-7","model":"claude-sonnet","cwd":"/ws","tools":["Bash","Read"]}`
		events, err := b.DecodeLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventInit, events[0].Type)
		assert.Equal(t, "sess-7", events[0].Meta.SessionID)
		assert.Equal(t, []string{"Bash", "Read"}, events[0].Meta.Tools)
	})

	t.Run("assistant blocks", func(t *testing.T) {
		line := `{"type":"assistant","message":{"content":[` +
			`{"type":"thinking","thinking":"planning"},` +
			`{"type":"text","text":"I will edit the file."},` +
			`{"type":"tool_use","id":"tu-1","name":"Edit","input":{"file_path":"main.go"}}` +
			`],"usage":{"input_tokens":10,"output_tokens":5}}}`
		events, err := b.DecodeLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 4)
		assert.Equal(t, types.EventThinking, events[0].Type)
		assert.Equal(t, types.EventText, events[1].Type)
		assert.Equal(t, "I will edit the file.", events[1].Text)
		assert.Equal(t, types.EventToolUse, events[2].Type)
		assert.Equal(t, "tu-1", events[2].ToolUse.ID)
		assert.Equal(t, "main.go", events[2].ToolUse.Input["file_path"])
		assert.Equal(t, types.EventUsage, events[3].Type)
		assert.Equal(t, 15, events[3].Usage.TotalTokens)
	})

	t.Run("tool result with string content", func(t *testing.T) {
		line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":"done"}]}}`
		events, err := b.DecodeLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "done", events[0].ToolResult.Content)
	})

	t.Run("tool result with block content", func(t *testing.T) {
		line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":[{"type":"text","text":"part1 "},{"type":"text","text":"part2"}]}]}}`
		events, err := b.DecodeLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "part1 part2", events[0].ToolResult.Content)
	})

	t.Run("successful result", func(t *testing.T) {
		line := `{"type":"result","duration_ms":4200,"total_cost_usd":0.03,"num_turns":2,"usage":{"input_tokens":100,"output_tokens":40}}`
		events, err := b.DecodeLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, types.EventResult, events[0].Type)
		assert.Equal(t, int64(4200), events[0].Result.DurationMS)
		assert.Equal(t, types.EventUsage, events[1].Type)
	})

	t.Run("error result raises an error event first", func(t *testing.T) {
		line := `{"type":"result","is_error":true,"result":"credit exhausted"}`
		events, err := b.DecodeLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, types.EventError, events[0].Type)
		assert.Equal(t, "credit exhausted", events[0].Text)
		assert.True(t, events[1].Result.IsError)
	})

	t.Run("unknown record types are ignored", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"file-history-snapshot","data":{}}`))
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("malformed json errors", func(t *testing.T) {
		_, err := b.DecodeLine([]byte(`{"type":`))
		assert.Error(t, err)
	})
}

func TestGeminiBackend_TurnArgs(t *testing.T) {
	b := &geminiBackend{cfg: appconfig.BackendConfig{Name: "gemini"}}

	args := b.TurnArgs(TurnSpec{Prompt: "fix it", SessionID: "g-1"})
	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, "--yolo=false")
	assert.Equal(t, "fix it", args[len(args)-1])
}

func TestGeminiBackend_DecodeLine(t *testing.T) {
	b := &geminiBackend{cfg: appconfig.BackendConfig{Name: "gemini"}}

	t.Run("init", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"init","session_id":"g-9","model":"gemini-2.5-pro"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "g-9", events[0].Meta.SessionID)
	})

	t.Run("content and thought", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"content","text":"hello"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventText, events[0].Type)

		events, err = b.DecodeLine([]byte(`{"type":"thought","text":"hmm"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventThinking, events[0].Type)
	})

	t.Run("tool call and result", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"tool_call","id":"c-1","name":"write_file","args":{"path":"a.go"}}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "write_file", events[0].ToolUse.Name)

		events, err = b.DecodeLine([]byte(`{"type":"tool_result","call_id":"c-1","output":"written"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "written", events[0].ToolResult.Content)
	})

	t.Run("stats", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"stats","duration_ms":900,"turns":1,"usage":{"input_tokens":50,"output_tokens":20}}`))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, types.EventResult, events[0].Type)
		assert.Equal(t, 70, events[1].Usage.TotalTokens)
	})

	t.Run("model switch on the error channel is a notice", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"error","message":"Switching to gemini-2.5-flash due to quota"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventNotice, events[0].Type)
	})

	t.Run("real errors stay errors", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"error","message":"invalid API key"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventError, events[0].Type)
	})

	t.Run("notice record", func(t *testing.T) {
		events, err := b.DecodeLine([]byte(`{"type":"notice","message":"Falling back to gemini-2.5-flash"}`))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventNotice, events[0].Type)
	})
}
