package agentproc

import (
	"encoding/json"
	"time"

	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// claudeBackend drives the Claude Code CLI in stream-json print mode.
//
// The CLI emits one JSON object per line: a system/init record carrying the
// session id and tool list, assistant records whose message content is an
// array of text/thinking/tool_use blocks, user records carrying tool_result
// blocks, and a final result record with duration/cost/usage.
type claudeBackend struct {
	cfg appconfig.BackendConfig
}

func (b *claudeBackend) Name() string { return b.cfg.Name }

func (b *claudeBackend) TurnArgs(spec TurnSpec) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if spec.SessionID != "" {
		args = append(args, "--resume", spec.SessionID)
	}
	if spec.ContextPath != "" {
		args = append(args, "--append-system-prompt-file", spec.ContextPath)
	}
	args = append(args, b.cfg.ExtraArgs...)
	args = append(args, spec.Prompt)
	return args
}

func (b *claudeBackend) ProbeArgs(sessionID string) []string {
	// Listing session metadata is cheap and exits non-zero for unknown ids.
	return []string{"--resume", sessionID, "--print", "--output-format", "json", "--max-turns", "0"}
}

// claudeLine is the wire shape shared by all Claude stream-json records.
type claudeLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	CWD       string `json:"cwd,omitempty"`

	Tools []string `json:"tools,omitempty"`

	Message *struct {
		Content []claudeBlock `json:"content"`
		Usage   *claudeUsage  `json:"usage,omitempty"`
	} `json:"message,omitempty"`

	// result record fields
	DurationMS int64        `json:"duration_ms,omitempty"`
	CostUSD    float64      `json:"total_cost_usd,omitempty"`
	NumTurns   int          `json:"num_turns,omitempty"`
	IsError    bool         `json:"is_error,omitempty"`
	Result     string       `json:"result,omitempty"`
	Usage      *claudeUsage `json:"usage,omitempty"`
}

type claudeBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Thinking  string                 `json:"thinking,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
	Content   json.RawMessage        `json:"content,omitempty"`
}

type claudeUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
}

func (u *claudeUsage) toUsage() *types.TokenUsage {
	if u == nil {
		return nil
	}
	return &types.TokenUsage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		TotalTokens:         u.InputTokens + u.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens,
	}
}

func (b *claudeBackend) DecodeLine(line []byte) ([]types.AgentEvent, error) {
	var rec claudeLine
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	switch rec.Type {
	case "system":
		if rec.Subtype != "init" {
			return nil, nil
		}
		return []types.AgentEvent{{
			Type: types.EventInit,
			Meta: &types.StreamMeta{
				Model:     rec.Model,
				SessionID: rec.SessionID,
				Tools:     rec.Tools,
				Workdir:   rec.CWD,
			},
		}}, nil

	case "assistant":
		if rec.Message == nil {
			return nil, nil
		}
		var events []types.AgentEvent
		for _, block := range rec.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events = append(events, types.AgentEvent{Type: types.EventText, Text: block.Text})
				}
			case "thinking":
				if block.Thinking != "" {
					events = append(events, types.AgentEvent{Type: types.EventThinking, Text: block.Thinking})
				}
			case "tool_use":
				events = append(events, types.AgentEvent{
					Type: types.EventToolUse,
					ToolUse: &types.ToolUse{
						ID:        block.ID,
						Name:      block.Name,
						Input:     block.Input,
						Timestamp: now,
					},
				})
			}
		}
		if usage := rec.Message.Usage.toUsage(); usage != nil {
			events = append(events, types.AgentEvent{Type: types.EventUsage, Usage: usage})
		}
		return events, nil

	case "user":
		if rec.Message == nil {
			return nil, nil
		}
		var events []types.AgentEvent
		for _, block := range rec.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			events = append(events, types.AgentEvent{
				Type: types.EventToolResult,
				ToolResult: &types.ToolResult{
					ToolUseID: block.ToolUseID,
					IsError:   block.IsError,
					Content:   decodeResultContent(block.Content),
					Timestamp: now,
				},
			})
		}
		return events, nil

	case "result":
		ev := types.AgentEvent{
			Type: types.EventResult,
			Result: &types.TurnResult{
				DurationMS: rec.DurationMS,
				CostUSD:    rec.CostUSD,
				NumTurns:   rec.NumTurns,
				IsError:    rec.IsError,
			},
		}
		if rec.IsError {
			return []types.AgentEvent{
				{Type: types.EventError, Text: rec.Result},
				ev,
			}, nil
		}
		events := []types.AgentEvent{ev}
		if usage := rec.Usage.toUsage(); usage != nil {
			events = append(events, types.AgentEvent{Type: types.EventUsage, Usage: usage})
		}
		return events, nil
	}

	// Unknown record types (progress, file-history-snapshot, ...) are valid
	// but uninteresting.
	return nil, nil
}

// decodeResultContent flattens tool_result content, which may be a plain
// string or an array of text blocks.
func decodeResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}
	return string(raw)
}
