package agentproc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// geminiBackend drives the Gemini CLI in streaming JSON mode.
//
// Its event stream is flatter than Claude's: init, content deltas, thought
// deltas, tool_call/tool_result records and a closing stats record. The CLI
// also emits an informational "Switching to <model>" notice mid-stream when
// it falls back to a lighter model under quota pressure; that notice must
// never be treated as a failure.
type geminiBackend struct {
	cfg appconfig.BackendConfig
}

func (b *geminiBackend) Name() string { return b.cfg.Name }

func (b *geminiBackend) TurnArgs(spec TurnSpec) []string {
	args := []string{"--output-format", "stream-json", "--yolo=false"}
	if spec.SessionID != "" {
		args = append(args, "--resume", spec.SessionID)
	}
	if spec.ContextPath != "" {
		args = append(args, "--context-file", spec.ContextPath)
	}
	args = append(args, b.cfg.ExtraArgs...)
	args = append(args, "--prompt", spec.Prompt)
	return args
}

func (b *geminiBackend) ProbeArgs(sessionID string) []string {
	return []string{"--resume", sessionID, "--list-only"}
}

type geminiLine struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`

	// tool_call / tool_result fields
	ID      string                 `json:"id,omitempty"`
	Name    string                 `json:"name,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	CallID  string                 `json:"call_id,omitempty"`
	IsError bool                   `json:"is_error,omitempty"`
	Output  string                 `json:"output,omitempty"`

	// stats fields
	DurationMS int64 `json:"duration_ms,omitempty"`
	Turns      int   `json:"turns,omitempty"`
	Usage      *struct {
		Input  int `json:"input_tokens"`
		Output int `json:"output_tokens"`
		Cached int `json:"cached_tokens,omitempty"`
	} `json:"usage,omitempty"`
}

func (b *geminiBackend) DecodeLine(line []byte) ([]types.AgentEvent, error) {
	var rec geminiLine
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	switch rec.Type {
	case "init":
		return []types.AgentEvent{{
			Type: types.EventInit,
			Meta: &types.StreamMeta{Model: rec.Model, SessionID: rec.SessionID},
		}}, nil

	case "content":
		if rec.Text == "" {
			return nil, nil
		}
		return []types.AgentEvent{{Type: types.EventText, Text: rec.Text}}, nil

	case "thought":
		if rec.Text == "" {
			return nil, nil
		}
		return []types.AgentEvent{{Type: types.EventThinking, Text: rec.Text}}, nil

	case "tool_call":
		return []types.AgentEvent{{
			Type: types.EventToolUse,
			ToolUse: &types.ToolUse{
				ID:        rec.ID,
				Name:      rec.Name,
				Input:     rec.Args,
				Timestamp: now,
			},
		}}, nil

	case "tool_result":
		return []types.AgentEvent{{
			Type: types.EventToolResult,
			ToolResult: &types.ToolResult{
				ToolUseID: rec.CallID,
				IsError:   rec.IsError,
				Content:   rec.Output,
				Timestamp: now,
			},
		}}, nil

	case "notice":
		return []types.AgentEvent{{Type: types.EventNotice, Text: rec.Message}}, nil

	case "stats":
		events := []types.AgentEvent{{
			Type: types.EventResult,
			Result: &types.TurnResult{
				DurationMS: rec.DurationMS,
				NumTurns:   rec.Turns,
			},
		}}
		if rec.Usage != nil {
			events = append(events, types.AgentEvent{
				Type: types.EventUsage,
				Usage: &types.TokenUsage{
					InputTokens:     rec.Usage.Input,
					OutputTokens:    rec.Usage.Output,
					TotalTokens:     rec.Usage.Input + rec.Usage.Output,
					CacheReadTokens: rec.Usage.Cached,
				},
			})
		}
		return events, nil

	case "error":
		// Quota fallback is announced on the error channel but is not a
		// failure: the CLI keeps going on the substitute model.
		if isModelSwitchNotice(rec.Message) {
			return []types.AgentEvent{{Type: types.EventNotice, Text: rec.Message}}, nil
		}
		return []types.AgentEvent{{Type: types.EventError, Text: rec.Message}}, nil
	}

	return nil, nil
}

func isModelSwitchNotice(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "switching to") || strings.Contains(lower, "falling back to")
}
