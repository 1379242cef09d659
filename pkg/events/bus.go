package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/wordflowlab/agentdeck/pkg/types"
)

// Command is an injected instruction addressed to one agent's terminal, e.g.
// "insert this text and autosend". Delivery is addressed, not broadcast: a
// subscriber only ever sees commands for its own agent id.
type Command struct {
	Text      string    `json:"text"`
	AutoSend  bool      `json:"auto_send"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FileChange notifies workspace observers that files may have changed, either
// because a mutating tool reported a result or because the watcher saw FS
// activity.
type FileChange struct {
	WorkspaceID string    `json:"workspace_id"`
	Paths       []string  `json:"paths,omitempty"`
	ToolName    string    `json:"tool_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Bus routes commands to per-agent channels and file changes to per-workspace
// topics. Sends are non-blocking; a full subscriber buffer drops the event
// rather than stalling a stream.
type Bus struct {
	mu sync.RWMutex

	commandSubs map[types.AgentKey]map[string]chan Command
	fileSubs    map[string]map[string]chan FileChange

	nextSub int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		commandSubs: make(map[types.AgentKey]map[string]chan Command),
		fileSubs:    make(map[string]map[string]chan FileChange),
	}
}

const subBuffer = 16

// SubscribeCommands returns a channel of commands addressed to one agent and
// an unsubscribe function.
func (b *Bus) SubscribeCommands(key types.AgentKey) (<-chan Command, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.subID()
	ch := make(chan Command, subBuffer)
	if b.commandSubs[key] == nil {
		b.commandSubs[key] = make(map[string]chan Command)
	}
	b.commandSubs[key][id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.commandSubs[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.commandSubs, key)
			}
		}
	}
}

// Inject delivers a command to one agent's subscribers. Returns the number of
// subscribers that received it.
func (b *Bus) Inject(key types.AgentKey, cmd Command) int {
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.commandSubs[key] {
		select {
		case ch <- cmd:
			delivered++
		default:
		}
	}
	return delivered
}

// SubscribeFileChanges returns a channel of file-change events for one
// workspace and an unsubscribe function.
func (b *Bus) SubscribeFileChanges(workspaceID string) (<-chan FileChange, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.subID()
	ch := make(chan FileChange, subBuffer)
	if b.fileSubs[workspaceID] == nil {
		b.fileSubs[workspaceID] = make(map[string]chan FileChange)
	}
	b.fileSubs[workspaceID][id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.fileSubs[workspaceID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.fileSubs, workspaceID)
			}
		}
	}
}

// PublishFileChange fans a file-change event out to workspace subscribers.
func (b *Bus) PublishFileChange(ev FileChange) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.fileSubs[ev.WorkspaceID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) subID() string {
	b.nextSub++
	return "sub-" + strconv.Itoa(b.nextSub)
}
