package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

func TestBus_CommandsAreAddressed(t *testing.T) {
	bus := NewBus()
	alpha := types.AgentKey{WorkspaceID: "ws1", AgentID: "alpha"}
	beta := types.AgentKey{WorkspaceID: "ws1", AgentID: "beta"}

	alphaCh, cancelAlpha := bus.SubscribeCommands(alpha)
	defer cancelAlpha()
	betaCh, cancelBeta := bus.SubscribeCommands(beta)
	defer cancelBeta()

	delivered := bus.Inject(alpha, Command{Text: "run tests", AutoSend: true})
	assert.Equal(t, 1, delivered)

	cmd := <-alphaCh
	assert.Equal(t, "run tests", cmd.Text)
	assert.True(t, cmd.AutoSend)
	assert.False(t, cmd.Timestamp.IsZero())

	// The other agent's subscriber sees nothing.
	select {
	case <-betaCh:
		t.Fatal("command leaked to an unrelated agent")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_InjectWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	delivered := bus.Inject(types.AgentKey{WorkspaceID: "ws1", AgentID: "ghost"}, Command{Text: "hello"})
	assert.Equal(t, 0, delivered)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	key := types.AgentKey{WorkspaceID: "ws1", AgentID: "alpha"}

	ch, cancel := bus.SubscribeCommands(key)
	cancel()

	assert.Equal(t, 0, bus.Inject(key, Command{Text: "late"}))
	select {
	case <-ch:
		t.Fatal("received after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	key := types.AgentKey{WorkspaceID: "ws1", AgentID: "alpha"}

	_, cancel := bus.SubscribeCommands(key)
	defer cancel()

	// Overfill the subscriber buffer; Inject must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subBuffer*2; i++ {
			bus.Inject(key, Command{Text: "burst"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Inject blocked on a full subscriber")
	}
}

func TestBus_FileChangesPerWorkspace(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.SubscribeFileChanges("ws1")
	defer cancel1()
	ch2, cancel2 := bus.SubscribeFileChanges("ws2")
	defer cancel2()

	bus.PublishFileChange(FileChange{WorkspaceID: "ws1", ToolName: "Write", Paths: []string{"main.go"}})

	ev := <-ch1
	assert.Equal(t, "Write", ev.ToolName)
	require.Len(t, ev.Paths, 1)
	assert.False(t, ev.Timestamp.IsZero())

	select {
	case <-ch2:
		t.Fatal("file change leaked to another workspace")
	case <-time.After(20 * time.Millisecond):
	}
}
