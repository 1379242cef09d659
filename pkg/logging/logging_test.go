package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryTransport captures records for assertions.
type memoryTransport struct {
	mu      sync.Mutex
	records []LogRecord
	flushes int
}

func (t *memoryTransport) Name() string { return "memory" }

func (t *memoryTransport) Log(ctx context.Context, rec *LogRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, *rec)
	return nil
}

func (t *memoryTransport) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushes++
	return nil
}

func (t *memoryTransport) all() []LogRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]LogRecord, len(t.records))
	copy(out, t.records)
	return out
}

func TestLogger_LevelFiltering(t *testing.T) {
	ctx := context.Background()
	mem := &memoryTransport{}
	logger := NewLogger(LevelInfo, mem)

	logger.Debug(ctx, "dropped", nil)
	logger.Info(ctx, "kept", map[string]interface{}{"k": "v"})
	logger.Error(ctx, "also kept", nil)

	records := mem.all()
	require.Len(t, records, 2)
	assert.Equal(t, "kept", records[0].Message)
	assert.Equal(t, "v", records[0].Fields["k"])
	assert.Equal(t, LevelError, records[1].Level)

	logger.SetLevel(LevelDebug)
	logger.Debug(ctx, "now visible", nil)
	assert.Len(t, mem.all(), 3)
}

func TestLogger_FanOut(t *testing.T) {
	ctx := context.Background()
	first := &memoryTransport{}
	second := &memoryTransport{}

	logger := NewLogger(LevelInfo, first)
	logger.AddTransport(second)

	logger.Info(ctx, "broadcast", nil)
	assert.Len(t, first.all(), 1)
	assert.Len(t, second.all(), 1)

	logger.Flush(ctx)
	assert.Equal(t, 1, first.flushes)
	assert.Equal(t, 1, second.flushes)
}

func TestFileTransport(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agentdeck.log")

	ft, err := NewFileTransport(path)
	require.NoError(t, err)

	logger := NewLogger(LevelInfo, ft)
	logger.Info(ctx, "first", map[string]interface{}{"n": 1})
	logger.Warn(ctx, "second", nil)
	logger.Flush(ctx)
	require.NoError(t, ft.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var messages []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec LogRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		messages = append(messages, rec.Message)
	}
	assert.Equal(t, []string{"first", "second"}, messages)
}
