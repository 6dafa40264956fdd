package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepress/engine/internal/common/configtypes"
)

func TestNewFileEmitter_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	nestedPath := filepath.Join(tmpDir, "nested", "dir", "events.log")

	config := configtypes.EventFileConfig{
		Enabled: true,
		Path:    nestedPath,
	}

	emitter, err := NewFileEmitter(config, zap.NewNop())
	require.NoError(t, err)
	defer emitter.Close()

	dir := filepath.Dir(nestedPath)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileEmitter_WritesJSONLines(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "events.log")

	emitter, err := NewFileEmitter(configtypes.EventFileConfig{
		Enabled: true,
		Path:    logPath,
	}, zap.NewNop())
	require.NoError(t, err)
	defer emitter.Close()

	emitter.Emit(&GenerationEvent{
		RequestID:    "req-1",
		DocumentHash: "a1b2c3",
		EventType:    EventTypeGenerated,
		StatusCode:   200,
		Success:      true,
		TotalMs:      1200,
		PageCount:    3,
		PdfSizeBytes: 40960,
		CreatedAt:    time.Now().UTC(),
		ServiceID:    "pdf-1",
	})
	emitter.Emit(&GenerationEvent{
		RequestID:  "req-2",
		EventType:  EventTypeRejected,
		StatusCode: 503,
		ErrorType:  "capacity_exceeded",
		CreatedAt:  time.Now().UTC(),
		ServiceID:  "pdf-1",
	})

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var lines []GenerationEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev GenerationEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	assert.Equal(t, "req-1", lines[0].RequestID)
	assert.Equal(t, EventTypeGenerated, lines[0].EventType)
	assert.True(t, lines[0].Success)
	assert.Equal(t, 3, lines[0].PageCount)
	assert.Equal(t, "req-2", lines[1].RequestID)
	assert.Equal(t, "capacity_exceeded", lines[1].ErrorType)
	assert.False(t, lines[1].Success)
}

type countingEmitter struct {
	emitted int
	closed  bool
}

func (c *countingEmitter) Emit(event *GenerationEvent) { c.emitted++ }
func (c *countingEmitter) Close() error {
	c.closed = true
	return nil
}

func TestMultiEmitter_DispatchesToAll(t *testing.T) {
	a := &countingEmitter{}
	b := &countingEmitter{}
	m := NewMultiEmitter([]EventEmitter{a, b}, zap.NewNop())

	m.Emit(&GenerationEvent{RequestID: "req-1"})
	m.Emit(&GenerationEvent{RequestID: "req-2"})

	assert.Equal(t, 2, a.emitted)
	assert.Equal(t, 2, b.emitted)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNoopEmitter(t *testing.T) {
	n := &NoopEmitter{}
	n.Emit(&GenerationEvent{RequestID: "req-1"})
	assert.NoError(t, n.Close())
}
