package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) handle(_ context.Context, line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, string(line))
	return nil
}

func (c *collector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestReadLines(t *testing.T) {
	c := &collector{}
	input := "{\"a\":1}\n\n  {\"b\":2}  \n{\"c\":3}"
	require.NoError(t, ReadLines(context.Background(), strings.NewReader(input), c.handle))
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, c.get())
}

func TestReadLines_StopsOnContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := ReadLines(ctx, strings.NewReader("1\n2\n3\n"), func(ctx context.Context, _ []byte) error {
		calls++
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("first\nsec"), 0o600))

	c := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, path, c.handle, nil) }()

	assert.Eventually(t, func() bool { return len(c.get()) == 1 }, 3*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("ond\nthird\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool { return len(c.get()) == 3 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "third"}, c.get())

	cancel()
	require.NoError(t, <-done)
}

func TestFollow_MissingFile(t *testing.T) {
	err := Follow(context.Background(), filepath.Join(t.TempDir(), "nope"), func(context.Context, []byte) error { return nil }, nil)
	assert.Error(t, err)
}
