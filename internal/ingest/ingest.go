// Package ingest reads newline-delimited runner notifications from streams
// and files.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MaxLineSize bounds a single notification.
const MaxLineSize = 16 << 20

// Handler receives one notification. Returning an error stops reading only
// when it is a context error; other errors are the caller's to log.
type Handler func(ctx context.Context, line []byte) error

// ReadLines calls fn for every non-empty line of r until EOF or ctx is done.
func ReadLines(ctx context.Context, r io.Reader, fn Handler) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(ctx, bytes.Clone(line)); err != nil && isContextErr(err) {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read notifications: %w", err)
	}
	return nil
}

// Follow reads path like ReadLines and then keeps reading lines appended to
// it until ctx is done. A trailing line without a newline is held back
// until it is completed.
func Follow(ctx context.Context, path string, fn Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so that editors and runners that replace the
	// file are noticed too.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	t := &tail{r: bufio.NewReaderSize(f, 64*1024), fn: fn}
	if err := t.drain(ctx); err != nil {
		return err
	}

	target := filepath.Clean(path)
	// Polling covers file systems that drop events.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := t.drain(ctx); err != nil {
				return err
			}

		case <-ticker.C:
			if err := t.drain(ctx); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

type tail struct {
	r       *bufio.Reader
	partial []byte
	fn      Handler
}

// drain delivers every complete line currently readable.
func (t *tail) drain(ctx context.Context) error {
	for {
		chunk, err := t.r.ReadBytes('\n')
		t.partial = append(t.partial, chunk...)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read notifications: %w", err)
		}
		if len(t.partial) > MaxLineSize {
			return fmt.Errorf("read notifications: line exceeds %d bytes", MaxLineSize)
		}

		line := bytes.TrimSpace(t.partial)
		t.partial = t.partial[:0]
		if len(line) == 0 {
			continue
		}
		if err := t.fn(ctx, bytes.Clone(line)); err != nil && isContextErr(err) {
			return err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
