// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	rootutil "github.com/leapstack-labs/leapreport/internal/testutil"
	"github.com/leapstack-labs/leapreport/pkg/core"
	"github.com/spf13/cobra"
)

// SetupTestProject creates a temporary project directory holding a recorded
// canonical run (run.jsonl) and returns its path.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	WriteNotifications(t, filepath.Join(tmpDir, "run.jsonl"), rootutil.SampleRun()...)
	return tmpDir
}

// WriteNotifications writes events as canonical frames, one per line.
func WriteNotifications(t *testing.T, path string, events ...core.Event) {
	t.Helper()

	var buf bytes.Buffer
	for _, e := range events {
		f, err := e.Frame()
		if err != nil {
			t.Fatalf("failed to frame %s: %v", e.Name, err)
		}
		raw, err := json.Marshal(f)
		if err != nil {
			t.Fatalf("failed to marshal frame: %v", err)
		}
		buf.Write(raw)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// WriteConfig writes a leapreport.yaml into dir and returns its path.
func WriteConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "leapreport.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// ExecuteCommand runs cmd with args and returns what it wrote to stdout and
// stderr.
func ExecuteCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}

// AssertNotContains checks that the string does not contain the substring.
func AssertNotContains(t *testing.T, s, unexpected string) {
	t.Helper()
	if strings.Contains(s, unexpected) {
		t.Errorf("string %q unexpectedly contains %q", s, unexpected)
	}
}
