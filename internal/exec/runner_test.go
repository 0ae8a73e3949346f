package exec

import (
	"context"
	"strings"
	"testing"
)

func TestRunShell(t *testing.T) {
	r := NewRunner()

	out, err := r.RunShell(context.Background(), "", "echo hello")
	if err != nil {
		t.Fatalf("RunShell() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("output = %q, want hello", out)
	}
}

func TestRunShellNonZeroExit(t *testing.T) {
	r := NewRunner()

	out, err := r.RunShell(context.Background(), "", "echo failing >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(string(out), "failing") {
		t.Errorf("output = %q, want stderr captured", out)
	}
}

func TestRunWorkDir(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner()

	out, err := r.Run(context.Background(), dir, "pwd")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(strings.TrimSpace(string(out)), dir) {
		t.Errorf("pwd output = %q, want %q", out, dir)
	}
}
