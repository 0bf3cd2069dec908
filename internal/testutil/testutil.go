// Package testutil provides shared test helpers for setting up temporary
// memory banks.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
	"github.com/sm-moshi/aimemory-sub003/internal/streaming"
)

// Logger returns a quiet slog logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestBank creates a temporary bank directory with a fileops layer and a
// streaming reader over it.
func TestBank(t *testing.T) (string, *fileops.Ops, *streaming.Reader) {
	t.Helper()
	root := t.TempDir()
	ops := fileops.New(root, Logger())
	reader := streaming.New(ops, Logger())
	return root, ops, reader
}

// WriteDoc writes a document into the bank, failing the test on error.
func WriteDoc(t *testing.T, ops *fileops.Ops, rel, content string) {
	t.Helper()
	if err := ops.Write(context.Background(), rel, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// Doc builds a document with frontmatter and body for fixtures.
func Doc(title, docType string, tags []string, body string) string {
	out := "---\ntitle: " + title + "\n"
	if docType != "" {
		out += "type: " + docType + "\n"
	}
	if len(tags) > 0 {
		out += "tags:\n"
		for _, tag := range tags {
			out += "  - " + tag + "\n"
		}
	}
	out += "---\n" + body
	return out
}
