package streaming

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
)

func testReader(t *testing.T, opts ...Option) (*Reader, *fileops.Ops) {
	t.Helper()
	ops := fileops.New(t.TempDir(), slog.Default())
	return New(ops, slog.Default(), opts...), ops
}

func TestNew_NilOpsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil ops")
		}
	}()
	New(nil, nil)
}

func TestRead_SmallFileBuffered(t *testing.T) {
	r, ops := testReader(t, WithThreshold(1024))
	ctx := context.Background()
	content := []byte("small document\n")
	if err := ops.Write(ctx, "small.md", content); err != nil {
		t.Fatal(err)
	}

	res, err := r.Read(ctx, "small.md", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.WasStreamed {
		t.Error("small file should not stream")
	}
	if !bytes.Equal(res.Content, content) {
		t.Errorf("content = %q", res.Content)
	}
	if res.BytesRead != int64(len(content)) {
		t.Errorf("bytesRead = %d, want %d", res.BytesRead, len(content))
	}
}

func TestRead_LargeFileStreamsWithProgress(t *testing.T) {
	r, ops := testReader(t, WithThreshold(256), WithChunkSize(128))
	ctx := context.Background()
	content := bytes.Repeat([]byte("abcdefgh"), 100) // 800 bytes, > threshold
	if err := ops.Write(ctx, "large.md", content); err != nil {
		t.Fatal(err)
	}

	var calls int
	var last int64
	res, err := r.Read(ctx, "large.md", func(read, total int64) {
		calls++
		last = read
		if total != int64(len(content)) {
			t.Errorf("total = %d, want %d", total, len(content))
		}
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !res.WasStreamed {
		t.Error("large file should stream")
	}
	if !bytes.Equal(res.Content, content) {
		t.Error("streamed content mismatch")
	}
	if calls < 2 {
		t.Errorf("progress calls = %d, want several", calls)
	}
	if last != int64(len(content)) {
		t.Errorf("final progress = %d, want %d", last, len(content))
	}
}

func TestRead_CancelledBetweenChunks(t *testing.T) {
	r, ops := testReader(t, WithThreshold(1), WithChunkSize(64))
	content := bytes.Repeat([]byte("x"), 4096)
	if err := ops.Write(context.Background(), "big.md", content); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Read(ctx, "big.md", nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestRead_TimeoutCode(t *testing.T) {
	r, ops := testReader(t, WithThreshold(1), WithChunkSize(8), WithTimeout(time.Nanosecond))
	content := bytes.Repeat([]byte("y"), 1024)
	ctx := context.Background()
	if err := ops.Write(ctx, "slow.md", content); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond) // let the deadline lapse before the first chunk check

	_, err := r.Read(ctx, "slow.md", nil)
	if fileops.CodeOf(err) != fileops.CodeTimeout {
		t.Errorf("code = %s, want %s", fileops.CodeOf(err), fileops.CodeTimeout)
	}
}

func TestRead_GuardRejection(t *testing.T) {
	r, _ := testReader(t)
	_, err := r.Read(context.Background(), "../outside.md", nil)
	if fileops.CodeOf(err) != fileops.CodePathValidation {
		t.Errorf("code = %s, want %s", fileops.CodeOf(err), fileops.CodePathValidation)
	}
}
