// Package streaming reads documents either in one buffered call or as a
// chunked, cancellable stream, picked by file size.
package streaming

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
)

const (
	defaultThreshold = 1 << 20 // 1 MiB: below this a single buffered read wins
	defaultChunkSize = 64 << 10
)

// Progress is invoked after each streamed chunk with cumulative bytes read
// and the total expected size.
type Progress func(bytesRead, totalBytes int64)

// Result describes a completed read.
type Result struct {
	Content     []byte
	WasStreamed bool
	Duration    time.Duration
	BytesRead   int64
}

// Reader decides between buffered and streamed reads. All paths run through
// the guard owned by the underlying fileops layer.
type Reader struct {
	ops       *fileops.Ops
	threshold int64
	chunkSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithThreshold sets the size above which reads are streamed.
func WithThreshold(n int64) Option {
	return func(r *Reader) {
		if n > 0 {
			r.threshold = n
		}
	}
}

// WithChunkSize sets the streamed chunk size.
func WithChunkSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithTimeout bounds a single streamed read. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) { r.timeout = d }
}

// New creates a Reader on top of ops. A nil ops would bypass the allowed-root
// guarantee, so New panics.
func New(ops *fileops.Ops, logger *slog.Logger, opts ...Option) *Reader {
	if ops == nil {
		panic("streaming: fileops layer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reader{
		ops:       ops,
		threshold: defaultThreshold,
		chunkSize: defaultChunkSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns the content of rel, streaming when its stat size meets the
// threshold. progress may be nil.
func (r *Reader) Read(ctx context.Context, rel string, progress Progress) (*Result, error) {
	start := time.Now()

	info, err := r.ops.Stat(ctx, rel)
	if err != nil {
		return nil, err
	}

	if info.Size() < r.threshold {
		data, err := r.ops.Read(ctx, rel)
		if err != nil {
			return nil, err
		}
		return &Result{
			Content:   data,
			Duration:  time.Since(start),
			BytesRead: int64(len(data)),
		}, nil
	}

	data, err := r.stream(ctx, rel, info, progress)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("streaming: streamed read",
		slog.String("path", rel),
		slog.Int64("bytes", int64(len(data))),
		slog.Duration("duration", time.Since(start)))
	return &Result{
		Content:     data,
		WasStreamed: true,
		Duration:    time.Since(start),
		BytesRead:   int64(len(data)),
	}, nil
}

// stream reads the file in fixed-size chunks, checking cancellation between
// chunks and honouring the configured timeout.
func (r *Reader) stream(ctx context.Context, rel string, info fs.FileInfo, progress Progress) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	abs, err := r.ops.Resolve("read", rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, &fileops.Error{Code: fileops.CodeReadFile, Op: "read", Path: rel, Err: err}
	}
	defer f.Close()

	buf := make([]byte, 0, info.Size())
	chunk := make([]byte, r.chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			code := fileops.CodeReadFile
			if errors.Is(err, context.DeadlineExceeded) {
				code = fileops.CodeTimeout
			}
			return nil, &fileops.Error{Code: code, Op: "read", Path: rel, Err: err}
		}
		n, readErr := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			total += int64(n)
			if progress != nil {
				progress(total, info.Size())
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return buf, nil
			}
			return nil, &fileops.Error{Code: fileops.CodeReadFile, Op: "read", Path: rel, Err: readErr}
		}
	}
}
