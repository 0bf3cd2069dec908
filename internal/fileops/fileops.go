// Package fileops provides retry-safe file operations scoped to the bank root.
// Every call validates its path through the guard before any I/O, wraps
// failures into typed *Error values, and retries transient faults with
// bounded exponential backoff.
package fileops

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sm-moshi/aimemory-sub003/internal/pathguard"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 50 * time.Millisecond
	defaultMaxDelay    = 2 * time.Second
)

// Ops performs guarded, retrying file operations under a single allowed root.
type Ops struct {
	root        string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
}

// Option configures an Ops instance.
type Option func(*Ops)

// WithRetry overrides the attempt count and backoff bounds.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) Option {
	return func(o *Ops) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			o.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			o.maxDelay = maxDelay
		}
	}
}

// New creates an Ops rooted at root. An empty root is a programming error:
// it would silently permit unrestricted file access, so New panics instead
// of degrading.
func New(root string, logger *slog.Logger, opts ...Option) *Ops {
	if root == "" {
		panic("fileops: allowed root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Ops{
		root:        root,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Root returns the allowed root directory.
func (o *Ops) Root() string { return o.root }

// Resolve runs the path guard without touching the file system.
func (o *Ops) Resolve(op, rel string) (string, error) {
	abs, err := pathguard.Validate(rel, o.root)
	if err != nil {
		o.logger.Warn("fileops: path rejected",
			slog.String("op", op),
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return "", &Error{Code: CodePathValidation, Op: op, Path: rel, Err: err}
	}
	return abs, nil
}

// Read returns the full content of rel.
func (o *Ops) Read(ctx context.Context, rel string) ([]byte, error) {
	abs, err := o.Resolve("read", rel)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = o.withRetry(ctx, "read", rel, func() error {
		var readErr error
		data, readErr = os.ReadFile(abs)
		return readErr
	})
	if err != nil {
		return nil, o.wrap("read", rel, CodeReadFile, err)
	}
	return data, nil
}

// Write atomically writes content to rel: temp file, fsync, rename. Parent
// directories are created as needed.
func (o *Ops) Write(ctx context.Context, rel string, content []byte) error {
	abs, err := o.Resolve("write", rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := o.withRetry(ctx, "write", rel, func() error {
		return os.MkdirAll(dir, 0o755)
	}); err != nil {
		return o.wrap("write", rel, CodeMkdir, err)
	}
	if err := o.withRetry(ctx, "write", rel, func() error {
		return atomicWrite(dir, abs, content)
	}); err != nil {
		return o.wrap("write", rel, CodeWriteFile, err)
	}
	return nil
}

// Stat returns file info for rel.
func (o *Ops) Stat(ctx context.Context, rel string) (fs.FileInfo, error) {
	abs, err := o.Resolve("stat", rel)
	if err != nil {
		return nil, err
	}
	var info fs.FileInfo
	err = o.withRetry(ctx, "stat", rel, func() error {
		var statErr error
		info, statErr = os.Stat(abs)
		return statErr
	})
	if err != nil {
		return nil, o.wrap("stat", rel, CodeReadFile, err)
	}
	return info, nil
}

// Mkdir creates the directory rel. With recursive it behaves like mkdir -p.
func (o *Ops) Mkdir(ctx context.Context, rel string, recursive bool) error {
	abs, err := o.Resolve("mkdir", rel)
	if err != nil {
		return err
	}
	err = o.withRetry(ctx, "mkdir", rel, func() error {
		if recursive {
			return os.MkdirAll(abs, 0o755)
		}
		return os.Mkdir(abs, 0o755)
	})
	if err != nil {
		return o.wrap("mkdir", rel, CodeMkdir, err)
	}
	return nil
}

// Access reports whether rel exists and is reachable.
func (o *Ops) Access(ctx context.Context, rel string) error {
	abs, err := o.Resolve("access", rel)
	if err != nil {
		return err
	}
	err = o.withRetry(ctx, "access", rel, func() error {
		_, statErr := os.Stat(abs)
		return statErr
	})
	if err != nil {
		return o.wrap("access", rel, CodeReadFile, err)
	}
	return nil
}

// Remove deletes the file at rel.
func (o *Ops) Remove(ctx context.Context, rel string) error {
	abs, err := o.Resolve("remove", rel)
	if err != nil {
		return err
	}
	err = o.withRetry(ctx, "remove", rel, func() error {
		return os.Remove(abs)
	})
	if err != nil {
		return o.wrap("remove", rel, CodeWriteFile, err)
	}
	return nil
}

// Fingerprint returns the cache-invalidation fingerprint for a file: its
// modification time at nanosecond resolution.
func Fingerprint(info fs.FileInfo) int64 {
	return info.ModTime().UnixNano()
}

// withRetry runs fn, retrying transient failures with capped exponential
// backoff. Non-transient failures return immediately.
func (o *Ops) withRetry(ctx context.Context, op, rel string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := o.backoff(ctx, attempt-1); err != nil {
				return lastErr
			}
			o.logger.Debug("fileops: retrying",
				slog.String("op", op),
				slog.String("path", rel),
				slog.Int("attempt", attempt+1))
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (o *Ops) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(o.baseDelay) * math.Pow(2, float64(attempt)))
	if delay > o.maxDelay {
		delay = o.maxDelay
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wrap converts err into a typed *Error, mapping well-known OS failures onto
// their codes so retries exhausted on ENOENT still report FILE_NOT_FOUND.
func (o *Ops) wrap(op, rel string, fallback Code, err error) error {
	code := fallback
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = CodeFileNotFound
	case errors.Is(err, fs.ErrPermission):
		code = CodePermission
	}
	return &Error{Code: code, Op: op, Path: rel, Err: err}
}

// isTransient reports whether err is worth another attempt. Missing files and
// permission failures never heal on their own; resource-pressure errnos can.
func isTransient(err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrExist) {
		return false
	}
	for _, errno := range []syscall.Errno{
		syscall.EAGAIN, syscall.EBUSY, syscall.EINTR, syscall.EMFILE, syscall.ENFILE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// atomicWrite writes content next to abs and renames it into place.
func atomicWrite(dir, abs string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".membank-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return err
	}
	success = true
	return nil
}
