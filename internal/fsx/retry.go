package fsx

import (
	"context"
	"io"
	"time"

	"github.com/altorun/alto/internal/alterr"
)

// Retrying wraps an FS so that transient I/O failures are retried with
// exponential backoff before surfacing as alterr.RemoteUnavailable, per
// spec.md §7. It's meant for remote drivers; wrapping Local is harmless but
// unnecessary since local I/O errors are rarely transient.
type Retrying struct {
	inner      FS
	maxElapsed time.Duration
}

// NewRetrying wraps inner with a bounded retry budget.
func NewRetrying(inner FS, maxElapsed time.Duration) *Retrying {
	return &Retrying{inner: inner, maxElapsed: maxElapsed}
}

func (r *Retrying) retry(ctx context.Context, op, path string, fn func() error) error {
	return alterr.Retry(ctx, op, path, r.maxElapsed, fn)
}

func (r *Retrying) Exists(ctx context.Context, path string) (bool, error) {
	var ok bool
	err := r.retry(ctx, "exists", path, func() (e error) {
		ok, e = r.inner.Exists(ctx, path)
		return e
	})
	return ok, err
}

func (r *Retrying) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.retry(ctx, "get", path, func() (e error) {
		data, e = r.inner.Get(ctx, path)
		return e
	})
	return data, err
}

func (r *Retrying) Put(ctx context.Context, path string, data []byte) error {
	return r.retry(ctx, "put", path, func() error {
		return r.inner.Put(ctx, path, data)
	})
}

func (r *Retrying) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	err := r.retry(ctx, "list", prefix, func() (e error) {
		paths, e = r.inner.List(ctx, prefix)
		return e
	})
	return paths, err
}

func (r *Retrying) Remove(ctx context.Context, path string) error {
	return r.retry(ctx, "remove", path, func() error {
		return r.inner.Remove(ctx, path)
	})
}

func (r *Retrying) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := r.retry(ctx, "open_read", path, func() (e error) {
		rc, e = r.inner.OpenRead(ctx, path)
		return e
	})
	return rc, err
}

func (r *Retrying) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	// Not retried: a partially-consumed writer can't be safely retried
	// without buffering. state.Store.Commit writes whole documents through
	// Put, which is retried.
	return r.inner.OpenWrite(ctx, path)
}

func (r *Retrying) MTime(ctx context.Context, path string) (time.Time, error) {
	var t time.Time
	err := r.retry(ctx, "mtime", path, func() (e error) {
		t, e = r.inner.MTime(ctx, path)
		return e
	})
	return t, err
}
