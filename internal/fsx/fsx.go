// Package fsx provides Alto's filesystem abstraction: a uniform get/put/
// list/exists surface over local or remote object stores, shared
// process-wide and safe for concurrent reads. Writes to the same path are
// serialized by the caller, not by this package (per spec.md §4.1).
//
// Concrete remote drivers (S3/GCS/Azure) are an external collaborator per
// the system's scope — this package only defines the interface and ships
// the two drivers cheap enough to exercise in-tree: a home-rooted local
// driver and an OCI-image-layout driver that's genuinely content-addressed
// and runs fully offline.
package fsx

import (
	"context"
	"io"
	"time"
)

// FS is the uniform filesystem handle every Alto subsystem depends on.
type FS interface {
	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)
	// Get reads the full content at path.
	Get(ctx context.Context, path string) ([]byte, error)
	// Put writes data at path, creating or overwriting it.
	Put(ctx context.Context, path string, data []byte) error
	// List returns every path with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Remove deletes path. Removing a path that doesn't exist is not an error.
	Remove(ctx context.Context, path string) error
	// OpenRead returns a streaming reader for path.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)
	// OpenWrite returns a streaming writer for path. The write is only
	// guaranteed visible to other callers once Close returns nil.
	OpenWrite(ctx context.Context, path string) (io.WriteCloser, error)
	// MTime returns the last-modified time of path.
	MTime(ctx context.Context, path string) (time.Time, error)
}

// CopyLocal streams a path from src to a local destination path on dst.
func CopyLocal(ctx context.Context, src FS, srcPath string, dst FS, dstPath string) error {
	r, err := src.OpenRead(ctx, srcPath)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := dst.OpenWrite(ctx, dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
