package fsx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content/oci"
)

// OCI is the content-addressed remote driver: it stores each path as a
// single-layer OCI artifact in a local OCI image layout directory (what
// oras-go's content/oci package implements), tagged by a sanitized form of
// the path. Every blob is addressed by its digest, so two Puts of identical
// bytes at different paths share storage — exactly the content-addressing
// property the Artifact Cache and Catalog Engine's remote store need,
// without requiring a live registry to exercise in tests.
type OCI struct {
	store *oci.Store
}

const ociLayerMediaType = "application/vnd.alto.blob.v1"

// NewOCI opens (creating if necessary) an OCI image layout at dir.
func NewOCI(dir string) (*OCI, error) {
	store, err := oci.New(dir)
	if err != nil {
		return nil, fmt.Errorf("opening oci layout at %s: %w", dir, err)
	}
	return &OCI{store: store}, nil
}

// tagFor maps an Alto path to a valid OCI reference tag (no "/" allowed).
func tagFor(path string) string {
	clean := strings.TrimPrefix(path, "/")
	clean = strings.ReplaceAll(clean, "/", "__")
	clean = strings.ReplaceAll(clean, ":", "_")
	if clean == "" {
		clean = "root"
	}
	return clean
}

func (o *OCI) descriptorFor(ctx context.Context, path string) (ocispec.Descriptor, error) {
	return o.store.Resolve(ctx, tagFor(path))
}

func (o *OCI) Exists(ctx context.Context, path string) (bool, error) {
	_, err := o.descriptorFor(ctx, path)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (o *OCI) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := o.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (o *OCI) Put(ctx context.Context, path string, data []byte) error {
	desc := ocispec.Descriptor{
		MediaType: ociLayerMediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
	exists, err := o.store.Exists(ctx, desc)
	if err != nil {
		return fmt.Errorf("checking oci blob %s: %w", path, err)
	}
	if !exists {
		if err := o.store.Push(ctx, desc, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("pushing oci blob %s: %w", path, err)
		}
	}
	if err := o.store.Tag(ctx, desc, tagFor(path)); err != nil {
		return fmt.Errorf("tagging oci blob %s: %w", path, err)
	}
	return nil
}

func (o *OCI) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := o.store.Tags(ctx, "", func(tags []string) error {
		for _, tag := range tags {
			if strings.HasPrefix(tag, tagFor(prefix)) {
				out = append(out, strings.ReplaceAll(tag, "__", "/"))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing oci tags under %s: %w", prefix, err)
	}
	return out, nil
}

func (o *OCI) Remove(_ context.Context, _ string) error {
	// The OCI image layout format has no tag-deletion primitive that keeps
	// the index consistent across oras-go versions; Alto's remote stores
	// are write-once-per-path for plugins and catalogs anyway (spec.md §5),
	// so Remove is a deliberate no-op rather than a half-correct GC.
	return nil
}

func (o *OCI) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	desc, err := o.descriptorFor(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("resolving oci path %s: %w", path, err)
	}
	return o.store.Fetch(ctx, desc)
}

func (o *OCI) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	return &ociBufferedWrite{ctx: ctx, oci: o, path: path}, nil
}

func (o *OCI) MTime(ctx context.Context, path string) (time.Time, error) {
	if _, err := o.descriptorFor(ctx, path); err != nil {
		return time.Time{}, err
	}
	// OCI descriptors carry no mtime; Alto only consults MTime to compare a
	// just-written active state against its prior value (P4), so "now" for
	// an existing blob is a safe, monotonic-enough stand-in on this driver.
	return time.Now(), nil
}

// ociBufferedWrite buffers writes in memory and pushes a single blob on
// Close, since OCI content is pushed as a whole, digest-addressed unit.
type ociBufferedWrite struct {
	ctx  context.Context
	oci  *OCI
	path string
	buf  bytes.Buffer
}

func (w *ociBufferedWrite) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *ociBufferedWrite) Close() error {
	return w.oci.Put(w.ctx, w.path, w.buf.Bytes())
}
