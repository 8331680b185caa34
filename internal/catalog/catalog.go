// Package catalog implements the Catalog Engine (spec.md §4.5): building a
// runtime catalog from a tap's discovered base catalog by applying
// selection patterns, PII-hash marking, and metadata overlays.
package catalog

// Catalog is a Singer catalog document: a set of discoverable streams.
type Catalog struct {
	Streams []*Stream `json:"streams"`
}

// Stream is one Singer catalog stream entry.
type Stream struct {
	TapStreamID   string           `json:"tap_stream_id"`
	Schema        map[string]any   `json:"schema"`
	KeyProperties []string         `json:"key_properties,omitempty"`
	Metadata      []MetadataEntry  `json:"metadata"`
}

// MetadataEntry is one entry of a Singer catalog's metadata array: an
// empty Breadcrumb targets the stream itself, a non-empty one targets a
// field (e.g. ["properties", "email"]).
type MetadataEntry struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// StreamByID returns the stream with the given tap_stream_id, if present.
func (c *Catalog) StreamByID(id string) (*Stream, bool) {
	for _, s := range c.Streams {
		if s.TapStreamID == id {
			return s, true
		}
	}
	return nil, false
}

// streamMetadata returns (creating if necessary) the top-level ([])
// metadata entry for the stream.
func (s *Stream) streamMetadata() *MetadataEntry {
	return s.fieldMetadata(nil)
}

// fieldMetadata returns (creating if necessary) the metadata entry for the
// given breadcrumb.
func (s *Stream) fieldMetadata(breadcrumb []string) *MetadataEntry {
	for i := range s.Metadata {
		if breadcrumbEqual(s.Metadata[i].Breadcrumb, breadcrumb) {
			return &s.Metadata[i]
		}
	}
	entry := MetadataEntry{Breadcrumb: breadcrumb, Metadata: map[string]any{}}
	s.Metadata = append(s.Metadata, entry)
	return &s.Metadata[len(s.Metadata)-1]
}

func breadcrumbEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FieldNames returns the top-level property names of the stream's schema,
// used as the candidate set for field-level selection patterns.
func (s *Stream) FieldNames() []string {
	props, ok := s.Schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	return names
}
