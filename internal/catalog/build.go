package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/altorun/alto/internal/alterr"
	"github.com/altorun/alto/internal/plugin"
)

// BuildRuntime derives a runtime catalog from base by applying selection
// patterns (stream- and field-level, with negation and PII-hash marking)
// and metadata overlays, per spec.md §4.5. base is left untouched.
func BuildRuntime(base *Catalog, selectPatterns []string, overlays []plugin.MetadataOverlay) (*Catalog, error) {
	runtime, err := clone(base)
	if err != nil {
		return nil, alterr.NewConfigError("catalog", fmt.Errorf("cloning base catalog: %w", err))
	}

	streamDecisions := SelectStreams(runtime.Streams, selectPatterns)
	for _, s := range runtime.Streams {
		sd := streamDecisions[s.TapStreamID]
		top := s.streamMetadata()
		top.Metadata["selected"] = sd.Selected
		if sd.PIIHash {
			top.Metadata["is-pii-hash"] = true
		}

		fieldDecisions := SelectFields(s, selectPatterns)
		for field, fd := range fieldDecisions {
			fm := s.fieldMetadata([]string{"properties", field})
			fm.Metadata["selected"] = fd.Selected
			if fd.PIIHash {
				fm.Metadata["is-pii-hash"] = true
			}
		}
	}

	for _, overlay := range overlays {
		for _, s := range runtime.Streams {
			matched, err := doublestar.Match(overlay.Pattern, s.TapStreamID)
			if err != nil {
				return nil, alterr.NewConfigError("catalog.metadata", fmt.Errorf("invalid metadata overlay pattern %q: %w", overlay.Pattern, err))
			}
			if !matched {
				continue
			}
			top := s.streamMetadata()
			merged, err := plugin.MergeConfigOverlay(top.Metadata, overlay.Overlay)
			if err != nil {
				return nil, alterr.NewConfigError("catalog.metadata", err)
			}
			top.Metadata = merged
		}
	}

	return runtime, nil
}

// PIIFields returns every "stream.field" candidate across the catalog
// marked is-pii-hash=true, the set the Pipeline Runner consults to decide
// which record values to hash in flight.
func PIIFields(c *Catalog) map[string]bool {
	out := map[string]bool{}
	for _, s := range c.Streams {
		for _, m := range s.Metadata {
			if len(m.Breadcrumb) != 2 || m.Breadcrumb[0] != "properties" {
				continue
			}
			if hashed, _ := m.Metadata["is-pii-hash"].(bool); hashed {
				out[s.TapStreamID+"."+m.Breadcrumb[1]] = true
			}
		}
	}
	return out
}

func clone(c *Catalog) (*Catalog, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out Catalog
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
