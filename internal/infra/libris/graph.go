package libris

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripImportMarker removes the "ready for import" bibliography entry from a
// holding record graph. The marker is a bibliography reference whose library
// id ends in the configured marker code; clearing it stops the record from
// reappearing in the next incremental export. Everything else in the graph is
// passed through untouched.
//
// The second return value reports whether anything was removed.
func StripImportMarker(graph []byte, marker string) ([]byte, bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(graph, &doc); err != nil {
		return nil, false, fmt.Errorf("strip import marker: parse graph: %w", err)
	}

	nodes, ok := doc["@graph"].([]any)
	if !ok {
		return graph, false, nil
	}

	changed := false
	for _, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			continue
		}
		refs, ok := node["bibliography"].([]any)
		if !ok {
			continue
		}

		kept := make([]any, 0, len(refs))
		for _, ref := range refs {
			if isMarkerRef(ref, marker) {
				changed = true
				continue
			}
			kept = append(kept, ref)
		}
		if len(kept) == 0 {
			delete(node, "bibliography")
		} else {
			node["bibliography"] = kept
		}
	}

	if !changed {
		return graph, false, nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("strip import marker: marshal graph: %w", err)
	}
	return out, true, nil
}

func isMarkerRef(ref any, marker string) bool {
	node, ok := ref.(map[string]any)
	if !ok {
		return false
	}
	if sigel, ok := node["sigel"].(string); ok && sigel == marker {
		return true
	}
	if id, ok := node["@id"].(string); ok && strings.HasSuffix(id, "/library/"+marker) {
		return true
	}
	return false
}
