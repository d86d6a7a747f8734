package document

import (
	"encoding/json"
	"fmt"

	"github.com/acarl005/stripansi"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// RenderText produces a human-readable unified diff between base and
// target's indented JSON. It is a display companion to Compute/Diff, never
// the authoritative change record; the Diff type is. Output is stripped of
// any ANSI escapes before it is handed back. Neither the engine nor the
// stores call it, and nothing in this module persists its output.
func RenderText(base, target Document) (string, error) {
	before, err := json.MarshalIndent(map[string]any(base), "", "  ")
	if err != nil {
		return "", fmt.Errorf("document: rendering base: %w", err)
	}
	after, err := json.MarshalIndent(map[string]any(target), "", "  ")
	if err != nil {
		return "", fmt.Errorf("document: rendering target: %w", err)
	}
	edits := myers.ComputeEdits(span.URIFromPath("base.json"), string(before), string(after))
	unified := gotextdiff.ToUnified("base.json", "target.json", string(before), edits)
	return stripansi.Strip(fmt.Sprint(unified)), nil
}
