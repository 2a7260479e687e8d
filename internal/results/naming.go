package results

import (
	"strings"

	"github.com/quay/pipeline-results/internal/model"
)

const nameSeparator = " / "

// HasMultipleBlocks reports whether more than one distinct innermost stage
// or branch directly holds recorded tests. Contributions outside any stage
// count as one block of their own.
func (r *Run) HasMultipleBlocks() bool {
	blocks := make(map[string]bool)
	for _, c := range r.Contributions() {
		if len(c.Suites) == 0 {
			continue
		}
		blocks[r.innermostBlock(c.NodeID)] = true
		if len(blocks) > 1 {
			return true
		}
	}
	return false
}

func (r *Run) innermostBlock(nodeID string) string {
	chain := r.graph.EnclosingContexts(nodeID)
	if len(chain) == 0 {
		return ""
	}
	return chain[len(chain)-1].NodeID
}

// EnclosingNames returns the stage and branch names around the node a case
// was contributed at, outermost first.
func (r *Run) EnclosingNames(c *model.Case) []string {
	nodeID, ok := r.NodeOf(c)
	if !ok {
		return nil
	}
	chain := r.graph.EnclosingContexts(nodeID)
	names := make([]string, 0, len(chain))
	for _, ctx := range chain {
		names = append(names, ctx.Name)
	}
	return names
}

// DisplayName qualifies the case name with its enclosing stages and
// branches, but only when the run spreads its tests over several blocks.
func (r *Run) DisplayName(c *model.Case) string {
	base := c.TransformedName()
	names := r.EnclosingNames(c)
	if len(names) == 0 || !r.HasMultipleBlocks() {
		return base
	}
	return strings.Join(append(names, base), nameSeparator)
}
