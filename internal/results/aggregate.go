package results

import "fmt"

// ResultForNodes merges every contribution recorded at one of nodeIDs or
// anywhere inside them when an id is a stage, branch or other block.
// Unknown ids contribute nothing.
func (r *Run) ResultForNodes(nodeIDs ...string) *TestResult {
	want := make(map[string]bool)
	for _, id := range nodeIDs {
		want[id] = true
		for _, d := range r.graph.Descendants(id) {
			want[d] = true
		}
	}

	var matched []*Contribution
	for _, c := range r.Contributions() {
		if want[c.NodeID] {
			matched = append(matched, c)
		}
	}
	return fromContributions(matched)
}

func (r *Run) ResultForNode(nodeID string) *TestResult {
	return r.ResultForNodes(nodeID)
}

// ResultForBlock is the aggregate of a stage or parallel branch.
func (r *Run) ResultForBlock(blockID string) *TestResult {
	return r.ResultForNodes(blockID)
}

// Result merges the whole run.
func (r *Run) Result() *TestResult {
	return fromContributions(r.Contributions())
}

// RequireResult is Result, but fails with ErrEmptyResult when nothing was
// recorded unless allowEmpty is set.
func (r *Run) RequireResult(allowEmpty bool) (*TestResult, error) {
	contribs := r.Contributions()
	if len(contribs) == 0 && !allowEmpty {
		return nil, fmt.Errorf("%s #%d: %w", r.job, r.number, ErrEmptyResult)
	}
	return fromContributions(contribs), nil
}

// NodesWithTests lists the nodes inside blockID, or blockID itself, that
// recorded contributions, ordered by their first contribution.
func (r *Run) NodesWithTests(blockID string) []string {
	inside := map[string]bool{blockID: true}
	for _, d := range r.graph.Descendants(blockID) {
		inside[d] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, c := range r.Contributions() {
		if inside[c.NodeID] && !seen[c.NodeID] {
			seen[c.NodeID] = true
			out = append(out, c.NodeID)
		}
	}
	return out
}
