package model

// GraphNode is the wire form of one execution graph node.
type GraphNode struct {
	ID     string `json:"id" yaml:"id"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Kind   string `json:"kind" yaml:"kind"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ContributionRequest is the body of a record call.
type ContributionRequest struct {
	NodeID string   `json:"node_id"`
	Suites []*Suite `json:"suites"`
}

// StatusReport marks a run with a build status decided outside the
// server, such as a report step that failed before sending anything.
type StatusReport struct {
	Status BuildStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// ResultSummary holds aggregate counts for a set of nodes.
type ResultSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Suites  int `json:"suites"`
}

// CaseView is a case decorated with its run-level display name and trend data.
type CaseView struct {
	NodeID      string `json:"node_id"`
	DisplayName string `json:"display_name"`
	FullName    string `json:"full_name"`
	Status      Status `json:"status"`
	FailureMsg  string `json:"failure_msg,omitempty"`
	FailedSince int    `json:"failed_since,omitempty"`
	Age         int    `json:"age,omitempty"`
}

// BlockResult is the aggregate for a stage or parallel branch.
type BlockResult struct {
	NodeID         string        `json:"node_id"`
	NodesWithTests []string      `json:"nodes_with_tests"`
	Summary        ResultSummary `json:"summary"`
}

type Health struct {
	Score       int    `json:"score"`
	Description string `json:"description"`
}

// RunSummary describes a run as a whole.
type RunSummary struct {
	Job       string        `json:"job"`
	Number    int           `json:"number"`
	Status    BuildStatus   `json:"status"`
	Completed bool          `json:"completed"`
	Health    *Health       `json:"health,omitempty"`
	Summary   ResultSummary `json:"summary"`
}
