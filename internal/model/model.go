package model

import "time"

// Status is the outcome of a single test case.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// IsFailure reports whether the status counts towards the fail count.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

// Suite is the set of cases contributed by one parsed report file.
// A Suite must not be modified after it has been recorded in a run.
type Suite struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	File        string  `json:"file,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	Cases       []*Case `json:"cases"`
}

// NewSuite returns a suite owning cases.
func NewSuite(name string, cases ...*Case) *Suite {
	s := &Suite{Name: name, Cases: cases}
	s.Link()
	return s
}

// Link points every case back at s. Decoders call it after filling Cases.
func (s *Suite) Link() {
	for _, c := range s.Cases {
		c.suite = s
	}
}

type Case struct {
	ClassName   string  `json:"classname"`
	Name        string  `json:"name"`
	DurationSec float64 `json:"duration_sec"`
	Status      Status  `json:"status"`
	FailureMsg  string  `json:"failure_msg,omitempty"`
	FailureText string  `json:"failure_text,omitempty"`

	suite *Suite
}

// Suite returns the suite the case was reported in, or nil if it was never linked.
func (c *Case) Suite() *Suite {
	return c.suite
}

// FullName is the class-qualified test name.
func (c *Case) FullName() string {
	if c.ClassName == "" {
		return c.Name
	}
	return c.ClassName + "." + c.Name
}

// TransformedName is the name shown for the case before any stage or
// branch qualification is applied.
func (c *Case) TransformedName() string {
	return c.FullName()
}

// BuildStatus is the outcome of a pipeline run as decided at the step boundary.
type BuildStatus string

const (
	BuildSuccess  BuildStatus = "SUCCESS"
	BuildUnstable BuildStatus = "UNSTABLE"
	BuildFailure  BuildStatus = "FAILURE"
)

// Valid reports whether b is one of the known statuses.
func (b BuildStatus) Valid() bool {
	switch b {
	case BuildSuccess, BuildUnstable, BuildFailure:
		return true
	}
	return false
}

func (b BuildStatus) rank() int {
	switch b {
	case BuildUnstable:
		return 1
	case BuildFailure:
		return 2
	default:
		return 0
	}
}

// Worse returns whichever of b and other is the more severe status.
func (b BuildStatus) Worse(other BuildStatus) BuildStatus {
	if other.rank() > b.rank() {
		return other
	}
	return b
}

// RunRecord is the metadata kept for a finalized run.
type RunRecord struct {
	ID          int64       `json:"id"`
	Job         string      `json:"job"`
	Number      int         `json:"number"`
	Status      BuildStatus `json:"status"`
	CompletedAt time.Time   `json:"completed_at"`
}
