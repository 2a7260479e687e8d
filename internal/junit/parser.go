package junit

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"

	"github.com/quay/pipeline-results/internal/model"
)

var (
	ErrNoFilesMatched = errors.New("no test report files were found")
	ErrZeroCases      = errors.New("test reports contained no test cases")
)

type xmlTestSuites struct {
	XMLName    xml.Name       `xml:"testsuites"`
	TestSuites []xmlTestSuite `xml:"testsuite"`
}

type xmlTestSuite struct {
	XMLName   xml.Name       `xml:"testsuite"`
	Name      string         `xml:"name,attr"`
	Tests     int            `xml:"tests,attr"`
	Failures  int            `xml:"failures,attr"`
	Errors    int            `xml:"errors,attr"`
	Skipped   int            `xml:"skipped,attr"`
	Time      float64        `xml:"time,attr"`
	TestCases []xmlTestCase  `xml:"testcase"`
	Nested    []xmlTestSuite `xml:"testsuite"`
}

type xmlTestCase struct {
	Name      string      `xml:"name,attr"`
	ClassName string      `xml:"classname,attr"`
	Time      float64     `xml:"time,attr"`
	Failure   *xmlFailure `xml:"failure"`
	Error     *xmlFailure `xml:"error"`
	Skipped   *xmlSkipped `xml:"skipped"`
}

type xmlFailure struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

type xmlSkipped struct {
	Message string `xml:"message,attr"`
}

// ParseFile parses a JUnit XML file. Each returned suite records path as its File.
func ParseFile(path string) ([]*model.Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	suites, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, s := range suites {
		s.File = path
	}
	return suites, nil
}

// Parse parses JUnit XML data. Handles both <testsuites> and bare <testsuite> roots.
// Nested suites are flattened; a suite holding only other suites is dropped.
func Parse(data []byte) ([]*model.Suite, error) {
	// Try <testsuites> first
	var suites xmlTestSuites
	if err := xml.Unmarshal(data, &suites); err == nil && len(suites.TestSuites) > 0 {
		return flatten(suites.TestSuites, nil), nil
	}

	// Try bare <testsuite>
	var suite xmlTestSuite
	if err := xml.Unmarshal(data, &suite); err == nil {
		return flatten([]xmlTestSuite{suite}, nil), nil
	}

	return nil, fmt.Errorf("unrecognized JUnit XML format")
}

func flatten(in []xmlTestSuite, out []*model.Suite) []*model.Suite {
	for _, s := range in {
		if len(s.TestCases) > 0 || len(s.Nested) == 0 {
			out = append(out, convert(s))
		}
		out = flatten(s.Nested, out)
	}
	return out
}

func convert(s xmlTestSuite) *model.Suite {
	cases := make([]*model.Case, 0, len(s.TestCases))
	for _, tc := range s.TestCases {
		c := &model.Case{
			Name:        tc.Name,
			ClassName:   tc.ClassName,
			DurationSec: tc.Time,
		}

		switch {
		case tc.Failure != nil:
			c.Status = model.StatusFailed
			c.FailureMsg = tc.Failure.Message
			c.FailureText = tc.Failure.Text
		case tc.Error != nil:
			c.Status = model.StatusError
			c.FailureMsg = tc.Error.Message
			c.FailureText = tc.Error.Text
		case tc.Skipped != nil:
			c.Status = model.StatusSkipped
			c.FailureMsg = tc.Skipped.Message
		default:
			c.Status = model.StatusPassed
		}
		cases = append(cases, c)
	}

	suite := model.NewSuite(s.Name, cases...)
	suite.DurationSec = s.Time
	return suite
}

// CountCases returns the number of cases across suites.
func CountCases(suites []*model.Suite) int {
	n := 0
	for _, s := range suites {
		n += len(s.Cases)
	}
	return n
}
