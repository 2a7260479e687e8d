// Package step implements the junit pipeline step: its configuration,
// the snippet form it is written in, and the build status it decides.
package step

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	stepName                 = "junit"
	DefaultHealthScaleFactor = 1.0
)

// JUnitResultsStep is the configuration of one junit step invocation.
type JUnitResultsStep struct {
	TestResults       string  `json:"test_results" yaml:"test_results"`
	AllowEmptyResults bool    `json:"allow_empty_results" yaml:"allow_empty_results"`
	HealthScaleFactor float64 `json:"health_scale_factor" yaml:"health_scale_factor"`
}

// New returns a step reading testResults with every other option at its default.
func New(testResults string) JUnitResultsStep {
	return JUnitResultsStep{TestResults: testResults, HealthScaleFactor: DefaultHealthScaleFactor}
}

// Snippet renders the step the way it is written in a pipeline script.
// Options at their default are omitted and the rest are named in
// alphabetical order.
func (s JUnitResultsStep) Snippet() string {
	var args []string
	if s.AllowEmptyResults {
		args = append(args, "allowEmptyResults: true")
	}
	if s.HealthScaleFactor != DefaultHealthScaleFactor {
		args = append(args, "healthScaleFactor: "+formatFloat(s.HealthScaleFactor))
	}
	if len(args) == 0 {
		return stepName + " " + quote(s.TestResults)
	}
	args = append(args, "testResults: "+quote(s.TestResults))
	return stepName + " " + strings.Join(args, ", ")
}

func (s JUnitResultsStep) String() string {
	return s.Snippet()
}

// ParseSnippet reads a step back from its script form. Both the bare
// `junit 'pattern'` and the named argument form are accepted, with or
// without parentheses.
func ParseSnippet(snippet string) (JUnitResultsStep, error) {
	rest := strings.TrimSpace(snippet)
	after, ok := strings.CutPrefix(rest, stepName)
	if !ok || (after != "" && after[0] != ' ' && after[0] != '\t' && after[0] != '(') {
		return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: not a %s step", snippet, stepName)
	}
	rest = strings.TrimSpace(after)
	if strings.HasPrefix(rest, "(") {
		if !strings.HasSuffix(rest, ")") {
			return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: unbalanced parentheses", snippet)
		}
		rest = strings.TrimSpace(rest[1 : len(rest)-1])
	}

	args, err := splitArgs(rest)
	if err != nil {
		return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: %w", snippet, err)
	}

	s := New("")
	if len(args) == 1 && args[0].key == "" {
		s.TestResults, err = unquote(args[0].value)
		if err != nil {
			return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: %w", snippet, err)
		}
		return s, nil
	}

	seen := make(map[string]bool)
	for _, a := range args {
		if a.key == "" {
			return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: positional argument mixed with named ones", snippet)
		}
		if seen[a.key] {
			return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: duplicate argument %s", snippet, a.key)
		}
		seen[a.key] = true

		switch a.key {
		case "testResults":
			s.TestResults, err = unquote(a.value)
		case "allowEmptyResults":
			s.AllowEmptyResults, err = strconv.ParseBool(a.value)
		case "healthScaleFactor":
			s.HealthScaleFactor, err = strconv.ParseFloat(a.value, 64)
		default:
			err = fmt.Errorf("unknown argument %s", a.key)
		}
		if err != nil {
			return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: %s: %w", snippet, a.key, err)
		}
	}
	if !seen["testResults"] {
		return JUnitResultsStep{}, fmt.Errorf("parse snippet %q: testResults is required", snippet)
	}
	return s, nil
}

type arg struct {
	key   string
	value string
}

// splitArgs splits a comma separated argument list, leaving quoted
// strings intact.
func splitArgs(s string) ([]arg, error) {
	var (
		out     []arg
		cur     strings.Builder
		inQuote bool
		escaped bool
	)
	flush := func() error {
		item := strings.TrimSpace(cur.String())
		cur.Reset()
		if item == "" {
			return fmt.Errorf("empty argument")
		}
		if strings.HasPrefix(item, "'") {
			out = append(out, arg{value: item})
			return nil
		}
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			return fmt.Errorf("malformed argument %q", item)
		}
		out = append(out, arg{key: strings.TrimSpace(key), value: strings.TrimSpace(value)})
		return nil
	}

	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case inQuote && r == '\\':
			escaped = true
		case r == '\'':
			inQuote = !inQuote
		case !inQuote && r == ',':
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		cur.WriteRune(r)
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", fmt.Errorf("expected a single quoted string, got %s", s)
	}
	r := strings.NewReplacer(`\\`, `\`, `\'`, `'`)
	return r.Replace(s[1 : len(s)-1]), nil
}

// formatFloat always keeps a fractional part, so 2 renders as 2.0.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
