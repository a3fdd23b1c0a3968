package strip

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single pattern evaluation.
const DefaultMatchTimeout = 5 * time.Second

// Pattern is one compiled rule matched against attribute type full names.
// It uses the .NET regular expression dialect, so configuration files written
// for Unity tooling keep their meaning (lookarounds, backreferences, ...).
type Pattern struct {
	expr string
	re   *regexp2.Regexp
}

// PatternError reports an expression that failed to compile.
type PatternError struct {
	Index int
	Expr  string
	Err   error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("pattern %d %q: %v", e.Index, e.Expr, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// CompilePattern compiles expr with .NET default options. Like Regex.IsMatch,
// the pattern matches anywhere in the name unless anchored.
func CompilePattern(expr string) (*Pattern, error) {
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = DefaultMatchTimeout
	return &Pattern{expr: expr, re: re}, nil
}

// Match reports whether name matches the pattern. An error means the
// evaluation timed out.
func (p *Pattern) Match(name string) (bool, error) {
	ok, err := p.re.MatchString(name)
	if err != nil {
		return false, fmt.Errorf("match %q against %q: %w", name, p.expr, err)
	}
	return ok, nil
}

func (p *Pattern) String() string { return p.expr }

// PatternSet is an ordered list of patterns. Order matters only for
// attribution: an attribute is credited to the first pattern that removes it.
type PatternSet []*Pattern

// CompilePatterns compiles exprs in order, failing on the first invalid one.
func CompilePatterns(exprs []string) (PatternSet, error) {
	set := make(PatternSet, 0, len(exprs))
	for i, expr := range exprs {
		p, err := CompilePattern(expr)
		if err != nil {
			return nil, &PatternError{Index: i, Expr: expr, Err: err}
		}
		set = append(set, p)
	}
	return set, nil
}

// Strings returns the source expressions.
func (s PatternSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.expr
	}
	return out
}
