// Package rules defines alert rule definitions, the threshold-expression
// language they are written in, and atomic loading of rule files.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Configuration errors surfaced at load time. A failed load leaves any
// previously active rule set untouched.
var (
	ErrInvalidExpression = errors.New("invalid threshold expression")
	ErrInvalidRuleSet    = errors.New("invalid rule set")
	ErrDuplicateRule     = errors.New("duplicate rule name")
)

// FuncKind is the source function of a threshold expression.
type FuncKind string

// Source functions.
const (
	FuncRate     FuncKind = "rate"     // per-second increase of a counter over a window
	FuncValue    FuncKind = "value"    // raw value of a gauge or counter
	FuncQuantile FuncKind = "quantile" // histogram quantile estimate
)

// CmpOp is a comparison operator.
type CmpOp string

// Comparison operators.
const (
	OpGT CmpOp = ">"
	OpGE CmpOp = ">="
	OpLT CmpOp = "<"
	OpLE CmpOp = "<="
	OpEQ CmpOp = "=="
)

// Compare applies the operator to (v, threshold).
func (op CmpOp) Compare(v, threshold float64) bool {
	switch op {
	case OpGT:
		return v > threshold
	case OpGE:
		return v >= threshold
	case OpLT:
		return v < threshold
	case OpLE:
		return v <= threshold
	case OpEQ:
		return v == threshold
	}
	return false
}

// Selector picks instances of one metric family, optionally filtered by
// exact-match label pairs.
type Selector struct {
	Metric   string
	Matchers map[string]string
}

// Matches reports whether an instance's labels satisfy every matcher.
func (s Selector) Matches(labels map[string]string) bool {
	for k, want := range s.Matchers {
		if labels[k] != want {
			return false
		}
	}
	return true
}

// Key returns a canonical identity string for the selector, used to key the
// engine's rolling counter history.
func (s Selector) Key() string {
	if len(s.Matchers) == 0 {
		return s.Metric
	}
	keys := make([]string, 0, len(s.Matchers))
	for k := range s.Matchers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(s.Metric)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, s.Matchers[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Expr is a parsed threshold expression: source OP threshold.
type Expr struct {
	Fn       FuncKind
	Selector Selector
	Window   time.Duration // rate only
	Quantile float64       // quantile only
	Op       CmpOp
	Threshold float64

	text string
}

// String returns the original expression text.
func (e *Expr) String() string { return e.text }

// ParseExpr parses a threshold expression:
//
//	rate(metric{label="v"}, 5m) > 0.5
//	value(metric) <= 100
//	quantile(metric, 0.99) > 2
func ParseExpr(input string) (*Expr, error) {
	p := &exprParser{s: input}
	e, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, input, err)
	}
	e.text = strings.TrimSpace(input)
	return e, nil
}

type exprParser struct {
	s   string
	pos int
}

func (p *exprParser) parse() (*Expr, error) {
	e := &Expr{}

	fn, err := p.ident()
	if err != nil {
		return nil, err
	}
	switch FuncKind(fn) {
	case FuncRate, FuncValue, FuncQuantile:
		e.Fn = FuncKind(fn)
	default:
		return nil, fmt.Errorf("unknown function %q at position %d", fn, p.pos)
	}

	if err := p.expect('('); err != nil {
		return nil, err
	}
	e.Selector, err = p.selector()
	if err != nil {
		return nil, err
	}

	switch e.Fn {
	case FuncRate:
		if err := p.expect(','); err != nil {
			return nil, fmt.Errorf("rate requires a window argument: %v", err)
		}
		e.Window, err = p.duration()
		if err != nil {
			return nil, err
		}
		if e.Window <= 0 {
			return nil, fmt.Errorf("rate window must be positive, got %s", e.Window)
		}
	case FuncQuantile:
		if err := p.expect(','); err != nil {
			return nil, fmt.Errorf("quantile requires a quantile argument: %v", err)
		}
		e.Quantile, err = p.number()
		if err != nil {
			return nil, err
		}
		if e.Quantile <= 0 || e.Quantile >= 1 {
			return nil, fmt.Errorf("quantile must be in (0, 1), got %v", e.Quantile)
		}
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}

	e.Op, err = p.op()
	if err != nil {
		return nil, err
	}
	e.Threshold, err = p.number()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("trailing input at position %d: %q", p.pos, p.s[p.pos:])
	}
	return e, nil
}

func (p *exprParser) selector() (Selector, error) {
	sel := Selector{}
	metric, err := p.ident()
	if err != nil {
		return sel, fmt.Errorf("expected metric name: %v", err)
	}
	sel.Metric = metric

	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == '{' {
		p.pos++
		sel.Matchers = make(map[string]string)
		for {
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == '}' {
				p.pos++
				break
			}
			key, err := p.ident()
			if err != nil {
				return sel, fmt.Errorf("expected label name: %v", err)
			}
			if err := p.expect('='); err != nil {
				return sel, err
			}
			val, err := p.quoted()
			if err != nil {
				return sel, err
			}
			sel.Matchers[key] = val
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == ',' {
				p.pos++
				continue
			}
			if err := p.expect('}'); err != nil {
				return sel, err
			}
			break
		}
	}
	return sel, nil
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == ':' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentRune(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (p *exprParser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	if p.pos >= len(p.s) || !isIdentStart(p.s[p.pos]) {
		return "", fmt.Errorf("expected identifier at position %d", p.pos)
	}
	for p.pos < len(p.s) && isIdentRune(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos], nil
}

func (p *exprParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return fmt.Errorf("expected %q at position %d", string(c), p.pos)
	}
	p.pos++
	return nil
}

func (p *exprParser) quoted() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != '"' {
		return "", fmt.Errorf("expected quoted string at position %d", p.pos)
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\\' && p.pos+1 < len(p.s) {
			sb.WriteByte(p.s[p.pos+1])
			p.pos += 2
			continue
		}
		if c == '"' {
			p.pos++
			return sb.String(), nil
		}
		sb.WriteByte(c)
		p.pos++
	}
	return "", fmt.Errorf("unterminated string at position %d", p.pos)
}

func (p *exprParser) number() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && strings.ContainsRune("+-0123456789.eE", rune(p.s[p.pos])) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", p.pos)
	}
	v, err := strconv.ParseFloat(p.s[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing number %q: %v", p.s[start:p.pos], err)
	}
	return v, nil
}

func (p *exprParser) duration() (time.Duration, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] != ',' && p.s[p.pos] != ')' && p.s[p.pos] != ' ' {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected duration at position %d", p.pos)
	}
	d, err := time.ParseDuration(p.s[start:p.pos])
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %v", p.s[start:p.pos], err)
	}
	return d, nil
}

func (p *exprParser) op() (CmpOp, error) {
	p.skipSpace()
	two := ""
	if p.pos+1 < len(p.s) {
		two = p.s[p.pos : p.pos+2]
	}
	switch two {
	case ">=", "<=", "==":
		p.pos += 2
		return CmpOp(two), nil
	}
	if p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '>':
			p.pos++
			return OpGT, nil
		case '<':
			p.pos++
			return OpLT, nil
		}
	}
	return "", fmt.Errorf("expected comparison operator at position %d", p.pos)
}
