package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/swap"
)

var ErrInvalidPolicy = errors.New("invalid policy")

// Fields a condition can test. Quantities are in the asset's main unit,
// e.g. BTC rather than satoshi.
const (
	// FieldRate is the source quantity per unit of target quantity.
	FieldRate = "rate"
	// FieldSource is the quantity the initiator gives.
	FieldSource = "source"
	// FieldTarget is the quantity the initiator asks for.
	FieldTarget = "target"
	// FieldLock is the initiator's lock duration in its ledger's unit.
	FieldLock = "lock"
)

type condition struct {
	text  string
	field string
	cmp   func(int) bool
	value decimal.Decimal
}

type rule struct {
	text       string
	accept     bool
	direction  swap.Direction
	conditions []condition
}

// Policy implements swap.Handler.
type Policy struct {
	file     File
	rules    []rule
	fallback bool
}

// Compile parses src and checks every ledger, field and number in it.
func Compile(name, src string) (*Policy, error) {
	file, err := Parse(name, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	p := &Policy{file: file}
	if file.Default != nil {
		p.fallback = file.Default.Accept
	}
	for _, r := range file.Rules {
		compiled, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		p.rules = append(p.rules, compiled)
	}
	return p, nil
}

// Load compiles the policy file at path.
func Load(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return Compile(path, string(src))
}

func compileRule(r *Rule) (rule, error) {
	source, err := ledger.ParseKind(r.Source)
	if err != nil {
		return rule{}, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, r.Pos, err)
	}
	target, err := ledger.ParseKind(r.Target)
	if err != nil {
		return rule{}, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, r.Pos, err)
	}
	if source == target {
		return rule{}, fmt.Errorf("%w: %s: both sides on %s", ErrInvalidPolicy, r.Pos, source)
	}

	compiled := rule{
		text:      r.String(),
		accept:    r.Verdict.Accept,
		direction: swap.Direction{Source: source, Target: target},
	}
	for _, c := range r.Conditions {
		cond, err := compileCondition(c)
		if err != nil {
			return rule{}, err
		}
		compiled.conditions = append(compiled.conditions, cond)
	}
	return compiled, nil
}

func compileCondition(c *Condition) (condition, error) {
	switch c.Field {
	case FieldRate, FieldSource, FieldTarget, FieldLock:
	default:
		return condition{}, fmt.Errorf("%w: %s: unknown field %q", ErrInvalidPolicy, c.Pos, c.Field)
	}
	value, err := decimal.NewFromString(c.Value)
	if err != nil {
		return condition{}, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, c.Pos, err)
	}

	var cmp func(int) bool
	switch c.Op {
	case "==":
		cmp = func(r int) bool { return r == 0 }
	case "!=":
		cmp = func(r int) bool { return r != 0 }
	case ">":
		cmp = func(r int) bool { return r > 0 }
	case ">=":
		cmp = func(r int) bool { return r >= 0 }
	case "<":
		cmp = func(r int) bool { return r < 0 }
	case "<=":
		cmp = func(r int) bool { return r <= 0 }
	default:
		return condition{}, fmt.Errorf("%w: %s: operator %q", ErrInvalidPolicy, c.Pos, c.Op)
	}
	return condition{text: c.String(), field: c.Field, cmp: cmp, value: value}, nil
}

func field(r swap.Request, name string) (decimal.Decimal, bool) {
	switch name {
	case FieldRate:
		target := r.TargetAsset.Quantity()
		if target.IsZero() {
			return decimal.Decimal{}, false
		}
		return r.SourceAsset.Quantity().Div(target), true
	case FieldSource:
		return r.SourceAsset.Quantity(), true
	case FieldTarget:
		return r.TargetAsset.Quantity(), true
	case FieldLock:
		return decimal.NewFromInt(int64(r.SourceLock)), true
	default:
		return decimal.Decimal{}, false
	}
}

func (c condition) holds(r swap.Request) bool {
	v, ok := field(r, c.field)
	return ok && c.cmp(v.Cmp(c.value))
}

func (ru rule) matches(r swap.Request) bool {
	if r.Direction() != ru.direction {
		return false
	}
	for _, c := range ru.conditions {
		if !c.holds(r) {
			return false
		}
	}
	return true
}

// Handle implements swap.Handler
func (p *Policy) Handle(r swap.Request) swap.Decision {
	for i, ru := range p.rules {
		if !ru.matches(r) {
			continue
		}
		if ru.accept {
			return swap.Accepted()
		}
		return swap.Declined(fmt.Sprintf("rule %d: %s", i+1, ru.text))
	}
	if p.fallback {
		return swap.Accepted()
	}
	return swap.Declined("no rule accepts " + r.Direction().String())
}

// Directions lists the directions some rule may accept.
func (p *Policy) Directions() []swap.Direction {
	seen := make(map[swap.Direction]bool)
	var out []swap.Direction
	for _, ru := range p.rules {
		if ru.accept && !seen[ru.direction] {
			seen[ru.direction] = true
			out = append(out, ru.direction)
		}
	}
	return out
}

func (p *Policy) File() File {
	return p.file
}

func (p *Policy) String() string {
	return Display(p.file)
}
