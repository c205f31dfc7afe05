package policy

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/disiqueira/gotree/v3"
)

// A policy is a list of rules, tried in order, and an optional default:
//
//	# take ether for bitcoin only at 0.09 BTC per ETH or more
//	ACCEPT Bitcoin -> Ethereum IF rate >= 0.09 AND source <= 2
//	DECLINE Ethereum -> Bitcoin
//	DEFAULT DECLINE
//
// The first rule whose direction and conditions all hold decides. Without
// a matching rule the default applies, DECLINE when there is none.

var policyLexer = lexer.MustSimple([]lexer.Rule{
	{Name: `Keyword`, Pattern: `\b(ACCEPT|DECLINE|DEFAULT|IF|AND)\b`},
	{Name: `Ident`, Pattern: `[a-zA-Z][a-zA-Z0-9_]*`},
	{Name: `Number`, Pattern: `\d+(?:\.\d+)?`},
	{Name: `Arrow`, Pattern: `->`},
	{Name: `Operator`, Pattern: `==|!=|>=|<=|>|<`},
	{Name: "comment", Pattern: `#[^\n]*`},
	{Name: "whitespace", Pattern: `\s+`},
})

// File is the syntax tree of a policy.
type File struct {
	Rules   []*Rule  `parser:"@@*"`
	Default *Verdict `parser:"( 'DEFAULT' @@ )?"`
}

type Rule struct {
	Pos lexer.Position

	Verdict    Verdict      `parser:"@@"`
	Source     string       `parser:"@Ident"`
	Target     string       `parser:"'->' @Ident"`
	Conditions []*Condition `parser:"( 'IF' @@ ( 'AND' @@ )* )?"`
}

type Verdict struct {
	Accept  bool `parser:"  @'ACCEPT'"`
	Decline bool `parser:"| @'DECLINE'"`
}

type Condition struct {
	Pos lexer.Position

	Field string `parser:"@Ident"`
	Op    string `parser:"@Operator"`
	Value string `parser:"@Number"`
}

var policyParser = participle.MustBuild(&File{},
	participle.Lexer(policyLexer),
)

// Parse reads the policy source without checking field or ledger names.
func Parse(name, src string) (File, error) {
	file := &File{}
	err := policyParser.ParseString(name, src, file)
	return *file, err
}

func (v Verdict) String() string {
	if v.Accept {
		return "ACCEPT"
	}
	return "DECLINE"
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s -> %s", r.Verdict, r.Source, r.Target)
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Value)
}

// Display renders a policy as a tree, convenient for debug
func Display(file File) string {
	root := gotree.New("Policy")
	for _, rule := range file.Rules {
		node := root.Add(rule.String())
		if len(rule.Conditions) == 0 {
			node.Add("always")
		}
		for _, cond := range rule.Conditions {
			node.Add(cond.String())
		}
	}
	fallback := "DECLINE"
	if file.Default != nil {
		fallback = file.Default.String()
	}
	root.Add("DEFAULT " + fallback)
	return root.Print()
}

// Source prints the policy back in its own syntax.
func (f File) Source() string {
	out := new(strings.Builder)
	for _, rule := range f.Rules {
		out.WriteString(rule.String())
		for i, cond := range rule.Conditions {
			if i == 0 {
				out.WriteString(" IF ")
			} else {
				out.WriteString(" AND ")
			}
			out.WriteString(cond.String())
		}
		out.WriteString("\n")
	}
	if f.Default != nil {
		out.WriteString("DEFAULT " + f.Default.String() + "\n")
	}
	return out.String()
}
