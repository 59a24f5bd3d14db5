package ast

import (
	"strconv"
	"strings"
)

type Pattern interface {
	Node
	patternNode()
}

type WildcardPattern struct{}

func (wp *WildcardPattern) patternNode()   {}
func (wp *WildcardPattern) String() string { return "_" }

// LiteralPattern compares payloads structurally and ignores confidence.
type LiteralPattern struct {
	Value Expression
}

func (lp *LiteralPattern) patternNode()   {}
func (lp *LiteralPattern) String() string { return nodeString(lp.Value) }

// IdentifierPattern always matches and binds the value.
type IdentifierPattern struct {
	Name string
}

func (ip *IdentifierPattern) patternNode()   {}
func (ip *IdentifierPattern) String() string { return ip.Name }

type ListPattern struct {
	Elements []Pattern
	Rest     string // optional binding for the remaining elements
}

func (lp *ListPattern) patternNode() {}
func (lp *ListPattern) String() string {
	parts := make([]string, 0, len(lp.Elements)+1)
	for _, e := range lp.Elements {
		parts = append(parts, e.String())
	}
	if lp.Rest != "" {
		parts = append(parts, "..."+lp.Rest)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FieldPattern with a nil Pattern is the shorthand `{ x }`, binding x.
type FieldPattern struct {
	Name    string
	Pattern Pattern
}

type StructPattern struct {
	Name   string
	Fields []FieldPattern
}

func (sp *StructPattern) patternNode() {}
func (sp *StructPattern) String() string {
	parts := make([]string, 0, len(sp.Fields))
	for _, f := range sp.Fields {
		if f.Pattern == nil {
			parts = append(parts, f.Name)
			continue
		}
		parts = append(parts, f.Name+": "+f.Pattern.String())
	}
	return sp.Name + " { " + strings.Join(parts, ", ") + " }"
}

// RangePattern is `inner ~{lo, hi}`; a nil Inner behaves like a wildcard.
type RangePattern struct {
	Inner Pattern
	Range ConfidenceRange
}

func (rp *RangePattern) patternNode() {}
func (rp *RangePattern) String() string {
	inner := "_"
	if rp.Inner != nil {
		inner = rp.Inner.String()
	}
	return inner + " " + rp.Range.String()
}

// ContextPattern is `in "name" inner`.
type ContextPattern struct {
	Context string
	Inner   Pattern
}

func (cp *ContextPattern) patternNode() {}
func (cp *ContextPattern) String() string {
	inner := "_"
	if cp.Inner != nil {
		inner = cp.Inner.String()
	}
	return "in " + strconv.Quote(cp.Context) + " " + inner
}

type AndPattern struct {
	Left  Pattern
	Right Pattern
}

func (ap *AndPattern) patternNode()   {}
func (ap *AndPattern) String() string { return "(" + ap.Left.String() + " & " + ap.Right.String() + ")" }

type OrPattern struct {
	Left  Pattern
	Right Pattern
}

func (op *OrPattern) patternNode()   {}
func (op *OrPattern) String() string { return "(" + op.Left.String() + " | " + op.Right.String() + ")" }
