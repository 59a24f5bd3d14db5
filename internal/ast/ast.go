package ast

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// The base Node interface
type Node interface {
	String() string
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

type Program struct {
	Statements []Statement
}

func (p *Program) String() string {
	var out bytes.Buffer
	for i, s := range p.Statements {
		if i > 0 {
			out.WriteString("; ")
		}
		out.WriteString(s.String())
	}
	return out.String()
}

// Statements

type LetStatement struct {
	Name     string
	Value    Expression
	Exported bool
}

func (ls *LetStatement) statementNode() {}
func (ls *LetStatement) String() string {
	prefix := "let "
	if ls.Exported {
		prefix = "export let "
	}
	return prefix + ls.Name + " = " + nodeString(ls.Value)
}

type ExpressionStatement struct {
	Expression Expression
}

func (es *ExpressionStatement) statementNode() {}
func (es *ExpressionStatement) String() string { return nodeString(es.Expression) }

type ReturnStatement struct {
	Value Expression // optional
}

func (rs *ReturnStatement) statementNode() {}
func (rs *ReturnStatement) String() string {
	if rs.Value == nil {
		return "return"
	}
	return "return " + rs.Value.String()
}

type BreakStatement struct{}

func (bs *BreakStatement) statementNode() {}
func (bs *BreakStatement) String() string { return "break" }

type ContinueStatement struct{}

func (cs *ContinueStatement) statementNode() {}
func (cs *ContinueStatement) String() string { return "continue" }

type ThrowStatement struct {
	Value Expression
}

func (ts *ThrowStatement) statementNode() {}
func (ts *ThrowStatement) String() string { return "throw " + nodeString(ts.Value) }

type WhileStatement struct {
	Condition Expression
	Body      *BlockStatement
}

func (ws *WhileStatement) statementNode() {}
func (ws *WhileStatement) String() string {
	return "while " + nodeString(ws.Condition) + " " + ws.Body.String()
}

// ForStatement is the three-clause loop. Any clause may be nil.
type ForStatement struct {
	Init      Statement
	Condition Expression
	Update    Expression
	Body      *BlockStatement
}

func (fs *ForStatement) statementNode() {}
func (fs *ForStatement) String() string {
	return fmt.Sprintf("for (%s; %s; %s) %s",
		nodeString(fs.Init), nodeString(fs.Condition), nodeString(fs.Update), fs.Body.String())
}

type ForInStatement struct {
	Variable string
	Iterable Expression
	Body     *BlockStatement
}

func (fs *ForInStatement) statementNode() {}
func (fs *ForInStatement) String() string {
	return "for " + fs.Variable + " in " + nodeString(fs.Iterable) + " " + fs.Body.String()
}

type FunctionDeclaration struct {
	Name       string
	Parameters []string
	Body       *BlockStatement
	IsAsync    bool
	Confidence *float64 // declared result confidence
	Exported   bool
}

func (fd *FunctionDeclaration) statementNode() {}
func (fd *FunctionDeclaration) String() string {
	var out bytes.Buffer
	if fd.Exported {
		out.WriteString("export ")
	}
	if fd.IsAsync {
		out.WriteString("async ")
	}
	out.WriteString("fn " + fd.Name + "(" + strings.Join(fd.Parameters, ", ") + ")")
	if fd.Confidence != nil {
		out.WriteString(" ~> " + formatFloat(*fd.Confidence))
	}
	out.WriteString(" " + fd.Body.String())
	return out.String()
}

type StructField struct {
	Name    string
	Default Expression // optional
}

type StructDeclaration struct {
	Name     string
	Fields   []StructField
	Weight   *float64 // declared confidence weight
	Exported bool
}

func (sd *StructDeclaration) statementNode() {}
func (sd *StructDeclaration) String() string {
	var out bytes.Buffer
	out.WriteString("struct " + sd.Name)
	if sd.Weight != nil {
		out.WriteString(" ~> " + formatFloat(*sd.Weight))
	}
	fields := make([]string, 0, len(sd.Fields))
	for _, f := range sd.Fields {
		if f.Default != nil {
			fields = append(fields, f.Name+" = "+f.Default.String())
		} else {
			fields = append(fields, f.Name)
		}
	}
	out.WriteString(" { " + strings.Join(fields, ", ") + " }")
	return out.String()
}

// TraitDeclaration lists the methods a value must provide (Required) and
// methods supplied once by the trait itself (Defaults).
type TraitDeclaration struct {
	Name     string
	Required []string
	Defaults []*FunctionDeclaration
	Exported bool
}

func (td *TraitDeclaration) statementNode() {}
func (td *TraitDeclaration) String() string {
	parts := make([]string, 0, len(td.Required)+len(td.Defaults))
	for _, r := range td.Required {
		parts = append(parts, "fn "+r)
	}
	for _, d := range td.Defaults {
		parts = append(parts, d.String())
	}
	return "trait " + td.Name + " { " + strings.Join(parts, "; ") + " }"
}

type ImplDeclaration struct {
	Trait   string // empty for inherent methods
	Struct  string
	Methods []*FunctionDeclaration
}

func (id *ImplDeclaration) statementNode() {}
func (id *ImplDeclaration) String() string {
	head := "impl " + id.Struct
	if id.Trait != "" {
		head = "impl " + id.Trait + " for " + id.Struct
	}
	methods := make([]string, 0, len(id.Methods))
	for _, m := range id.Methods {
		methods = append(methods, m.String())
	}
	return head + " { " + strings.Join(methods, "; ") + " }"
}

type ImportSymbol struct {
	Name  string
	Alias string // optional
}

// ImportStatement binds either the listed Symbols or, when Symbols is empty,
// a module handle named Alias (or Module).
type ImportStatement struct {
	Module     string
	Symbols    []ImportSymbol
	Alias      string
	Confidence *float64
}

func (is *ImportStatement) statementNode() {}
func (is *ImportStatement) String() string {
	var out bytes.Buffer
	out.WriteString("import ")
	if len(is.Symbols) > 0 {
		names := make([]string, 0, len(is.Symbols))
		for _, s := range is.Symbols {
			if s.Alias != "" {
				names = append(names, s.Name+" as "+s.Alias)
			} else {
				names = append(names, s.Name)
			}
		}
		out.WriteString("{" + strings.Join(names, ", ") + "} from ")
	}
	out.WriteString(strconv.Quote(is.Module))
	if is.Alias != "" {
		out.WriteString(" as " + is.Alias)
	}
	if is.Confidence != nil {
		out.WriteString(" ~> " + formatFloat(*is.Confidence))
	}
	return out.String()
}

// Expressions

type BlockStatement struct {
	Statements []Statement
}

func (bs *BlockStatement) expressionNode() {}
func (bs *BlockStatement) statementNode()  {}
func (bs *BlockStatement) String() string {
	if bs == nil {
		return "{}"
	}
	parts := make([]string, 0, len(bs.Statements))
	for _, s := range bs.Statements {
		parts = append(parts, s.String())
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

type Identifier struct {
	Value string
}

func (i *Identifier) expressionNode() {}
func (i *Identifier) String() string  { return i.Value }

type NilLiteral struct{}

func (n *NilLiteral) expressionNode() {}
func (n *NilLiteral) String() string  { return "nil" }

type BooleanLiteral struct {
	Value bool
}

func (b *BooleanLiteral) expressionNode() {}
func (b *BooleanLiteral) String() string  { return strconv.FormatBool(b.Value) }

type IntegerLiteral struct {
	Value int64
}

func (il *IntegerLiteral) expressionNode() {}
func (il *IntegerLiteral) String() string  { return strconv.FormatInt(il.Value, 10) }

type FloatLiteral struct {
	Value float64
}

func (fl *FloatLiteral) expressionNode() {}
func (fl *FloatLiteral) String() string  { return formatFloat(fl.Value) }

type StringLiteral struct {
	Value string
}

func (sl *StringLiteral) expressionNode() {}
func (sl *StringLiteral) String() string  { return strconv.Quote(sl.Value) }

type ListLiteral struct {
	Elements []Expression
}

func (ll *ListLiteral) expressionNode() {}
func (ll *ListLiteral) String() string {
	return "[" + joinNodes(ll.Elements) + "]"
}

type MapEntry struct {
	Key   Expression
	Value Expression
}

type MapLiteral struct {
	Entries []MapEntry
}

func (ml *MapLiteral) expressionNode() {}
func (ml *MapLiteral) String() string {
	parts := make([]string, 0, len(ml.Entries))
	for _, e := range ml.Entries {
		parts = append(parts, nodeString(e.Key)+": "+nodeString(e.Value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

type FieldInit struct {
	Name  string
	Value Expression
}

type StructLiteral struct {
	Name   string
	Fields []FieldInit
}

func (sl *StructLiteral) expressionNode() {}
func (sl *StructLiteral) String() string {
	parts := make([]string, 0, len(sl.Fields))
	for _, f := range sl.Fields {
		parts = append(parts, f.Name+": "+nodeString(f.Value))
	}
	return sl.Name + " { " + strings.Join(parts, ", ") + " }"
}

type PrefixExpression struct {
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode() {}
func (pe *PrefixExpression) String() string {
	return "(" + pe.Operator + nodeString(pe.Right) + ")"
}

type InfixExpression struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (ie *InfixExpression) expressionNode() {}
func (ie *InfixExpression) String() string {
	return "(" + nodeString(ie.Left) + " " + ie.Operator + " " + nodeString(ie.Right) + ")"
}

type AssignExpression struct {
	Name  string
	Value Expression
}

func (ae *AssignExpression) expressionNode() {}
func (ae *AssignExpression) String() string  { return ae.Name + " = " + nodeString(ae.Value) }

// FlowExpression is `value ~> confidence`.
type FlowExpression struct {
	Value      Expression
	Confidence Expression
}

func (fe *FlowExpression) expressionNode() {}
func (fe *FlowExpression) String() string {
	return "(" + nodeString(fe.Value) + " ~> " + nodeString(fe.Confidence) + ")"
}

// InContextExpression is `in "name" value`.
type InContextExpression struct {
	Context string
	Value   Expression
}

func (ic *InContextExpression) expressionNode() {}
func (ic *InContextExpression) String() string {
	return "in " + strconv.Quote(ic.Context) + " " + nodeString(ic.Value)
}

type CallExpression struct {
	Function  Expression
	Arguments []Expression
}

func (ce *CallExpression) expressionNode() {}
func (ce *CallExpression) String() string {
	return nodeString(ce.Function) + "(" + joinNodes(ce.Arguments) + ")"
}

type IndexExpression struct {
	Left  Expression
	Index Expression
}

func (ie *IndexExpression) expressionNode() {}
func (ie *IndexExpression) String() string {
	return nodeString(ie.Left) + "[" + nodeString(ie.Index) + "]"
}

type FieldAccess struct {
	Object Expression
	Field  string
}

func (fa *FieldAccess) expressionNode() {}
func (fa *FieldAccess) String() string  { return nodeString(fa.Object) + "." + fa.Field }

type FunctionLiteral struct {
	Parameters []string
	Body       *BlockStatement
	IsAsync    bool
	Confidence *float64
}

func (fl *FunctionLiteral) expressionNode() {}
func (fl *FunctionLiteral) String() string {
	prefix := "fn"
	if fl.IsAsync {
		prefix = "async fn"
	}
	return prefix + "(" + strings.Join(fl.Parameters, ", ") + ") " + fl.Body.String()
}

type IfExpression struct {
	Condition   Expression
	Consequence *BlockStatement
	Alternative *BlockStatement // optional
}

func (ie *IfExpression) expressionNode() {}
func (ie *IfExpression) String() string {
	s := "if " + nodeString(ie.Condition) + " " + ie.Consequence.String()
	if ie.Alternative != nil {
		s += " else " + ie.Alternative.String()
	}
	return s
}

// UncertainArm is one tier of an uncertain if. Either Condition or Threshold
// (or both) may be absent.
type UncertainArm struct {
	Condition Expression
	Threshold *float64
	Body      *BlockStatement
}

func (ua *UncertainArm) String() string {
	var out bytes.Buffer
	if ua.Condition != nil {
		out.WriteString("(" + ua.Condition.String() + ") ")
	}
	if ua.Threshold != nil {
		out.WriteString(">= " + formatFloat(*ua.Threshold) + " ")
	}
	out.WriteString(ua.Body.String())
	return out.String()
}

type UncertainIfExpression struct {
	Subject Expression // optional; measured by condition-less arms
	High    *UncertainArm
	Medium  *UncertainArm
	Low     *BlockStatement
}

func (ui *UncertainIfExpression) expressionNode() {}
func (ui *UncertainIfExpression) String() string {
	var out bytes.Buffer
	out.WriteString("uncertain if ")
	if ui.Subject != nil {
		out.WriteString(ui.Subject.String() + " ")
	}
	if ui.High != nil {
		out.WriteString(ui.High.String())
	}
	if ui.Medium != nil {
		out.WriteString(" medium " + ui.Medium.String())
	}
	if ui.Low != nil {
		out.WriteString(" low " + ui.Low.String())
	}
	return out.String()
}

type MatchArm struct {
	Pattern Pattern
	Guard   Expression // optional
	Body    Expression
}

type MatchExpression struct {
	Value Expression
	Arms  []*MatchArm
}

func (me *MatchExpression) expressionNode() {}
func (me *MatchExpression) String() string {
	arms := make([]string, 0, len(me.Arms))
	for _, a := range me.Arms {
		s := a.Pattern.String()
		if a.Guard != nil {
			s += " if " + a.Guard.String()
		}
		arms = append(arms, s+" => "+nodeString(a.Body))
	}
	return "match " + nodeString(me.Value) + " { " + strings.Join(arms, ", ") + " }"
}

// ConfidenceRange is an inclusive [Low, High] bound on a value's confidence.
type ConfidenceRange struct {
	Low  float64
	High float64
}

func (cr ConfidenceRange) Contains(c float64) bool { return cr.Low <= c && c <= cr.High }

func (cr ConfidenceRange) String() string {
	return "~{" + formatFloat(cr.Low) + ", " + formatFloat(cr.High) + "}"
}

// CatchClause fires when every present filter matches the raised error.
type CatchClause struct {
	Name  string // binding for the error, optional
	Kind  string
	Code  string
	Range *ConfidenceRange
	Guard Expression
	Body  *BlockStatement
}

func (cc *CatchClause) String() string {
	var out bytes.Buffer
	out.WriteString("catch")
	if cc.Name != "" {
		out.WriteString(" " + cc.Name)
	}
	if cc.Kind != "" {
		out.WriteString(" : " + cc.Kind)
	}
	if cc.Code != "" {
		out.WriteString(" code " + strconv.Quote(cc.Code))
	}
	if cc.Range != nil {
		out.WriteString(" " + cc.Range.String())
	}
	if cc.Guard != nil {
		out.WriteString(" if " + cc.Guard.String())
	}
	out.WriteString(" " + cc.Body.String())
	return out.String()
}

type TryExpression struct {
	Body    *BlockStatement
	Catches []*CatchClause
	Finally *BlockStatement // optional
}

func (te *TryExpression) expressionNode() {}
func (te *TryExpression) String() string {
	var out bytes.Buffer
	out.WriteString("try " + te.Body.String())
	for _, c := range te.Catches {
		out.WriteString(" " + c.String())
	}
	if te.Finally != nil {
		out.WriteString(" finally " + te.Finally.String())
	}
	return out.String()
}

type TryConfidenceExpression struct {
	Body           *BlockStatement
	Threshold      Expression // optional, defaults to the current context threshold
	Binding        string     // optional name bound in the arms
	BelowThreshold *BlockStatement
	Uncertain      *BlockStatement
}

func (tc *TryConfidenceExpression) expressionNode() {}
func (tc *TryConfidenceExpression) String() string {
	var out bytes.Buffer
	out.WriteString("try confidence ")
	if tc.Threshold != nil {
		out.WriteString("(" + tc.Threshold.String() + ") ")
	}
	if tc.Binding != "" {
		out.WriteString("as " + tc.Binding + " ")
	}
	out.WriteString(tc.Body.String())
	if tc.BelowThreshold != nil {
		out.WriteString(" below threshold " + tc.BelowThreshold.String())
	}
	if tc.Uncertain != nil {
		out.WriteString(" uncertain " + tc.Uncertain.String())
	}
	return out.String()
}

type ContextExpression struct {
	Name      string
	Threshold *float64
	Sources   []string // nil inherits the parent's sources
	Loosen    bool
	Body      *BlockStatement
}

func (ce *ContextExpression) expressionNode() {}
func (ce *ContextExpression) String() string {
	var out bytes.Buffer
	out.WriteString("context " + strconv.Quote(ce.Name))
	if ce.Threshold != nil {
		out.WriteString(" threshold " + formatFloat(*ce.Threshold))
	}
	if ce.Sources != nil {
		out.WriteString(" sources " + quoteAll(ce.Sources))
	}
	if ce.Loosen {
		out.WriteString(" loosen")
	}
	out.WriteString(" " + ce.Body.String())
	return out.String()
}

type TransitionExpression struct {
	From       string
	To         string
	Confidence float64
	Body       *BlockStatement
}

func (te *TransitionExpression) expressionNode() {}
func (te *TransitionExpression) String() string {
	return "transition from " + strconv.Quote(te.From) + " to " + strconv.Quote(te.To) +
		" ~> " + formatFloat(te.Confidence) + " " + te.Body.String()
}

type VerifyExpression struct {
	Sources []string
	Body    *BlockStatement
}

func (ve *VerifyExpression) expressionNode() {}
func (ve *VerifyExpression) String() string {
	return "verify " + quoteAll(ve.Sources) + " " + ve.Body.String()
}

// AsyncExpression spawns Body as a task and evaluates to its handle.
type AsyncExpression struct {
	Body *BlockStatement
}

func (ae *AsyncExpression) expressionNode() {}
func (ae *AsyncExpression) String() string  { return "async " + ae.Body.String() }

type AwaitExpression struct {
	Value   Expression
	Timeout Expression // optional, milliseconds
}

func (ae *AwaitExpression) expressionNode() {}
func (ae *AwaitExpression) String() string {
	s := "await " + nodeString(ae.Value)
	if ae.Timeout != nil {
		s += " within " + ae.Timeout.String()
	}
	return s
}

func nodeString(n Node) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func joinNodes[T Node](nodes []T) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, n.String())
	}
	return strings.Join(parts, ", ")
}

func quoteAll(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.Quote(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
