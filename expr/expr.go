// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package expr defines the expression trees of the configuration
// language together with the operations that give them a semantic
// identity: de Bruijn shifting and substitution, beta normalization,
// and alpha normalization.
//
// Expressions are immutable values. Every transformation returns a
// new tree, sharing the subtrees it did not change, so trees may be
// handed to concurrent resolvers without copying.
package expr

import (
	"math"
	"math/big"
	"sort"
)

// Kind is the kind of an expression node.
type Kind int

const (
	// VarKind is a variable reference x@n.
	VarKind Kind = iota
	// LambdaKind is a function \(x : T) -> body.
	LambdaKind
	// PiKind is a function type forall (x : T) -> body.
	PiKind
	// AppKind is function application.
	AppKind
	// LetKind is a let binding.
	LetKind
	// AnnotKind is a type annotation e : T.
	AnnotKind
	// BoolKind is a boolean literal.
	BoolKind
	// NaturalKind is a natural number literal.
	NaturalKind
	// DoubleKind is a double literal.
	DoubleKind
	// TextKind is a text literal.
	TextKind
	// ListKind is a list literal.
	ListKind
	// SomeKind is a present optional value.
	SomeKind
	// RecordKind is a record literal.
	RecordKind
	// RecordTypeKind is a record type.
	RecordTypeKind
	// FieldKind is a field selection e.x.
	FieldKind
	// UnionTypeKind is a union type.
	UnionTypeKind
	// UnionKind is a union literal: an alternative of a union type
	// together with its payload, if any.
	UnionKind
	// MergeKind eliminates unions and optionals.
	MergeKind
	// OpKind is a binary operator.
	OpKind
	// IfKind is a conditional.
	IfKind
	// BuiltinKind is a builtin type, constant, or function.
	BuiltinKind
	// ImportKind is an unresolved import.
	ImportKind

	maxKind
)

var kindNames = [maxKind]string{
	VarKind:        "variable",
	LambdaKind:     "lambda",
	PiKind:         "forall",
	AppKind:        "application",
	LetKind:        "let",
	AnnotKind:      "annotation",
	BoolKind:       "bool",
	NaturalKind:    "natural",
	DoubleKind:     "double",
	TextKind:       "text",
	ListKind:       "list",
	SomeKind:       "some",
	RecordKind:     "record",
	RecordTypeKind: "record type",
	FieldKind:      "field",
	UnionTypeKind:  "union type",
	UnionKind:      "union",
	MergeKind:      "merge",
	OpKind:         "operator",
	IfKind:         "if",
	BuiltinKind:    "builtin",
	ImportKind:     "import",
}

func (k Kind) String() string {
	if k < 0 || k >= maxKind {
		return "unknown"
	}
	return kindNames[k]
}

// Op is a binary operator. Operator values are their opcodes in the
// canonical encoding.
type Op int

const (
	// OpOr is boolean disjunction (||).
	OpOr Op = iota
	// OpAnd is boolean conjunction (&&).
	OpAnd
	// OpEq is boolean equality (==).
	OpEq
	// OpNe is boolean inequality (!=).
	OpNe
	// OpPlus is natural addition (+).
	OpPlus
	// OpTimes is natural multiplication (*).
	OpTimes
	// OpTextAppend is text concatenation (++).
	OpTextAppend
	// OpListAppend is list concatenation (#).
	OpListAppend
	// OpCombine recursively merges record literals (/\).
	OpCombine
	// OpPrefer is right-biased record merge (//).
	OpPrefer
	// OpCombineTypes recursively merges record types (//\\).
	OpCombineTypes

	maxOp
)

var opSymbols = [maxOp]string{
	OpOr:           "||",
	OpAnd:          "&&",
	OpEq:           "==",
	OpNe:           "!=",
	OpPlus:         "+",
	OpTimes:        "*",
	OpTextAppend:   "++",
	OpListAppend:   "#",
	OpCombine:      "/\\",
	OpPrefer:       "//",
	OpCombineTypes: "//\\\\",
}

// String returns the operator's surface syntax.
func (o Op) String() string {
	if o < 0 || o >= maxOp {
		return "?"
	}
	return opSymbols[o]
}

// Valid tells whether o is a defined operator.
func (o Op) Valid() bool {
	return o >= 0 && o < maxOp
}

// A Field is a named member of a record literal, record type or union
// type. Union alternatives without a payload have a nil Expr.
type Field struct {
	Name string
	*Expr
}

// An Expr is a node in an expression tree. Which members are
// meaningful depends on Kind:
//
//	VarKind         Name, Index
//	LambdaKind      Name, Type (binder type), Left (body)
//	PiKind          Name, Type (binder type), Left (body)
//	AppKind         Left (function), Right (argument)
//	LetKind         Name, Type (optional), Right (value), Left (body)
//	AnnotKind       Left, Type
//	BoolKind        Bool
//	NaturalKind     Natural
//	DoubleKind      Double
//	TextKind        Text
//	ListKind        List; Type is the element type of an empty list
//	SomeKind        Left
//	RecordKind      Fields
//	RecordTypeKind  Fields
//	FieldKind       Left, Name
//	UnionTypeKind   Fields
//	UnionKind       Name, Left (payload, optional), Type (the union type)
//	MergeKind       Left (handlers), Right (union), Type (optional)
//	OpKind          Op, Left, Right
//	IfKind          Cond, Left (then), Right (else)
//	BuiltinKind     Name
//	ImportKind      Import
type Expr struct {
	Kind Kind

	Name  string
	Index int
	Op    Op

	Left, Right, Type, Cond *Expr

	Fields []*Field
	List   []*Expr

	Bool    bool
	Natural *big.Int
	Double  float64
	Text    string

	Import *Import
}

// Var returns the variable name@index.
func Var(name string, index int) *Expr {
	return &Expr{Kind: VarKind, Name: name, Index: index}
}

// Lambda returns the function \(name : typ) -> body.
func Lambda(name string, typ, body *Expr) *Expr {
	return &Expr{Kind: LambdaKind, Name: name, Type: typ, Left: body}
}

// Pi returns the function type forall (name : typ) -> body.
func Pi(name string, typ, body *Expr) *Expr {
	return &Expr{Kind: PiKind, Name: name, Type: typ, Left: body}
}

// App returns the application of fn to args, left-associated.
func App(fn *Expr, args ...*Expr) *Expr {
	for _, arg := range args {
		fn = &Expr{Kind: AppKind, Left: fn, Right: arg}
	}
	return fn
}

// Let returns let name : typ = value in body. Typ may be nil.
func Let(name string, typ, value, body *Expr) *Expr {
	return &Expr{Kind: LetKind, Name: name, Type: typ, Right: value, Left: body}
}

// Annot returns e : typ.
func Annot(e, typ *Expr) *Expr {
	return &Expr{Kind: AnnotKind, Left: e, Type: typ}
}

// Bool returns a boolean literal.
func Bool(b bool) *Expr {
	return &Expr{Kind: BoolKind, Bool: b}
}

// Natural returns a natural number literal.
func Natural(n uint64) *Expr {
	return &Expr{Kind: NaturalKind, Natural: new(big.Int).SetUint64(n)}
}

// BigNatural returns a natural number literal with value n, which
// must not be negative.
func BigNatural(n *big.Int) *Expr {
	if n.Sign() < 0 {
		panic("negative natural")
	}
	return &Expr{Kind: NaturalKind, Natural: new(big.Int).Set(n)}
}

// Double returns a double literal.
func Double(f float64) *Expr {
	return &Expr{Kind: DoubleKind, Double: f}
}

// Text returns a text literal.
func Text(s string) *Expr {
	return &Expr{Kind: TextKind, Text: s}
}

// List returns a non-empty list literal.
func List(elems ...*Expr) *Expr {
	if len(elems) == 0 {
		panic("empty list requires an element type")
	}
	return &Expr{Kind: ListKind, List: elems}
}

// EmptyList returns the empty list of elements of type elem.
func EmptyList(elem *Expr) *Expr {
	return &Expr{Kind: ListKind, Type: elem}
}

// Some returns the present optional value e.
func Some(e *Expr) *Expr {
	return &Expr{Kind: SomeKind, Left: e}
}

// Record returns a record literal with the provided fields.
func Record(fields ...*Field) *Expr {
	return &Expr{Kind: RecordKind, Fields: sortFields(fields)}
}

// RecordType returns a record type with the provided fields.
func RecordType(fields ...*Field) *Expr {
	return &Expr{Kind: RecordTypeKind, Fields: sortFields(fields)}
}

// UnionType returns a union type with the provided alternatives.
func UnionType(alts ...*Field) *Expr {
	return &Expr{Kind: UnionTypeKind, Fields: sortFields(alts)}
}

// Union returns alternative name of union type typ, carrying payload
// (which is nil for alternatives without one).
func Union(typ *Expr, name string, payload *Expr) *Expr {
	return &Expr{Kind: UnionKind, Type: typ, Name: name, Left: payload}
}

// Select returns the field selection e.name.
func Select(e *Expr, name string) *Expr {
	return &Expr{Kind: FieldKind, Left: e, Name: name}
}

// Merge returns merge handlers union, with an optional annotation.
func Merge(handlers, union, typ *Expr) *Expr {
	return &Expr{Kind: MergeKind, Left: handlers, Right: union, Type: typ}
}

// Binary returns the operator application left op right.
func Binary(op Op, left, right *Expr) *Expr {
	return &Expr{Kind: OpKind, Op: op, Left: left, Right: right}
}

// If returns if cond then t else f.
func If(cond, t, f *Expr) *Expr {
	return &Expr{Kind: IfKind, Cond: cond, Left: t, Right: f}
}

// Builtin returns the builtin with the given name.
func Builtin(name string) *Expr {
	return &Expr{Kind: BuiltinKind, Name: name}
}

// ImportExpr returns an import node for imp.
func ImportExpr(imp *Import) *Expr {
	return &Expr{Kind: ImportKind, Import: imp}
}

// F is shorthand for a *Field.
func F(name string, e *Expr) *Field {
	return &Field{Name: name, Expr: e}
}

func sortFields(fields []*Field) []*Field {
	sorted := make([]*Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}

// Lookup returns the field named name, if any.
func (e *Expr) Lookup(name string) (*Field, bool) {
	i := sort.Search(len(e.Fields), func(i int) bool { return e.Fields[i].Name >= name })
	if i < len(e.Fields) && e.Fields[i].Name == name {
		return e.Fields[i], true
	}
	return nil, false
}

// Equal tells whether e and f are structurally identical, including
// bound variable names. Use Equivalent to compare expressions up to
// normalization.
func (e *Expr) Equal(f *Expr) bool {
	if e == f {
		return true
	}
	if e == nil || f == nil || e.Kind != f.Kind {
		return false
	}
	switch e.Kind {
	case VarKind:
		return e.Name == f.Name && e.Index == f.Index
	case LambdaKind, PiKind:
		return e.Name == f.Name && e.Type.Equal(f.Type) && e.Left.Equal(f.Left)
	case AppKind:
		return e.Left.Equal(f.Left) && e.Right.Equal(f.Right)
	case LetKind:
		return e.Name == f.Name && e.Type.Equal(f.Type) && e.Right.Equal(f.Right) && e.Left.Equal(f.Left)
	case AnnotKind:
		return e.Left.Equal(f.Left) && e.Type.Equal(f.Type)
	case BoolKind:
		return e.Bool == f.Bool
	case NaturalKind:
		return e.Natural.Cmp(f.Natural) == 0
	case DoubleKind:
		return math.Float64bits(e.Double) == math.Float64bits(f.Double)
	case TextKind:
		return e.Text == f.Text
	case ListKind:
		if len(e.List) != len(f.List) || !e.Type.Equal(f.Type) {
			return false
		}
		for i := range e.List {
			if !e.List[i].Equal(f.List[i]) {
				return false
			}
		}
		return true
	case SomeKind:
		return e.Left.Equal(f.Left)
	case RecordKind, RecordTypeKind, UnionTypeKind:
		if len(e.Fields) != len(f.Fields) {
			return false
		}
		for i := range e.Fields {
			if e.Fields[i].Name != f.Fields[i].Name || !e.Fields[i].Expr.Equal(f.Fields[i].Expr) {
				return false
			}
		}
		return true
	case FieldKind:
		return e.Name == f.Name && e.Left.Equal(f.Left)
	case UnionKind:
		return e.Name == f.Name && e.Left.Equal(f.Left) && e.Type.Equal(f.Type)
	case MergeKind:
		return e.Left.Equal(f.Left) && e.Right.Equal(f.Right) && e.Type.Equal(f.Type)
	case OpKind:
		return e.Op == f.Op && e.Left.Equal(f.Left) && e.Right.Equal(f.Right)
	case IfKind:
		return e.Cond.Equal(f.Cond) && e.Left.Equal(f.Left) && e.Right.Equal(f.Right)
	case BuiltinKind:
		return e.Name == f.Name
	case ImportKind:
		return e.Import.Equal(f.Import)
	}
	return false
}

// mapChildren returns e with each immediate child replaced by fn's
// result. Fn is told whether the child is in the scope of e's binder
// (the bodies of lambdas, foralls and lets). If fn returns every child
// unchanged, mapChildren returns e itself.
func (e *Expr) mapChildren(fn func(child *Expr, bound bool) *Expr) *Expr {
	if e == nil {
		return nil
	}
	var (
		changed bool
		f       = *e
	)
	sub := func(c *Expr, bound bool) *Expr {
		if c == nil {
			return nil
		}
		d := fn(c, bound)
		if d != c {
			changed = true
		}
		return d
	}
	switch e.Kind {
	case LambdaKind, PiKind:
		f.Type = sub(e.Type, false)
		f.Left = sub(e.Left, true)
	case LetKind:
		f.Type = sub(e.Type, false)
		f.Right = sub(e.Right, false)
		f.Left = sub(e.Left, true)
	case AppKind, OpKind:
		f.Left = sub(e.Left, false)
		f.Right = sub(e.Right, false)
	case AnnotKind:
		f.Left = sub(e.Left, false)
		f.Type = sub(e.Type, false)
	case ListKind:
		if len(e.List) > 0 {
			list := make([]*Expr, len(e.List))
			for i := range e.List {
				list[i] = sub(e.List[i], false)
			}
			f.List = list
		}
		f.Type = sub(e.Type, false)
	case SomeKind, FieldKind:
		f.Left = sub(e.Left, false)
	case RecordKind, RecordTypeKind, UnionTypeKind:
		fields := make([]*Field, len(e.Fields))
		for i, field := range e.Fields {
			fields[i] = field
			if field.Expr == nil {
				continue
			}
			if g := sub(field.Expr, false); g != field.Expr {
				fields[i] = &Field{Name: field.Name, Expr: g}
			}
		}
		f.Fields = fields
	case UnionKind:
		f.Left = sub(e.Left, false)
		f.Type = sub(e.Type, false)
	case MergeKind:
		f.Left = sub(e.Left, false)
		f.Right = sub(e.Right, false)
		f.Type = sub(e.Type, false)
	case IfKind:
		f.Cond = sub(e.Cond, false)
		f.Left = sub(e.Left, false)
		f.Right = sub(e.Right, false)
	}
	if !changed {
		return e
	}
	return &f
}

// Walk traverses e in pre-order, calling fn on each node. The
// children of a node are visited only if fn returns true.
func Walk(e *Expr, fn func(*Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	e.mapChildren(func(c *Expr, _ bool) *Expr {
		Walk(c, fn)
		return c
	})
}

// Rewrite returns e with nodes replaced according to fn. Fn is called
// in pre-order; a non-nil result replaces the node (and is not itself
// traversed), while nil descends into the node's children. Subtrees
// without replacements are shared with e.
func Rewrite(e *Expr, fn func(*Expr) *Expr) *Expr {
	if e == nil {
		return nil
	}
	if r := fn(e); r != nil {
		return r
	}
	return e.mapChildren(func(c *Expr, _ bool) *Expr {
		return Rewrite(c, fn)
	})
}

// Imports returns the import nodes of e that are not nested inside
// other imports, in pre-order.
func Imports(e *Expr) []*Expr {
	var imports []*Expr
	Walk(e, func(n *Expr) bool {
		if n.Kind == ImportKind {
			imports = append(imports, n)
			return false
		}
		return true
	})
	return imports
}
