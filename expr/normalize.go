// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package expr

import (
	"fmt"
	"math/big"

	"github.com/grailbio/canon/errors"
)

// DefaultMaxSteps is the default normalization step budget.
const DefaultMaxSteps = 100000

// A Normalizer reduces expressions to beta normal form. The zero
// Normalizer uses DefaultMaxSteps and does not eta-reduce. Normalizers
// carry no state between calls and may be used concurrently.
type Normalizer struct {
	// MaxSteps bounds the number of beta reductions (function
	// applications and let substitutions) a single call may perform.
	// Non-positive values select DefaultMaxSteps.
	MaxSteps int
	// Eta enables eta reduction: \(x : T) -> f x becomes f when x
	// does not occur free in f.
	Eta bool
}

// Normalize returns the normal form of e using the zero Normalizer.
func Normalize(e *Expr) (*Expr, error) {
	return new(Normalizer).Normalize(e)
}

// Equivalent tells whether e and f have alpha-equal normal forms.
func Equivalent(e, f *Expr) (bool, error) {
	var n Normalizer
	ne, err := n.Normalize(e)
	if err != nil {
		return false, err
	}
	nf, err := n.Normalize(f)
	if err != nil {
		return false, err
	}
	return AlphaNormalize(ne).Equal(AlphaNormalize(nf)), nil
}

// normError carries a normalization failure to the top of the
// recursion.
type normError struct{ err error }

type normState struct {
	*Normalizer
	max, steps int
}

// Normalize returns the beta normal form of e: functions are applied,
// lets inlined, annotations removed, and operators, builtins,
// selections, conditionals and merges reduced where their operands
// allow. Free variables and imports are left in place. Normalize
// fails with errors.ResourcesExhausted when the step budget runs out
// and with errors.Invalid when literals are combined in ways that
// cannot be well-typed.
func (n *Normalizer) Normalize(e *Expr) (norm *Expr, err error) {
	s := &normState{Normalizer: n, max: n.MaxSteps}
	if s.max <= 0 {
		s.max = DefaultMaxSteps
	}
	defer func() {
		if v := recover(); v != nil {
			ne, ok := v.(normError)
			if !ok {
				panic(v)
			}
			norm, err = nil, ne.err
		}
	}()
	return s.norm(e), nil
}

func (s *normState) step() {
	s.steps++
	if s.steps > s.max {
		panic(normError{errors.E("normalize", errors.ResourcesExhausted,
			errors.Errorf("exceeded budget of %d reduction steps", s.max))})
	}
}

func (s *normState) invalid(format string, args ...interface{}) {
	panic(normError{errors.E("normalize", errors.Invalid, errors.Errorf(format, args...))})
}

// literalKinds are the kinds whose type is evident from their form.
var literalKinds = map[Kind]bool{
	LambdaKind:     true,
	PiKind:         true,
	BoolKind:       true,
	NaturalKind:    true,
	DoubleKind:     true,
	TextKind:       true,
	ListKind:       true,
	SomeKind:       true,
	RecordKind:     true,
	RecordTypeKind: true,
	UnionTypeKind:  true,
	UnionKind:      true,
}

// checkLiteral fails if e is a literal of a kind other than want.
func (s *normState) checkLiteral(what string, e *Expr, want Kind) {
	if literalKinds[e.Kind] && e.Kind != want {
		s.invalid("%s: expected %s, got %s %s", what, want, e.Kind, e)
	}
}

func (s *normState) norm(e *Expr) *Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case VarKind, BoolKind, NaturalKind, DoubleKind, TextKind, BuiltinKind, ImportKind:
		return e
	case LambdaKind:
		typ, body := s.norm(e.Type), s.norm(e.Left)
		if s.Eta && body.Kind == AppKind {
			if v := body.Right; v.Kind == VarKind && v.Name == e.Name && v.Index == 0 && !FreeIn(e.Name, 0, body.Left) {
				return Shift(-1, e.Name, 0, body.Left)
			}
		}
		return Lambda(e.Name, typ, body)
	case PiKind:
		return Pi(e.Name, s.norm(e.Type), s.norm(e.Left))
	case AppKind:
		return s.apply(s.norm(e.Left), s.norm(e.Right))
	case LetKind:
		s.step()
		return s.norm(s.instantiate(e.Name, e.Right, e.Left))
	case AnnotKind:
		return s.norm(e.Left)
	case ListKind:
		if len(e.List) == 0 {
			return EmptyList(s.norm(e.Type))
		}
		return e.mapChildren(func(c *Expr, _ bool) *Expr { return s.norm(c) })
	case SomeKind:
		return Some(s.norm(e.Left))
	case RecordKind, RecordTypeKind, UnionTypeKind, UnionKind:
		return e.mapChildren(func(c *Expr, _ bool) *Expr { return s.norm(c) })
	case FieldKind:
		return s.selectField(s.norm(e.Left), e.Name)
	case MergeKind:
		return s.merge(s.norm(e.Left), s.norm(e.Right), e.Type)
	case OpKind:
		return s.op(e.Op, s.norm(e.Left), s.norm(e.Right))
	case IfKind:
		return s.cond(s.norm(e.Cond), e.Left, e.Right)
	}
	panic(fmt.Sprintf("normalize: unknown expression kind %d", e.Kind))
}

// instantiate substitutes value for the variable bound by a binder
// named x in body, removing the binder.
func (s *normState) instantiate(x string, value, body *Expr) *Expr {
	return Shift(-1, x, 0, Subst(x, 0, Shift(1, x, 0, value), body))
}

// apply reduces the application of the normal fn to the normal arg.
func (s *normState) apply(fn, arg *Expr) *Expr {
	switch fn.Kind {
	case LambdaKind:
		s.step()
		return s.norm(s.instantiate(fn.Name, arg, fn.Left))
	case FieldKind:
		if fn.Left.Kind == UnionTypeKind {
			return Union(fn.Left, fn.Name, arg)
		}
	case BoolKind, NaturalKind, DoubleKind, TextKind, ListKind, SomeKind,
		RecordKind, RecordTypeKind, UnionTypeKind, UnionKind, PiKind:
		s.invalid("cannot apply %s %s", fn.Kind, fn)
	}
	app := App(fn, arg)
	if r := s.reduceBuiltin(app); r != nil {
		return r
	}
	return app
}

func (s *normState) selectField(r *Expr, name string) *Expr {
	switch r.Kind {
	case RecordKind:
		f, ok := r.Lookup(name)
		if !ok {
			s.invalid("record %s has no field %q", r, name)
		}
		return f.Expr
	case UnionTypeKind:
		alt, ok := r.Lookup(name)
		if !ok {
			s.invalid("union type %s has no alternative %q", r, name)
		}
		if alt.Expr == nil {
			return Union(r, name, nil)
		}
	case OpKind:
		// (l // {..., name = v}).name is v; otherwise the selection
		// passes through to l.
		if r.Op == OpPrefer && r.Right.Kind == RecordKind {
			if f, ok := r.Right.Lookup(name); ok {
				return f.Expr
			}
			return s.selectField(r.Left, name)
		}
	case BoolKind, NaturalKind, DoubleKind, TextKind, ListKind, SomeKind,
		RecordTypeKind, UnionKind, LambdaKind, PiKind:
		s.invalid("cannot select field %q from %s %s", name, r.Kind, r)
	}
	return Select(r, name)
}

func (s *normState) merge(handlers, union, typ *Expr) *Expr {
	s.checkLiteral("merge handlers", handlers, RecordKind)
	var (
		name    string
		payload *Expr
	)
	switch {
	case union.Kind == UnionKind:
		name, payload = union.Name, union.Left
	case union.Kind == SomeKind:
		name, payload = "Some", union.Left
	case union.Kind == AppKind && union.Left.Kind == BuiltinKind && union.Left.Name == "None":
		name = "None"
	default:
		if union.Kind != UnionKind && literalKinds[union.Kind] {
			s.invalid("cannot merge %s %s", union.Kind, union)
		}
		return Merge(handlers, union, s.norm(typ))
	}
	if handlers.Kind != RecordKind {
		return Merge(handlers, union, s.norm(typ))
	}
	h, ok := handlers.Lookup(name)
	if !ok {
		s.invalid("merge: no handler for alternative %q", name)
	}
	if payload == nil {
		return h.Expr
	}
	return s.apply(h.Expr, payload)
}

func (s *normState) cond(c, t, f *Expr) *Expr {
	if c.Kind == BoolKind {
		if c.Bool {
			return s.norm(t)
		}
		return s.norm(f)
	}
	s.checkLiteral("if", c, BoolKind)
	t, f = s.norm(t), s.norm(f)
	switch {
	case t.Kind == BoolKind && t.Bool && f.Kind == BoolKind && !f.Bool:
		return c
	case t.Equal(f):
		return t
	}
	return If(c, t, f)
}

func isBool(e *Expr, b bool) bool {
	return e.Kind == BoolKind && e.Bool == b
}

func isNatural(e *Expr, n int64) bool {
	return e.Kind == NaturalKind && e.Natural.IsInt64() && e.Natural.Int64() == n
}

func isEmpty(e *Expr, kind Kind) bool {
	switch kind {
	case TextKind:
		return e.Kind == TextKind && e.Text == ""
	case ListKind:
		return e.Kind == ListKind && len(e.List) == 0
	case RecordKind, RecordTypeKind:
		return e.Kind == kind && len(e.Fields) == 0
	}
	return false
}

// operandKinds gives the literal kind each operator accepts.
var operandKinds = [maxOp]Kind{
	OpOr:           BoolKind,
	OpAnd:          BoolKind,
	OpEq:           BoolKind,
	OpNe:           BoolKind,
	OpPlus:         NaturalKind,
	OpTimes:        NaturalKind,
	OpTextAppend:   TextKind,
	OpListAppend:   ListKind,
	OpCombine:      RecordKind,
	OpPrefer:       RecordKind,
	OpCombineTypes: RecordTypeKind,
}

// op reduces the normal operands l and r of operator o.
func (s *normState) op(o Op, l, r *Expr) *Expr {
	want := operandKinds[o]
	s.checkLiteral(o.String(), l, want)
	s.checkLiteral(o.String(), r, want)
	switch o {
	case OpOr:
		switch {
		case l.Kind == BoolKind:
			if l.Bool {
				return l
			}
			return r
		case r.Kind == BoolKind:
			if r.Bool {
				return r
			}
			return l
		case l.Equal(r):
			return l
		}
	case OpAnd:
		switch {
		case l.Kind == BoolKind:
			if l.Bool {
				return r
			}
			return l
		case r.Kind == BoolKind:
			if r.Bool {
				return l
			}
			return r
		case l.Equal(r):
			return l
		}
	case OpEq:
		switch {
		case isBool(l, true):
			return r
		case isBool(r, true):
			return l
		case l.Equal(r):
			return Bool(true)
		}
	case OpNe:
		switch {
		case isBool(l, false):
			return r
		case isBool(r, false):
			return l
		case l.Equal(r):
			return Bool(false)
		}
	case OpPlus:
		switch {
		case l.Kind == NaturalKind && r.Kind == NaturalKind:
			return &Expr{Kind: NaturalKind, Natural: new(big.Int).Add(l.Natural, r.Natural)}
		case isNatural(l, 0):
			return r
		case isNatural(r, 0):
			return l
		}
	case OpTimes:
		switch {
		case l.Kind == NaturalKind && r.Kind == NaturalKind:
			return &Expr{Kind: NaturalKind, Natural: new(big.Int).Mul(l.Natural, r.Natural)}
		case isNatural(l, 0):
			return l
		case isNatural(r, 0):
			return r
		case isNatural(l, 1):
			return r
		case isNatural(r, 1):
			return l
		}
	case OpTextAppend:
		switch {
		case l.Kind == TextKind && r.Kind == TextKind:
			return Text(l.Text + r.Text)
		case isEmpty(l, TextKind):
			return r
		case isEmpty(r, TextKind):
			return l
		}
	case OpListAppend:
		switch {
		case isEmpty(l, ListKind):
			return r
		case isEmpty(r, ListKind):
			return l
		case l.Kind == ListKind && r.Kind == ListKind:
			elems := make([]*Expr, 0, len(l.List)+len(r.List))
			elems = append(elems, l.List...)
			elems = append(elems, r.List...)
			return List(elems...)
		}
	case OpPrefer:
		switch {
		case isEmpty(l, RecordKind):
			return r
		case isEmpty(r, RecordKind):
			return l
		case l.Kind == RecordKind && r.Kind == RecordKind:
			return s.mergeFields(RecordKind, l, r, nil)
		case l.Equal(r):
			return l
		}
	case OpCombine, OpCombineTypes:
		switch {
		case isEmpty(l, want):
			return r
		case isEmpty(r, want):
			return l
		case l.Kind == want && r.Kind == want:
			return s.mergeFields(want, l, r, func(lv, rv *Expr) *Expr { return s.op(o, lv, rv) })
		}
	}
	return Binary(o, l, r)
}

// mergeFields merges the fields of l and r, which have the given kind.
// Collisions are resolved by combine, or in favor of r if combine is
// nil.
func (s *normState) mergeFields(kind Kind, l, r *Expr, combine func(lv, rv *Expr) *Expr) *Expr {
	fields := make([]*Field, 0, len(l.Fields)+len(r.Fields))
	i, j := 0, 0
	for i < len(l.Fields) || j < len(r.Fields) {
		switch {
		case j == len(r.Fields) || (i < len(l.Fields) && l.Fields[i].Name < r.Fields[j].Name):
			fields = append(fields, l.Fields[i])
			i++
		case i == len(l.Fields) || r.Fields[j].Name < l.Fields[i].Name:
			fields = append(fields, r.Fields[j])
			j++
		default:
			f := r.Fields[j]
			if combine != nil {
				f = F(f.Name, combine(l.Fields[i].Expr, r.Fields[j].Expr))
			}
			fields = append(fields, f)
			i++
			j++
		}
	}
	return &Expr{Kind: kind, Fields: fields}
}
