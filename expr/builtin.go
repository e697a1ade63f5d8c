// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package expr

import "math/big"

// Builtins is the set of builtin names.
var Builtins = map[string]bool{
	"Bool":             true,
	"Natural":          true,
	"Double":           true,
	"Text":             true,
	"List":             true,
	"Optional":         true,
	"None":             true,
	"Type":             true,
	"Kind":             true,
	"Sort":             true,
	"Natural/isZero":   true,
	"Natural/even":     true,
	"Natural/odd":      true,
	"Natural/show":     true,
	"Natural/subtract": true,
	"List/length":      true,
}

// IsBuiltin tells whether name is a builtin.
func IsBuiltin(name string) bool {
	return Builtins[name]
}

// spine decomposes a chain of applications into its head and
// arguments.
func spine(e *Expr) (head *Expr, args []*Expr) {
	for e.Kind == AppKind {
		args = append(args, e.Right)
		e = e.Left
	}
	for i, j := 0, len(args)-1; i < j; i, j = i+1, j-1 {
		args[i], args[j] = args[j], args[i]
	}
	return e, args
}

// reduceBuiltin reduces the fully applied builtin application e (its
// head and arguments already normal). It returns nil if e is stuck.
func (s *normState) reduceBuiltin(e *Expr) *Expr {
	head, args := spine(e)
	if head.Kind != BuiltinKind {
		return nil
	}
	switch head.Name {
	case "Natural/isZero", "Natural/even", "Natural/odd", "Natural/show":
		if len(args) != 1 {
			return nil
		}
		n := args[0]
		if n.Kind != NaturalKind {
			s.checkLiteral(head.Name, n, NaturalKind)
			return nil
		}
		switch head.Name {
		case "Natural/isZero":
			return Bool(n.Natural.Sign() == 0)
		case "Natural/even":
			return Bool(n.Natural.Bit(0) == 0)
		case "Natural/odd":
			return Bool(n.Natural.Bit(0) == 1)
		default:
			return Text(n.Natural.String())
		}
	case "Natural/subtract":
		if len(args) != 2 {
			return nil
		}
		x, y := args[0], args[1]
		s.checkLiteral(head.Name, x, NaturalKind)
		s.checkLiteral(head.Name, y, NaturalKind)
		switch {
		case x.Kind == NaturalKind && y.Kind == NaturalKind:
			if x.Natural.Cmp(y.Natural) >= 0 {
				return Natural(0)
			}
			return &Expr{Kind: NaturalKind, Natural: new(big.Int).Sub(y.Natural, x.Natural)}
		case x.Kind == NaturalKind && x.Natural.Sign() == 0:
			return y
		case y.Kind == NaturalKind && y.Natural.Sign() == 0:
			return Natural(0)
		case x.Equal(y):
			return Natural(0)
		}
	case "List/length":
		if len(args) != 2 {
			return nil
		}
		if list := args[1]; list.Kind == ListKind {
			return Natural(uint64(len(list.List)))
		}
		s.checkLiteral(head.Name, args[1], ListKind)
	}
	return nil
}
