// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package expr

import "sort"

// Shift adds d to the index of every variable named x whose index is
// at least m, accounting for binders of x. Shift(1, x, 0, e) makes
// room for a new binder of x around e; Shift(-1, x, 0, e) removes one.
func Shift(d int, x string, m int, e *Expr) *Expr {
	if e == nil {
		return nil
	}
	if e.Kind == VarKind {
		if e.Name == x && e.Index >= m {
			return Var(x, e.Index+d)
		}
		return e
	}
	return e.mapChildren(func(c *Expr, bound bool) *Expr {
		if bound && e.Name == x {
			return Shift(d, x, m+1, c)
		}
		return Shift(d, x, m, c)
	})
}

// Subst replaces the variable x@n in e with v, accounting for
// binders: under a binder of y, v is shifted past y, and under a
// binder of x the index n is incremented.
func Subst(x string, n int, v, e *Expr) *Expr {
	if e == nil {
		return nil
	}
	if e.Kind == VarKind {
		if e.Name == x && e.Index == n {
			return v
		}
		return e
	}
	var shifted *Expr
	return e.mapChildren(func(c *Expr, bound bool) *Expr {
		if !bound {
			return Subst(x, n, v, c)
		}
		if shifted == nil {
			shifted = Shift(1, e.Name, 0, v)
		}
		m := n
		if e.Name == x {
			m++
		}
		return Subst(x, m, shifted, c)
	})
}

// FreeIn tells whether the variable x@n occurs free in e.
func FreeIn(x string, n int, e *Expr) bool {
	if e == nil {
		return false
	}
	if e.Kind == VarKind {
		return e.Name == x && e.Index == n
	}
	free := false
	e.mapChildren(func(c *Expr, bound bool) *Expr {
		if free {
			return c
		}
		m := n
		if bound && e.Name == x {
			m++
		}
		free = FreeIn(x, m, c)
		return c
	})
	return free
}

// FreeVars returns the free variables of e, rendered as name@index
// relative to the top of e, in sorted order.
func FreeVars(e *Expr) []string {
	set := make(map[string]bool)
	freeVars(e, map[string]int{}, set)
	if len(set) == 0 {
		return nil
	}
	vars := make([]string, 0, len(set))
	for v := range set {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

func freeVars(e *Expr, depth map[string]int, set map[string]bool) {
	if e == nil {
		return
	}
	if e.Kind == VarKind {
		if d := depth[e.Name]; e.Index >= d {
			set[Var(e.Name, e.Index-d).String()] = true
		}
		return
	}
	e.mapChildren(func(c *Expr, bound bool) *Expr {
		if bound {
			depth[e.Name]++
			freeVars(c, depth, set)
			depth[e.Name]--
		} else {
			freeVars(c, depth, set)
		}
		return c
	})
}

// AlphaNormalize renames every bound variable of e to "_", adjusting
// indices so that the result denotes the same expression. Two
// expressions that differ only in the names of bound variables have
// the same alpha normal form.
func AlphaNormalize(e *Expr) *Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case LambdaKind, PiKind, LetKind:
		f := *e
		f.Type = AlphaNormalize(e.Type)
		f.Right = AlphaNormalize(e.Right)
		body := e.Left
		if e.Name != "_" {
			body = Shift(-1, e.Name, 0, Subst(e.Name, 0, Var("_", 0), Shift(1, "_", 0, body)))
			f.Name = "_"
		}
		f.Left = AlphaNormalize(body)
		return &f
	case ImportKind:
		return e
	}
	return e.mapChildren(func(c *Expr, _ bool) *Expr {
		return AlphaNormalize(c)
	})
}
