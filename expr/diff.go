// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package expr

import (
	"fmt"
	"strings"
)

// A Difference is a position at which two expressions differ.
type Difference struct {
	// Path locates the difference, e.g., ".server.ports[1]".
	Path string
	// Left and Right are the differing subexpressions. One of them
	// is nil when a field is present on one side only.
	Left, Right *Expr
}

func (d Difference) String() string {
	path := d.Path
	if path == "" {
		path = "."
	}
	show := func(e *Expr) string {
		if e == nil {
			return "(absent)"
		}
		return e.String()
	}
	return fmt.Sprintf("%s: %s != %s", path, show(d.Left), show(d.Right))
}

// Diff returns the positions at which e and f differ structurally.
// Records and record types are compared field by field, lists element
// by element, and other compound expressions child by child; any
// other mismatch is reported at the enclosing position. Callers
// usually compare alpha-normal forms.
func Diff(e, f *Expr) []Difference {
	var d []Difference
	diff("", e, f, &d)
	return d
}

func diff(path string, e, f *Expr, d *[]Difference) {
	if e.Equal(f) {
		return
	}
	if e == nil || f == nil || e.Kind != f.Kind {
		*d = append(*d, Difference{path, e, f})
		return
	}
	switch e.Kind {
	case RecordKind, RecordTypeKind, UnionTypeKind:
		i, j := 0, 0
		for i < len(e.Fields) || j < len(f.Fields) {
			switch {
			case j == len(f.Fields) || (i < len(e.Fields) && e.Fields[i].Name < f.Fields[j].Name):
				*d = append(*d, Difference{path + "." + label(e.Fields[i].Name), e.Fields[i].Expr, nil})
				i++
			case i == len(e.Fields) || f.Fields[j].Name < e.Fields[i].Name:
				*d = append(*d, Difference{path + "." + label(f.Fields[j].Name), nil, f.Fields[j].Expr})
				j++
			default:
				diff(path+"."+label(e.Fields[i].Name), e.Fields[i].Expr, f.Fields[j].Expr, d)
				i++
				j++
			}
		}
	case ListKind:
		if len(e.List) != len(f.List) {
			*d = append(*d, Difference{path, e, f})
			return
		}
		if len(e.List) == 0 {
			diff(path+"<type>", e.Type, f.Type, d)
			return
		}
		for i := range e.List {
			diff(fmt.Sprintf("%s[%d]", path, i), e.List[i], f.List[i], d)
		}
	case LambdaKind, PiKind, LetKind:
		if e.Name != f.Name {
			*d = append(*d, Difference{path, e, f})
			return
		}
		diff(path+"<type>", e.Type, f.Type, d)
		diff(path+"<value>", e.Right, f.Right, d)
		diff(path+"<body>", e.Left, f.Left, d)
	case AppKind:
		diff(path+"<function>", e.Left, f.Left, d)
		diff(path+"<argument>", e.Right, f.Right, d)
	case OpKind:
		if e.Op != f.Op {
			*d = append(*d, Difference{path, e, f})
			return
		}
		diff(path+"<left>", e.Left, f.Left, d)
		diff(path+"<right>", e.Right, f.Right, d)
	case SomeKind:
		diff(path+"<some>", e.Left, f.Left, d)
	case IfKind:
		diff(path+"<if>", e.Cond, f.Cond, d)
		diff(path+"<then>", e.Left, f.Left, d)
		diff(path+"<else>", e.Right, f.Right, d)
	default:
		*d = append(*d, Difference{path, e, f})
	}
}

// FormatDiff renders differences one per line.
func FormatDiff(diffs []Difference) string {
	lines := make([]string, len(diffs))
	for i, d := range diffs {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}
