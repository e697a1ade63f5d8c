// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Printing levels, lowest binding first. Operators occupy the levels
// between exprLevel and appLevel, in order of precedence.
const (
	exprLevel   = 0
	appLevel    = 12
	importLevel = 13
	primLevel   = 14
)

var opLevels = [maxOp]int{
	OpOr:           1,
	OpPlus:         2,
	OpTextAppend:   3,
	OpListAppend:   4,
	OpAnd:          5,
	OpCombine:      6,
	OpPrefer:       7,
	OpCombineTypes: 8,
	OpTimes:        9,
	OpEq:           10,
	OpNe:           11,
}

// Keywords are reserved words that cannot be used as bare labels.
var Keywords = map[string]bool{
	"if": true, "then": true, "else": true, "let": true, "in": true,
	"as": true, "using": true, "merge": true, "missing": true,
	"Infinity": true, "NaN": true, "Some": true, "toMap": true,
	"assert": true, "forall": true, "with": true, "True": true, "False": true,
}

// String renders e in the surface syntax. The result parses back to
// an expression equal to e.
func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	printExpr(&b, e, exprLevel)
	return b.String()
}

func level(e *Expr) int {
	switch e.Kind {
	case LambdaKind, PiKind, LetKind, IfKind, AnnotKind:
		return exprLevel
	case ListKind:
		if len(e.List) == 0 {
			return exprLevel
		}
	case MergeKind:
		if e.Type != nil {
			return exprLevel
		}
		return appLevel
	case OpKind:
		return opLevels[e.Op]
	case AppKind, SomeKind:
		return appLevel
	case UnionKind:
		if e.Left != nil {
			return appLevel
		}
	case ImportKind:
		return importLevel
	}
	return primLevel
}

func printExpr(b *strings.Builder, e *Expr, min int) {
	if level(e) < min {
		b.WriteString("(")
		printExpr(b, e, exprLevel)
		b.WriteString(")")
		return
	}
	switch e.Kind {
	case VarKind:
		b.WriteString(label(e.Name))
		if e.Index != 0 {
			fmt.Fprintf(b, "@%d", e.Index)
		}
	case LambdaKind:
		fmt.Fprintf(b, "\\(%s : ", label(e.Name))
		printExpr(b, e.Type, exprLevel)
		b.WriteString(") -> ")
		printExpr(b, e.Left, exprLevel)
	case PiKind:
		if e.Name == "_" {
			printExpr(b, e.Type, exprLevel+1)
		} else {
			fmt.Fprintf(b, "forall (%s : ", label(e.Name))
			printExpr(b, e.Type, exprLevel)
			b.WriteString(")")
		}
		b.WriteString(" -> ")
		printExpr(b, e.Left, exprLevel)
	case AppKind:
		printExpr(b, e.Left, appLevel)
		b.WriteString(" ")
		printExpr(b, e.Right, importLevel)
	case LetKind:
		fmt.Fprintf(b, "let %s", label(e.Name))
		if e.Type != nil {
			b.WriteString(" : ")
			printExpr(b, e.Type, exprLevel)
		}
		b.WriteString(" = ")
		printExpr(b, e.Right, exprLevel)
		if e.Left.Kind == LetKind {
			b.WriteString(" ")
		} else {
			b.WriteString(" in ")
		}
		printExpr(b, e.Left, exprLevel)
	case AnnotKind:
		printExpr(b, e.Left, exprLevel+1)
		b.WriteString(" : ")
		printExpr(b, e.Type, exprLevel)
	case BoolKind:
		if e.Bool {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case NaturalKind:
		b.WriteString(e.Natural.String())
	case DoubleKind:
		b.WriteString(formatDouble(e.Double))
	case TextKind:
		b.WriteString(quote(e.Text))
	case ListKind:
		if len(e.List) == 0 {
			b.WriteString("[] : List ")
			printExpr(b, e.Type, importLevel)
			return
		}
		b.WriteString("[")
		for i, elem := range e.List {
			if i > 0 {
				b.WriteString(", ")
			}
			printExpr(b, elem, exprLevel)
		}
		b.WriteString("]")
	case SomeKind:
		b.WriteString("Some ")
		printExpr(b, e.Left, importLevel)
	case RecordKind, RecordTypeKind:
		sep := " = "
		if e.Kind == RecordTypeKind {
			sep = " : "
		}
		if len(e.Fields) == 0 {
			if e.Kind == RecordKind {
				b.WriteString("{=}")
			} else {
				b.WriteString("{}")
			}
			return
		}
		b.WriteString("{ ")
		for i, f := range e.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(label(f.Name))
			b.WriteString(sep)
			printExpr(b, f.Expr, exprLevel)
		}
		b.WriteString(" }")
	case FieldKind:
		printExpr(b, e.Left, primLevel)
		b.WriteString(".")
		b.WriteString(label(e.Name))
	case UnionTypeKind:
		if len(e.Fields) == 0 {
			b.WriteString("<>")
			return
		}
		b.WriteString("< ")
		for i, f := range e.Fields {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(label(f.Name))
			if f.Expr != nil {
				b.WriteString(" : ")
				printExpr(b, f.Expr, exprLevel)
			}
		}
		b.WriteString(" >")
	case UnionKind:
		printExpr(b, e.Type, primLevel)
		b.WriteString(".")
		b.WriteString(label(e.Name))
		if e.Left != nil {
			b.WriteString(" ")
			printExpr(b, e.Left, importLevel)
		}
	case MergeKind:
		b.WriteString("merge ")
		printExpr(b, e.Left, importLevel)
		b.WriteString(" ")
		printExpr(b, e.Right, importLevel)
		if e.Type != nil {
			b.WriteString(" : ")
			printExpr(b, e.Type, exprLevel)
		}
	case OpKind:
		lvl := opLevels[e.Op]
		printExpr(b, e.Left, lvl)
		fmt.Fprintf(b, " %s ", e.Op)
		printExpr(b, e.Right, lvl+1)
	case IfKind:
		b.WriteString("if ")
		printExpr(b, e.Cond, exprLevel)
		b.WriteString(" then ")
		printExpr(b, e.Left, exprLevel)
		b.WriteString(" else ")
		printExpr(b, e.Right, exprLevel)
	case BuiltinKind:
		b.WriteString(e.Name)
	case ImportKind:
		b.WriteString(e.Import.String())
	default:
		fmt.Fprintf(b, "<%s>", e.Kind)
	}
}

// label renders a label, quoting it with backticks when it is not a
// plain identifier.
func label(s string) string {
	if s == "" || Keywords[s] || IsBuiltin(s) {
		return "`" + s + "`"
	}
	for i, r := range s {
		switch {
		case r == '_', 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z':
		case i > 0 && (r == '-' || r == '/' || '0' <= r && r <= '9'):
		default:
			return "`" + s + "`"
		}
	}
	return s
}

// formatDouble renders f so that it reads back as a double literal
// rather than a natural.
func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '$':
			b.WriteString(`\u0024`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r == utf8.RuneError {
				fmt.Fprintf(&b, `\u%04X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
