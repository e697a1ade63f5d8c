// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package syntax

import (
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/canon"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
)

var (
	natural = expr.Builtin("Natural")
	text    = expr.Builtin("Text")
)

// treeOptions compare the opaque leaves of expression trees.
var treeOptions = []cmp.Option{
	cmp.Comparer(func(x, y *big.Int) bool {
		if x == nil || y == nil {
			return x == y
		}
		return x.Cmp(y) == 0
	}),
	cmp.Comparer(func(x, y digest.Digest) bool { return x == y }),
}

func nat(n uint64) *expr.Expr { return expr.Natural(n) }

func local(path string) *expr.Expr {
	return expr.ImportExpr(&expr.Import{Location: expr.Location{Kind: expr.Local, Path: path}})
}

func TestParse(t *testing.T) {
	pinned := canon.Digester.FromString("pinned")
	for _, c := range []struct {
		src  string
		want *expr.Expr
	}{
		{"1", nat(1)},
		{"  -- comment\n 1 {- block {- nested -} -}", nat(1)},
		{"123456789012345678901234567890", mustBig("123456789012345678901234567890")},
		{"1.5", expr.Double(1.5)},
		{"-2.0e3", expr.Double(-2000)},
		{"1e2", expr.Double(100)},
		{"Infinity", expr.Double(math.Inf(1))},
		{"-Infinity", expr.Double(math.Inf(-1))},
		{"True", expr.Bool(true)},
		{`"a\"b\né\u{1F600}"`, expr.Text("a\"b\né\U0001F600")},
		{`"😀"`, expr.Text("\U0001F600")},
		{"x", expr.Var("x", 0)},
		{"x@2", expr.Var("x", 2)},
		{"`Natural`", expr.Var("Natural", 0)},
		{"Natural/even", expr.Builtin("Natural/even")},
		{"\\(x : Natural) -> x", expr.Lambda("x", natural, expr.Var("x", 0))},
		{"λ(x : Natural) → x", expr.Lambda("x", natural, expr.Var("x", 0))},
		{"forall (a : Type) -> a", expr.Pi("a", expr.Builtin("Type"), expr.Var("a", 0))},
		{"Natural -> Text -> Bool", expr.Pi("_", natural, expr.Pi("_", text, expr.Builtin("Bool")))},
		{"f x y", expr.App(expr.Var("f", 0), expr.Var("x", 0), expr.Var("y", 0))},
		{"f (g x)", expr.App(expr.Var("f", 0), expr.App(expr.Var("g", 0), expr.Var("x", 0)))},
		{"1 + 2 * 3", expr.Binary(expr.OpPlus, nat(1), expr.Binary(expr.OpTimes, nat(2), nat(3)))},
		{"1 + 2 + 3", expr.Binary(expr.OpPlus, expr.Binary(expr.OpPlus, nat(1), nat(2)), nat(3))},
		{`"a" ++ "b"`, expr.Binary(expr.OpTextAppend, expr.Text("a"), expr.Text("b"))},
		{"a || b && c", expr.Binary(expr.OpOr, expr.Var("a", 0), expr.Binary(expr.OpAnd, expr.Var("b", 0), expr.Var("c", 0)))},
		{"a == b != c", expr.Binary(expr.OpEq, expr.Var("a", 0), expr.Binary(expr.OpNe, expr.Var("b", 0), expr.Var("c", 0)))},
		{"a // b", expr.Binary(expr.OpPrefer, expr.Var("a", 0), expr.Var("b", 0))},
		{"a ⫽ b", expr.Binary(expr.OpPrefer, expr.Var("a", 0), expr.Var("b", 0))},
		{"a /\\ b", expr.Binary(expr.OpCombine, expr.Var("a", 0), expr.Var("b", 0))},
		{"a //\\\\ b", expr.Binary(expr.OpCombineTypes, expr.Var("a", 0), expr.Var("b", 0))},
		{"[1] # [2]", expr.Binary(expr.OpListAppend, expr.List(nat(1)), expr.List(nat(2)))},
		{"let x = 1 let y : Natural = x in y", expr.Let("x", nil, nat(1), expr.Let("y", natural, expr.Var("x", 0), expr.Var("y", 0)))},
		{"if c then 1 else 2", expr.If(expr.Var("c", 0), nat(1), nat(2))},
		{"x : Natural", expr.Annot(expr.Var("x", 0), natural)},
		{"[] : List Natural", expr.EmptyList(natural)},
		{"[1, 2,]", expr.List(nat(1), nat(2))},
		{"{ b = 1, a = 2 }", expr.Record(expr.F("a", nat(2)), expr.F("b", nat(1)))},
		{"{ a, b = 2 }", expr.Record(expr.F("a", expr.Var("a", 0)), expr.F("b", nat(2)))},
		{"{=}", expr.Record()},
		{"{}", expr.RecordType()},
		{"{ a : Natural }", expr.RecordType(expr.F("a", natural))},
		{"< A : Natural | B >", expr.UnionType(expr.F("A", natural), expr.F("B", nil))},
		{"<>", expr.UnionType()},
		{"r.a.b", expr.Select(expr.Select(expr.Var("r", 0), "a"), "b")},
		{"< A | B >.A", expr.Select(expr.UnionType(expr.F("A", nil), expr.F("B", nil)), "A")},
		{"Some 1", expr.Some(nat(1))},
		{"merge h u", expr.Merge(expr.Var("h", 0), expr.Var("u", 0), nil)},
		{"merge h u : Natural", expr.Merge(expr.Var("h", 0), expr.Var("u", 0), natural)},
		{"./a.dhall", local("./a.dhall")},
		{"../a/./b.dhall", local("../a/b.dhall")},
		{"/etc/a.dhall", local("/etc/a.dhall")},
		{"~/a.dhall", local("~/a.dhall")},
		{"{ a = ./a.dhall, b = 1 }", expr.Record(expr.F("a", local("./a.dhall")), expr.F("b", nat(1)))},
		{"f ./a.dhall", expr.App(expr.Var("f", 0), local("./a.dhall"))},
		{
			"https://example.com/a.dhall",
			expr.ImportExpr(&expr.Import{Location: expr.Location{Kind: expr.Remote, Path: "https://example.com/a.dhall"}}),
		},
		{"env:HOME as Text", expr.ImportExpr(&expr.Import{Location: expr.Location{Kind: expr.Env, Path: "HOME"}, Mode: expr.TextMode})},
		{"missing", expr.ImportExpr(&expr.Import{Location: expr.Location{Kind: expr.Missing}})},
		{"./a as Location", expr.ImportExpr(&expr.Import{Location: expr.Location{Kind: expr.Local, Path: "./a"}, Mode: expr.LocationMode})},
		{
			"./a.dhall " + pinned.String(),
			expr.ImportExpr(&expr.Import{Location: expr.Location{Kind: expr.Local, Path: "./a.dhall"}, Digest: pinned}),
		},
		{
			"s3://bucket/key.dhall " + pinned.String() + " as Text",
			expr.ImportExpr(&expr.Import{Location: expr.Location{Kind: expr.Remote, Path: "s3://bucket/key.dhall"}, Digest: pinned, Mode: expr.TextMode}),
		},
	} {
		got, err := ParseString("test", c.src)
		if err != nil {
			t.Errorf("%s: %v", c.src, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("%s: got %v, want %v (-want +got):\n%s", c.src, got, c.want, cmp.Diff(c.want, got, treeOptions...))
		}
	}
}

func mustBig(s string) *expr.Expr {
	e, err := ParseString("", s)
	if err != nil {
		panic(err)
	}
	if e.Natural.String() != s {
		panic("bad natural " + s)
	}
	return e
}

func TestParseError(t *testing.T) {
	for _, c := range []struct {
		src, want string
	}{
		{"", "test:1:1: unexpected end of input"},
		{"1 +", "test:1:4: unexpected end of input"},
		{"{ a = 1, a = 2 }", `test:1:10: duplicate field "a"`},
		{"[]", "test:1:1: empty list literal requires an annotation"},
		{"[] : Natural", "test:1:6: empty list literal must be annotated with List T"},
		{`"${x}"`, "test:1:2: text interpolation is not supported"},
		{"-1", "test:1:1: integer literals are not supported"},
		{"\\(if : Natural) -> 1", `test:1:3: keyword "if" cannot be used as a label`},
		{"let x = 1\n)", "test:2:1: expected \"in\""},
		{"(1", "test:1:3: expected \")\""},
		{"\"abc", "test:1:1: unterminated text literal"},
		{"./a.dhall sha256:abc", "test:1:18: invalid import hash"},
		{"1 2 )", `test:1:5: unexpected ")"`},
	} {
		_, err := ParseString("test", c.src)
		if err == nil {
			t.Errorf("%q: expected error", c.src)
			continue
		}
		if !errors.Is(errors.Parse, err) {
			t.Errorf("%q: expected parse error, got %v", c.src, err)
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%q: got %q, want %q", c.src, err, c.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, src := range []string{
		`\(x : Natural) -> \(y : Natural) -> x + y * 2`,
		`let f = \(b : Bool) -> if b then "yes" else "no" in f True ++ "!"`,
		`{ a = [1, 2, 3], b = { c = Some 1.5, d = [] : List Text }, e = < A : Natural | B >.A 1 }`,
		`forall (a : Type) -> (a -> a) -> List a`,
		`merge { A = \(n : Natural) -> Natural/show n, B = "b" } x : Text`,
		`(x : Natural) : Natural`,
		"{ `if` = 1, `a b` = x@1 }",
		`{ a = ./a.dhall, b = env:HOME as Text, c = https://example.com/c.dhall }`,
		`r.a.b (f -1.5) (g (Some x))`,
		`{ a : Natural } //\\ { b : Bool }`,
		`"tab\there \u0024{not interpolated} \"q\""`,
		`(./a.dhall).field`,
		`a && (b || c) == d`,
	} {
		e, err := ParseString("test", src)
		if err != nil {
			t.Errorf("%s: %v", src, err)
			continue
		}
		printed := e.String()
		e2, err := ParseString("printed", printed)
		if err != nil {
			t.Errorf("%s: reparse %s: %v", src, printed, err)
			continue
		}
		if !e2.Equal(e) {
			t.Errorf("%s: round trip through %s gave %v", src, printed, e2)
		}
	}
}
