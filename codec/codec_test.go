// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/hex"
	"math"
	"math/big"
	"testing"

	"github.com/grailbio/canon"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/syntax"
)

func parse(t *testing.T, src string) *expr.Expr {
	t.Helper()
	e, err := syntax.ParseString("test", src)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestEncode(t *testing.T) {
	for _, c := range []struct {
		e   *expr.Expr
		hex string
	}{
		{expr.Var("_", 0), "00"},
		{expr.Var("x", 1), "82617801"},
		{expr.Bool(true), "f5"},
		{expr.Natural(1), "820f01"},
		{expr.Text("a"), "82126161"},
		{expr.Double(1), "f93c00"},
		{expr.Double(math.NaN()), "f97e00"},
		{expr.Double(1.1), "fb3ff199999999999a"},
		{expr.Builtin("Natural"), "674e61747572616c"},
		{expr.Record(expr.F("b", expr.Natural(1)), expr.F("a", expr.Bool(true))), "8208a26161f56162820f01"},
		{expr.App(expr.Var("_", 0), expr.Var("_", 1), expr.Var("_", 2)), "8400000102"},
		{expr.Lambda("_", expr.Builtin("Bool"), expr.Var("_", 0)), "830164426f6f6c00"},
		{expr.Binary(expr.OpPlus, expr.Var("_", 0), expr.Natural(1)), "840304" + "00" + "820f01"},
		{expr.EmptyList(expr.Builtin("Bool")), "8204" + "64426f6f6c"},
		{expr.Some(expr.Bool(false)), "8305f6f4"},
	} {
		b, err := Encode(c.e)
		if err != nil {
			t.Errorf("%v: %v", c.e, err)
			continue
		}
		if got, want := hex.EncodeToString(b), c.hex; got != want {
			t.Errorf("%v: got %s, want %s", c.e, got, want)
		}
	}
}

func TestEncodeError(t *testing.T) {
	for _, e := range []*expr.Expr{
		{Kind: expr.ListKind},
		expr.Record(expr.F("a", nil)),
		{Kind: expr.OpKind, Op: expr.Op(99), Left: expr.Bool(true), Right: expr.Bool(true)},
	} {
		if _, err := Encode(e); !errors.Is(errors.Encoding, err) {
			t.Errorf("%v: got %v, want encoding error", e, err)
		}
	}
}

func TestDecode(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	for _, src := range []string{
		`\(x : Natural) -> \(_ : Natural) -> x + _ * 2`,
		`let a = 1 let b : Natural = a in { a, b, c = [a, b], d = [] : List Bool, e = Some "x" }`,
		`forall (a : Type) -> a -> List a`,
		`merge { A = \(n : Natural) -> Natural/show n, B = "b" } u : Text`,
		`if x then 1.5 else -2.25e-3`,
		`< A : Natural | B >.B`,
		`(x : Natural) : Natural`,
		`{ a : Bool } //\\ { b : Text }`,
		`./a/b.dhall`,
		`../../c.dhall as Text`,
		`/etc/d.dhall`,
		`~/e.dhall as Location`,
		`env:HOME`,
		`missing`,
		`https://example.com/x/y.dhall`,
		`https://user@example.com:8080/x?q=1`,
		`s3://bucket/path/to/config.dhall`,
		`./pinned.dhall ` + canon.Digester.FromString("x").String(),
	} {
		e := parse(t, src)
		b, err := Encode(e)
		if err != nil {
			t.Errorf("%s: %v", src, err)
			continue
		}
		d, err := Decode(b)
		if err != nil {
			t.Errorf("%s: %v", src, err)
			continue
		}
		if !d.Equal(e) {
			t.Errorf("%s: got %v, want %v", src, d, e)
		}
	}
	e := expr.BigNatural(huge)
	b, err := Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(e) {
		t.Errorf("got %v, want %v", d, e)
	}
}

func TestDecodeError(t *testing.T) {
	for _, h := range []string{
		"",
		"80",                 // empty array
		"820f20",             // negative natural
		"686e6f744275696c74", // unknown builtin
		"831b0000000000000064",
		"8201f6",   // lambda without a body
		"820a00",   // unsupported tag
		"82187b00", // unsupported tag
	} {
		b, _ := hex.DecodeString(h)
		if _, err := Decode(b); !errors.Is(errors.Encoding, err) {
			t.Errorf("%s: got %v, want encoding error", h, err)
		}
	}
}

func TestUnionLiteral(t *testing.T) {
	ut := expr.UnionType(expr.F("A", expr.Builtin("Natural")), expr.F("B", nil))
	for _, c := range []struct {
		lit, ctor *expr.Expr
	}{
		{expr.Union(ut, "A", expr.Natural(1)), expr.App(expr.Select(ut, "A"), expr.Natural(1))},
		{expr.Union(ut, "B", nil), expr.Select(ut, "B")},
	} {
		lb, err := Encode(c.lit)
		if err != nil {
			t.Fatal(err)
		}
		cb, err := Encode(c.ctor)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := hex.EncodeToString(lb), hex.EncodeToString(cb); got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
}

func TestDigest(t *testing.T) {
	digest := func(src string) string {
		d, err := Digest(nil, parse(t, src))
		if err != nil {
			t.Fatalf("%s: %v", src, err)
		}
		return d.String()
	}
	for _, c := range []struct {
		a, b string
	}{
		{`\(x : Natural) -> x`, `\(y : Natural) -> y`},
		{`let a = 1 in { x = a }`, `{ x = 1 }`},
		{`{ b = 2, a = 1 }`, `{ a = 1, b = 2 }`},
		{`(\(f : Natural -> Natural) -> f 1) (\(n : Natural) -> n + 1)`, `2`},
		{`{ a = True && x } // { b = [] : List Natural }`, `{ a = x, b = [] : List Natural }`},
		{`< A : Natural | B >.A (1 + 1)`, `< B | A : Natural >.A 2`},
		{`1 : Natural`, `1`},
	} {
		if got, want := digest(c.a), digest(c.b); got != want {
			t.Errorf("digest(%s) = %s, digest(%s) = %s", c.a, got, c.b, want)
		}
	}
	for _, c := range []struct {
		a, b string
	}{
		{`{ a = 1 }`, `{ a = 2 }`},
		{`\(x : Natural) -> \(y : Natural) -> x`, `\(x : Natural) -> \(y : Natural) -> y`},
		{`1`, `1.0`},
		{`[1, 2]`, `[2, 1]`},
	} {
		if digest(c.a) == digest(c.b) {
			t.Errorf("expected %s and %s to differ", c.a, c.b)
		}
	}
	// The digest of a value is the digest of its canonical bytes.
	e := parse(t, `{ a = [1, 2, 3] }`)
	b, err := Canonical(nil, e)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Digest(nil, e)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := d, canon.Digester.FromBytes(b); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDigestBudget(t *testing.T) {
	e := parse(t, `(\(x : Natural) -> x x) (\(x : Natural) -> x x)`)
	_, err := Digest(&expr.Normalizer{MaxSteps: 50}, e)
	if !errors.Is(errors.ResourcesExhausted, err) {
		t.Errorf("got %v, want resources exhausted", err)
	}
}

func TestDigestIgnoresEta(t *testing.T) {
	e := parse(t, `\(f : Natural -> Natural) -> \(x : Natural) -> f x`)
	want, err := Digest(nil, e)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []*expr.Normalizer{
		{},
		{Eta: true},
		{MaxSteps: 100, Eta: true},
	} {
		got, err := Digest(n, e)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("normalizer %+v: got %v, want %v", *n, got, want)
		}
	}
	// The eta-reduced form is a different tree, with a different hash.
	reduced, err := (&expr.Normalizer{Eta: true}).Normalize(e)
	if err != nil {
		t.Fatal(err)
	}
	if d, err := Digest(nil, reduced); err != nil || d == want {
		t.Errorf("got %v, %v; expected a distinct digest", d, err)
	}
}
