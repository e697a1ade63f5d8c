// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package syntax parses the configuration language into expression
trees (package expr).

The parser accepts a subset of the language: the subset whose
expressions have a canonical encoding in package codec. It is a
scannerless recursive descent parser; whitespace, line comments
(-- ...) and nested block comments ({- ... -}) may appear between
tokens.

An expression is one of the following (where e1, e2, .. are
themselves expressions, x is a label and T, U are expressions
denoting types):

	\(x : T) -> e1                    // a function; λ and → are also accepted
	forall (x : T) -> U               // a function type; ∀ is also accepted
	T -> U                            // a function type whose argument is unnamed
	let x = e1 in e2                  // a binding; several lets may precede "in"
	let x : T = e1 in e2              // an annotated binding
	if e1 then e2 else e3             // a conditional
	e1 : T                            // a type annotation
	e1 op e2                          // a binary operator (see below)
	e1 e2                             // function application
	merge e1 e2                       // union or optional elimination
	merge e1 e2 : T                   // annotated elimination
	Some e1                           // a present optional value
	e1.x                              // field selection
	x, x@n                            // a variable; @n refers to the nth enclosing binder of x
	`any label`                       // a quoted label
	{ x = e1, y = e2 }, {=}           // a record literal
	{ x, y }                          // a record literal with punned fields (x = x, y = y)
	{ x : T, y : U }, {}              // a record type
	< A : T | B >, <>                 // a union type
	[e1, e2, ..]                      // a list
	[] : List T                       // an empty list of elements of type T
	True, False                       // booleans
	123                               // an arbitrary precision natural number
	1.5, -2.0e10, Infinity, NaN       // doubles
	"text\n"                          // text with JSON-style escapes
	Bool, Natural, Natural/even, ..   // builtins
	./a.dhall, ../a, /a, ~/a          // local imports
	https://host/path, s3://bucket/key // remote imports
	env:NAME                          // environment variable imports
	missing                           // the import that never resolves
	import sha256:<hex>               // an import pinned to a semantic hash
	import as Text                    // an import of raw text
	import as Location                // the location of an import, unfetched

Operators, from lowest to highest precedence, are:

	||  +  ++  #  &&  /\ (∧)  // (⫽)  //\\ (⩓)  *  ==  !=

All operators are left associative.

Text interpolation, integers, multi-line text, the ? operator,
projection and record completion are not supported.
*/
package syntax
