// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package codec implements the canonical binary encoding of
// expressions and the semantic hash built on it.
//
// Expressions are encoded as CBOR in the standard layout of the
// configuration language: each node is an array whose first element
// is a numeric tag identifying the node's kind. Variables named "_"
// are encoded as bare integers, builtins as text, booleans as CBOR
// booleans and doubles in the shortest IEEE 754 width that preserves
// their value. Map keys are written in lexicographic order. The
// encoding of an expression is thus a pure function of its structure.
package codec

import (
	"bytes"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/canon"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
)

// Node tags.
const (
	tagApp        = 0
	tagLambda     = 1
	tagPi         = 2
	tagOp         = 3
	tagList       = 4
	tagSome       = 5
	tagMerge      = 6
	tagRecordType = 7
	tagRecord     = 8
	tagField      = 9
	tagUnionType  = 11
	tagIf         = 14
	tagNatural    = 15
	tagText       = 18
	tagImport     = 24
	tagLet        = 25
	tagAnnot      = 26
)

// Import schemes.
const (
	schemeHTTP = iota
	schemeHTTPS
	schemeAbsolute
	schemeHere
	schemeParent
	schemeHome
	schemeEnv
	schemeMissing
	schemeS3
)

var (
	encMode cbor.UserBufferEncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		ShortestFloat: cbor.ShortestFloat16,
		NaNConvert:    cbor.NaNConvert7e00,
		InfConvert:    cbor.InfConvertFloat16,
		BigIntConvert: cbor.BigIntConvertShortest,
	}.UserBufferEncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
		BigIntDec:      cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// textMap is a CBOR map with text keys, encoded with its keys in
// the order given. Entries with a nil value encode as null.
type textMap []mapEntry

type mapEntry struct {
	key   string
	value interface{}
}

// MarshalCBOR implements cbor.Marshaler.
func (m textMap) MarshalCBOR() ([]byte, error) {
	var b bytes.Buffer
	b.Write(head(5, uint64(len(m))))
	for _, entry := range m {
		if err := encMode.MarshalToBuffer(entry.key, &b); err != nil {
			return nil, err
		}
		if err := encMode.MarshalToBuffer(entry.value, &b); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

// head returns the shortest CBOR header for the given major type and
// argument.
func head(major byte, n uint64) []byte {
	major <<= 5
	switch {
	case n < 24:
		return []byte{major | byte(n)}
	case n <= math.MaxUint8:
		return []byte{major | 24, byte(n)}
	case n <= math.MaxUint16:
		return []byte{major | 25, byte(n >> 8), byte(n)}
	case n <= math.MaxUint32:
		return []byte{major | 26, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
	return []byte{major | 27, byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

// Encode returns the canonical encoding of e. Encode does not
// normalize e; use Canonical for the encoding that semantic hashes
// are computed over. Expressions that have no encoding, such as an
// empty list without an element type, fail with errors.Encoding.
func Encode(e *expr.Expr) ([]byte, error) {
	v, err := term(e)
	if err != nil {
		return nil, err
	}
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.E("encode", errors.Encoding, err)
	}
	return b, nil
}

func encodingError(format string, args ...interface{}) error {
	return errors.E("encode", errors.Encoding, errors.Errorf(format, args...))
}

// term returns the CBOR data model value for e.
func term(e *expr.Expr) (interface{}, error) {
	if e == nil {
		return nil, encodingError("missing subexpression")
	}
	switch e.Kind {
	case expr.VarKind:
		if e.Index < 0 {
			return nil, encodingError("negative variable index %s", e)
		}
		if e.Name == "_" {
			return uint64(e.Index), nil
		}
		return []interface{}{e.Name, uint64(e.Index)}, nil
	case expr.BuiltinKind:
		return e.Name, nil
	case expr.BoolKind:
		return e.Bool, nil
	case expr.DoubleKind:
		return e.Double, nil
	case expr.NaturalKind:
		if e.Natural == nil || e.Natural.Sign() < 0 {
			return nil, encodingError("invalid natural")
		}
		if e.Natural.IsUint64() {
			return []interface{}{uint64(tagNatural), e.Natural.Uint64()}, nil
		}
		return []interface{}{uint64(tagNatural), e.Natural}, nil
	case expr.TextKind:
		return []interface{}{uint64(tagText), e.Text}, nil
	case expr.AppKind:
		fn, args := e, []*expr.Expr(nil)
		for fn.Kind == expr.AppKind {
			args = append(args, fn.Right)
			fn = fn.Left
		}
		v := []interface{}{uint64(tagApp), nil}
		var err error
		if v[1], err = term(fn); err != nil {
			return nil, err
		}
		for i := len(args) - 1; i >= 0; i-- {
			t, err := term(args[i])
			if err != nil {
				return nil, err
			}
			v = append(v, t)
		}
		return v, nil
	case expr.LambdaKind, expr.PiKind:
		tag := uint64(tagLambda)
		if e.Kind == expr.PiKind {
			tag = tagPi
		}
		typ, body, err := terms2(e.Type, e.Left)
		if err != nil {
			return nil, err
		}
		if e.Name == "_" {
			return []interface{}{tag, typ, body}, nil
		}
		return []interface{}{tag, e.Name, typ, body}, nil
	case expr.OpKind:
		if !e.Op.Valid() {
			return nil, encodingError("invalid operator %d", e.Op)
		}
		l, r, err := terms2(e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		return []interface{}{uint64(tagOp), uint64(e.Op), l, r}, nil
	case expr.ListKind:
		if len(e.List) == 0 {
			if e.Type == nil {
				return nil, encodingError("empty list without element type")
			}
			typ, err := term(e.Type)
			if err != nil {
				return nil, err
			}
			return []interface{}{uint64(tagList), typ}, nil
		}
		v := []interface{}{uint64(tagList), nil}
		for _, elem := range e.List {
			t, err := term(elem)
			if err != nil {
				return nil, err
			}
			v = append(v, t)
		}
		return v, nil
	case expr.SomeKind:
		t, err := term(e.Left)
		if err != nil {
			return nil, err
		}
		return []interface{}{uint64(tagSome), nil, t}, nil
	case expr.MergeKind:
		h, u, err := terms2(e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		if e.Type == nil {
			return []interface{}{uint64(tagMerge), h, u}, nil
		}
		typ, err := term(e.Type)
		if err != nil {
			return nil, err
		}
		return []interface{}{uint64(tagMerge), h, u, typ}, nil
	case expr.RecordTypeKind, expr.RecordKind, expr.UnionTypeKind:
		tag := map[expr.Kind]uint64{
			expr.RecordTypeKind: tagRecordType,
			expr.RecordKind:     tagRecord,
			expr.UnionTypeKind:  tagUnionType,
		}[e.Kind]
		m, err := fields(e)
		if err != nil {
			return nil, err
		}
		return []interface{}{tag, m}, nil
	case expr.FieldKind:
		t, err := term(e.Left)
		if err != nil {
			return nil, err
		}
		return []interface{}{uint64(tagField), t, e.Name}, nil
	case expr.UnionKind:
		// Union literals encode as the constructor (applied to the
		// payload, if any) that produces them.
		ctor, err := term(expr.Select(e.Type, e.Name))
		if err != nil {
			return nil, err
		}
		if e.Left == nil {
			return ctor, nil
		}
		payload, err := term(e.Left)
		if err != nil {
			return nil, err
		}
		return []interface{}{uint64(tagApp), ctor, payload}, nil
	case expr.IfKind:
		c, err := term(e.Cond)
		if err != nil {
			return nil, err
		}
		t, f, err := terms2(e.Left, e.Right)
		if err != nil {
			return nil, err
		}
		return []interface{}{uint64(tagIf), c, t, f}, nil
	case expr.LetKind:
		v := []interface{}{uint64(tagLet)}
		for e.Kind == expr.LetKind {
			var typ interface{}
			if e.Type != nil {
				var err error
				if typ, err = term(e.Type); err != nil {
					return nil, err
				}
			}
			value, err := term(e.Right)
			if err != nil {
				return nil, err
			}
			v = append(v, e.Name, typ, value)
			e = e.Left
		}
		body, err := term(e)
		if err != nil {
			return nil, err
		}
		return append(v, body), nil
	case expr.AnnotKind:
		t, typ, err := terms2(e.Left, e.Type)
		if err != nil {
			return nil, err
		}
		return []interface{}{uint64(tagAnnot), t, typ}, nil
	case expr.ImportKind:
		return importTerm(e.Import)
	}
	return nil, encodingError("no encoding for %s expression", e.Kind)
}

func terms2(e, f *expr.Expr) (interface{}, interface{}, error) {
	t, err := term(e)
	if err != nil {
		return nil, nil, err
	}
	u, err := term(f)
	if err != nil {
		return nil, nil, err
	}
	return t, u, nil
}

func fields(e *expr.Expr) (textMap, error) {
	m := make(textMap, len(e.Fields))
	for i, f := range e.Fields {
		if i > 0 && e.Fields[i-1].Name >= f.Name {
			return nil, encodingError("fields out of order or duplicated: %q, %q", e.Fields[i-1].Name, f.Name)
		}
		m[i].key = f.Name
		if f.Expr == nil {
			if e.Kind != expr.UnionTypeKind {
				return nil, encodingError("field %q has no value", f.Name)
			}
			continue
		}
		t, err := term(f.Expr)
		if err != nil {
			return nil, err
		}
		m[i].value = t
	}
	return m, nil
}

func importTerm(imp *expr.Import) (interface{}, error) {
	var hash interface{}
	if imp.Pinned() {
		hash = canon.Multihash(imp.Digest)
	}
	v := []interface{}{uint64(tagImport), hash, uint64(imp.Mode)}
	loc := imp.Location
	switch loc.Kind {
	case expr.Missing:
		return append(v, uint64(schemeMissing)), nil
	case expr.Env:
		return append(v, uint64(schemeEnv), loc.Path), nil
	case expr.Remote:
		u, err := url.Parse(loc.Path)
		if err != nil {
			return nil, encodingError("invalid URL %q: %v", loc.Path, err)
		}
		var scheme uint64
		switch u.Scheme {
		case "http":
			scheme = schemeHTTP
		case "https":
			scheme = schemeHTTPS
		case "s3":
			scheme = schemeS3
		default:
			return nil, encodingError("unsupported URL scheme %q", u.Scheme)
		}
		authority := u.Host
		if u.User != nil {
			authority = u.User.String() + "@" + authority
		}
		v = append(v, scheme, nil, authority)
		path := strings.TrimPrefix(u.EscapedPath(), "/")
		for _, c := range strings.Split(path, "/") {
			v = append(v, c)
		}
		var query interface{}
		if u.RawQuery != "" || u.ForceQuery {
			query = u.RawQuery
		}
		return append(v, query), nil
	}
	var (
		scheme uint64
		rest   string
	)
	switch p := loc.Path; {
	case strings.HasPrefix(p, "/"):
		scheme, rest = schemeAbsolute, p[1:]
	case strings.HasPrefix(p, "./"):
		scheme, rest = schemeHere, p[2:]
	case strings.HasPrefix(p, "../"):
		scheme, rest = schemeParent, p[3:]
	case strings.HasPrefix(p, "~/"):
		scheme, rest = schemeHome, p[2:]
	case p == "..":
		scheme, rest = schemeParent, ""
	default:
		return nil, encodingError("invalid local path %q", p)
	}
	v = append(v, scheme)
	for _, c := range strings.Split(rest, "/") {
		v = append(v, c)
	}
	return v, nil
}

// Decode decodes an expression from its canonical encoding. Union
// literals decode as the constructor applications they were encoded
// as, which normalize back to the original literals.
func Decode(b []byte) (*expr.Expr, error) {
	var v interface{}
	if err := decMode.Unmarshal(b, &v); err != nil {
		return nil, errors.E("decode", errors.Encoding, err)
	}
	return decode(v)
}

func decodingError(format string, args ...interface{}) error {
	return errors.E("decode", errors.Encoding, errors.Errorf(format, args...))
}

func decode(v interface{}) (*expr.Expr, error) {
	switch v := v.(type) {
	case uint64:
		return expr.Var("_", int(v)), nil
	case bool:
		return expr.Bool(v), nil
	case float64:
		return expr.Double(v), nil
	case string:
		if !expr.IsBuiltin(v) {
			return nil, decodingError("unknown builtin %q", v)
		}
		return expr.Builtin(v), nil
	case []interface{}:
		return decodeArray(v)
	}
	return nil, decodingError("unexpected value %v of type %T", v, v)
}

func decodeArray(v []interface{}) (*expr.Expr, error) {
	if len(v) == 0 {
		return nil, decodingError("empty array")
	}
	if name, ok := v[0].(string); ok {
		if len(v) != 2 {
			return nil, decodingError("malformed variable")
		}
		index, ok := v[1].(uint64)
		if !ok || name == "_" {
			return nil, decodingError("malformed variable %q", name)
		}
		return expr.Var(name, int(index)), nil
	}
	tag, ok := v[0].(uint64)
	if !ok {
		return nil, decodingError("invalid tag %v", v[0])
	}
	args := v[1:]
	exprs := func(vs []interface{}) ([]*expr.Expr, error) {
		es := make([]*expr.Expr, len(vs))
		for i := range vs {
			var err error
			if es[i], err = decode(vs[i]); err != nil {
				return nil, err
			}
		}
		return es, nil
	}
	switch tag {
	case tagApp:
		if len(args) < 2 {
			return nil, decodingError("application without arguments")
		}
		es, err := exprs(args)
		if err != nil {
			return nil, err
		}
		return expr.App(es[0], es[1:]...), nil
	case tagLambda, tagPi:
		name := "_"
		switch len(args) {
		case 2:
		case 3:
			s, ok := args[0].(string)
			if !ok || s == "_" {
				return nil, decodingError("malformed binder")
			}
			name, args = s, args[1:]
		default:
			return nil, decodingError("malformed function")
		}
		es, err := exprs(args)
		if err != nil {
			return nil, err
		}
		if tag == tagLambda {
			return expr.Lambda(name, es[0], es[1]), nil
		}
		return expr.Pi(name, es[0], es[1]), nil
	case tagOp:
		if len(args) != 3 {
			return nil, decodingError("malformed operator")
		}
		code, ok := args[0].(uint64)
		if !ok || !expr.Op(code).Valid() {
			return nil, decodingError("invalid operator %v", args[0])
		}
		es, err := exprs(args[1:])
		if err != nil {
			return nil, err
		}
		return expr.Binary(expr.Op(code), es[0], es[1]), nil
	case tagList:
		if len(args) == 1 {
			typ, err := decode(args[0])
			if err != nil {
				return nil, err
			}
			return expr.EmptyList(typ), nil
		}
		if len(args) < 2 || args[0] != nil {
			return nil, decodingError("malformed list")
		}
		es, err := exprs(args[1:])
		if err != nil {
			return nil, err
		}
		return expr.List(es...), nil
	case tagSome:
		if len(args) != 2 || args[0] != nil {
			return nil, decodingError("malformed Some")
		}
		e, err := decode(args[1])
		if err != nil {
			return nil, err
		}
		return expr.Some(e), nil
	case tagMerge:
		if len(args) != 2 && len(args) != 3 {
			return nil, decodingError("malformed merge")
		}
		es, err := exprs(args)
		if err != nil {
			return nil, err
		}
		var typ *expr.Expr
		if len(es) == 3 {
			typ = es[2]
		}
		return expr.Merge(es[0], es[1], typ), nil
	case tagRecordType, tagRecord, tagUnionType:
		if len(args) != 1 {
			return nil, decodingError("malformed record")
		}
		m, ok := args[0].(map[string]interface{})
		if !ok {
			return nil, decodingError("malformed record map")
		}
		fields := make([]*expr.Field, 0, len(m))
		for k, fv := range m {
			if fv == nil {
				if tag != tagUnionType {
					return nil, decodingError("field %q has no value", k)
				}
				fields = append(fields, expr.F(k, nil))
				continue
			}
			e, err := decode(fv)
			if err != nil {
				return nil, err
			}
			fields = append(fields, expr.F(k, e))
		}
		switch tag {
		case tagRecordType:
			return expr.RecordType(fields...), nil
		case tagRecord:
			return expr.Record(fields...), nil
		}
		return expr.UnionType(fields...), nil
	case tagField:
		if len(args) != 2 {
			return nil, decodingError("malformed field selection")
		}
		name, ok := args[1].(string)
		if !ok {
			return nil, decodingError("malformed field name")
		}
		e, err := decode(args[0])
		if err != nil {
			return nil, err
		}
		return expr.Select(e, name), nil
	case tagIf:
		if len(args) != 3 {
			return nil, decodingError("malformed if")
		}
		es, err := exprs(args)
		if err != nil {
			return nil, err
		}
		return expr.If(es[0], es[1], es[2]), nil
	case tagNatural:
		if len(args) != 1 {
			return nil, decodingError("malformed natural")
		}
		switch n := args[0].(type) {
		case uint64:
			return expr.Natural(n), nil
		case *big.Int:
			if n.Sign() >= 0 {
				return expr.BigNatural(n), nil
			}
		case big.Int:
			if n.Sign() >= 0 {
				return expr.BigNatural(&n), nil
			}
		}
		return nil, decodingError("invalid natural %v", args[0])
	case tagText:
		if len(args) != 1 {
			return nil, decodingError("interpolated text is not supported")
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, decodingError("malformed text")
		}
		return expr.Text(s), nil
	case tagImport:
		return decodeImport(args)
	case tagLet:
		if len(args) < 4 || (len(args)-1)%3 != 0 {
			return nil, decodingError("malformed let")
		}
		body, err := decode(args[len(args)-1])
		if err != nil {
			return nil, err
		}
		for i := len(args) - 4; i >= 0; i -= 3 {
			name, ok := args[i].(string)
			if !ok {
				return nil, decodingError("malformed let binding")
			}
			var typ *expr.Expr
			if args[i+1] != nil {
				if typ, err = decode(args[i+1]); err != nil {
					return nil, err
				}
			}
			value, err := decode(args[i+2])
			if err != nil {
				return nil, err
			}
			body = expr.Let(name, typ, value, body)
		}
		return body, nil
	case tagAnnot:
		if len(args) != 2 {
			return nil, decodingError("malformed annotation")
		}
		es, err := exprs(args)
		if err != nil {
			return nil, err
		}
		return expr.Annot(es[0], es[1]), nil
	}
	return nil, decodingError("unsupported tag %d", tag)
}

func decodeImport(args []interface{}) (*expr.Expr, error) {
	if len(args) < 3 {
		return nil, decodingError("malformed import")
	}
	imp := new(expr.Import)
	if args[0] != nil {
		b, ok := args[0].([]byte)
		if !ok {
			return nil, decodingError("malformed import hash")
		}
		d, err := canon.FromMultihash(b)
		if err != nil {
			return nil, errors.E("decode", errors.Encoding, err)
		}
		imp.Digest = d
	}
	mode, ok := args[1].(uint64)
	if !ok || mode > uint64(expr.LocationMode) {
		return nil, decodingError("invalid import mode %v", args[1])
	}
	imp.Mode = expr.Mode(mode)
	scheme, ok := args[2].(uint64)
	if !ok {
		return nil, decodingError("invalid import scheme %v", args[2])
	}
	rest := args[3:]
	strs := func(vs []interface{}) ([]string, error) {
		ss := make([]string, len(vs))
		for i, v := range vs {
			s, ok := v.(string)
			if !ok {
				return nil, decodingError("malformed import path component %v", v)
			}
			ss[i] = s
		}
		return ss, nil
	}
	switch scheme {
	case schemeMissing:
		imp.Location = expr.Location{Kind: expr.Missing}
	case schemeEnv:
		if len(rest) != 1 {
			return nil, decodingError("malformed environment import")
		}
		name, ok := rest[0].(string)
		if !ok {
			return nil, decodingError("malformed environment variable name")
		}
		imp.Location = expr.Location{Kind: expr.Env, Path: name}
	case schemeHTTP, schemeHTTPS, schemeS3:
		if len(rest) < 4 || rest[0] != nil {
			return nil, decodingError("malformed remote import")
		}
		parts, err := strs(rest[1 : len(rest)-1])
		if err != nil {
			return nil, err
		}
		name := map[uint64]string{schemeHTTP: "http", schemeHTTPS: "https", schemeS3: "s3"}[scheme]
		u := name + "://" + parts[0] + "/" + strings.Join(parts[1:], "/")
		if q := rest[len(rest)-1]; q != nil {
			s, ok := q.(string)
			if !ok {
				return nil, decodingError("malformed query")
			}
			u += "?" + s
		}
		imp.Location = expr.Location{Kind: expr.Remote, Path: u}
	case schemeAbsolute, schemeHere, schemeParent, schemeHome:
		if len(rest) < 1 {
			return nil, decodingError("malformed local import")
		}
		parts, err := strs(rest)
		if err != nil {
			return nil, err
		}
		prefix := map[uint64]string{schemeAbsolute: "/", schemeHere: "./", schemeParent: "../", schemeHome: "~/"}[scheme]
		imp.Location = expr.Location{Kind: expr.Local, Path: prefix + strings.Join(parts, "/")}
	default:
		return nil, decodingError("unsupported import scheme %d", scheme)
	}
	return expr.ImportExpr(imp), nil
}

// HashNormalizer returns the normalizer used to compute semantic
// hashes from n (nil for the default). Only n's step budget carries
// over: hashes are computed on the beta normal form, without eta
// reduction, whatever the configuration that computes them.
func HashNormalizer(n *expr.Normalizer) *expr.Normalizer {
	if n == nil {
		return new(expr.Normalizer)
	}
	return &expr.Normalizer{MaxSteps: n.MaxSteps}
}

// Canonical returns the bytes that identify e semantically: the
// encoding of e's alpha-normalized beta normal form. The normal form
// is computed by HashNormalizer(n).
func Canonical(n *expr.Normalizer, e *expr.Expr) ([]byte, error) {
	norm, err := HashNormalizer(n).Normalize(e)
	if err != nil {
		return nil, err
	}
	return Encode(expr.AlphaNormalize(norm))
}

// Digest computes the semantic hash of e: the SHA-256 digest of its
// canonical bytes. Expressions that are equivalent up to
// normalization and the renaming of bound variables have equal
// digests. Digest is used both to hash whole files and to verify
// pinned imports.
func Digest(n *expr.Normalizer, e *expr.Expr) (digest.Digest, error) {
	b, err := Canonical(n, e)
	if err != nil {
		return digest.Digest{}, err
	}
	return canon.Digester.FromBytes(b), nil
}
