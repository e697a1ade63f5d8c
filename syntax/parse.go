// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package syntax

import (
	"fmt"
	"math"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/grailbio/canon"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
)

// Parse parses the expression in src. Name is used in error
// positions. Errors are of kind errors.Parse and carry the position
// of the failure.
func Parse(name string, src []byte) (e *expr.Expr, err error) {
	p := &parser{name: name, s: string(src), empty: make(map[*expr.Expr]int)}
	defer func() {
		if v := recover(); v != nil {
			perr, ok := v.(posError)
			if !ok {
				panic(v)
			}
			e, err = nil, errors.E("parse", name, errors.Parse, perr)
		}
	}()
	if !utf8.ValidString(p.s) {
		p.errorf("source is not valid UTF-8")
	}
	p.space()
	e = p.expr()
	p.space()
	if !p.eof() {
		p.errorf("unexpected %s", p.describe())
	}
	// Empty lists are only valid with an annotation.
	min := -1
	for _, off := range p.empty {
		if min < 0 || off < min {
			min = off
		}
	}
	if min >= 0 {
		p.off = min
		p.errorf("empty list literal requires an annotation: [] : List T")
	}
	return e, nil
}

// ParseString is Parse for a string source.
func ParseString(name, src string) (*expr.Expr, error) {
	return Parse(name, []byte(src))
}

type parser struct {
	name string
	s    string
	off  int
	// empty records unannotated empty list literals and their offsets.
	empty map[*expr.Expr]int
}

func (p *parser) errorf(format string, args ...interface{}) {
	panic(posError{position(p.name, p.s, p.off), fmt.Errorf(format, args...)})
}

func (p *parser) eof() bool {
	return p.off >= len(p.s)
}

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(p.s[p.off:])
	return r
}

func (p *parser) has(prefix string) bool {
	return strings.HasPrefix(p.s[p.off:], prefix)
}

func (p *parser) accept(prefix string) bool {
	if !p.has(prefix) {
		return false
	}
	p.off += len(prefix)
	return true
}

func (p *parser) expect(prefix string) {
	if !p.accept(prefix) {
		p.errorf("expected %q, found %s", prefix, p.describe())
	}
}

// describe renders the upcoming input for error messages.
func (p *parser) describe() string {
	if p.eof() {
		return "end of input"
	}
	rest := p.s[p.off:]
	if i := strings.IndexAny(rest, " \t\r\n"); i > 0 {
		rest = rest[:i]
	}
	if len(rest) > 16 {
		rest = rest[:16] + "..."
	}
	return strconv.Quote(rest)
}

// space skips whitespace and comments, reporting whether any input
// was consumed.
func (p *parser) space() bool {
	start := p.off
	for !p.eof() {
		switch c := p.s[p.off]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.off++
		case p.has("--"):
			if i := strings.IndexByte(p.s[p.off:], '\n'); i >= 0 {
				p.off += i + 1
			} else {
				p.off = len(p.s)
			}
		case p.has("{-"):
			p.blockComment()
		default:
			return p.off > start
		}
	}
	return p.off > start
}

func (p *parser) blockComment() {
	start := p.off
	depth := 0
	for {
		switch {
		case p.eof():
			p.off = start
			p.errorf("unterminated block comment")
		case p.accept("{-"):
			depth++
		case p.accept("-}"):
			depth--
			if depth == 0 {
				return
			}
		default:
			_, n := utf8.DecodeRuneInString(p.s[p.off:])
			p.off += n
		}
	}
}

func isLabelStart(c byte) bool {
	return c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func isLabelChar(c byte) bool {
	return isLabelStart(c) || isDigit(c) || c == '-' || c == '/'
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func (p *parser) peekKeyword(w string) bool {
	if !p.has(w) {
		return false
	}
	n := p.off + len(w)
	return n >= len(p.s) || !isLabelChar(p.s[n])
}

func (p *parser) keyword(w string) bool {
	if !p.peekKeyword(w) {
		return false
	}
	p.off += len(w)
	return true
}

func (p *parser) expectKeyword(w string) {
	if !p.keyword(w) {
		p.errorf("expected %q, found %s", w, p.describe())
	}
}

func (p *parser) arrow() bool {
	return p.accept("->") || p.accept("→")
}

// labelToken reads a plain or backtick-quoted label.
func (p *parser) labelToken() (name string, quoted bool) {
	if p.accept("`") {
		i := strings.IndexByte(p.s[p.off:], '`')
		if i < 0 {
			p.errorf("unterminated quoted label")
		}
		name = p.s[p.off : p.off+i]
		p.off += i + 1
		return name, true
	}
	if p.eof() || !isLabelStart(p.s[p.off]) {
		p.errorf("expected label, found %s", p.describe())
	}
	start := p.off
	for p.off++; !p.eof() && isLabelChar(p.s[p.off]); p.off++ {
	}
	return p.s[start:p.off], false
}

// label reads a label that names a binder or field.
func (p *parser) label() string {
	start := p.off
	name, quoted := p.labelToken()
	if !quoted && expr.Keywords[name] {
		p.off = start
		p.errorf("keyword %q cannot be used as a label", name)
	}
	return name
}

func (p *parser) expr() *expr.Expr {
	switch {
	case p.accept("\\"), p.accept("λ"):
		name, typ := p.binder()
		return expr.Lambda(name, typ, p.expr())
	case p.keyword("forall"), p.accept("∀"):
		name, typ := p.binder()
		return expr.Pi(name, typ, p.expr())
	case p.keyword("let"):
		return p.let()
	case p.keyword("if"):
		p.space()
		cond := p.expr()
		p.space()
		p.expectKeyword("then")
		p.space()
		t := p.expr()
		p.space()
		p.expectKeyword("else")
		p.space()
		return expr.If(cond, t, p.expr())
	}
	e := p.operator(1)
	save := p.off
	p.space()
	switch {
	case p.arrow():
		p.space()
		return expr.Pi("_", e, p.expr())
	case p.has(":"):
		p.off++
		p.space()
		start := p.off
		typ := p.expr()
		return p.annotate(e, typ, start)
	}
	p.off = save
	return e
}

// annotate applies the annotation typ (parsed at offset off) to e.
func (p *parser) annotate(e, typ *expr.Expr, off int) *expr.Expr {
	if _, ok := p.empty[e]; ok {
		if typ.Kind != expr.AppKind || typ.Left.Kind != expr.BuiltinKind || typ.Left.Name != "List" {
			p.off = off
			p.errorf("empty list literal must be annotated with List T")
		}
		delete(p.empty, e)
		return expr.EmptyList(typ.Right)
	}
	if e.Kind == expr.MergeKind && e.Type == nil {
		return expr.Merge(e.Left, e.Right, typ)
	}
	return expr.Annot(e, typ)
}

// binder parses "(x : T) ->" following a lambda or forall.
func (p *parser) binder() (string, *expr.Expr) {
	p.space()
	p.expect("(")
	p.space()
	name := p.label()
	p.space()
	p.expect(":")
	p.space()
	typ := p.expr()
	p.space()
	p.expect(")")
	p.space()
	if !p.arrow() {
		p.errorf("expected \"->\", found %s", p.describe())
	}
	p.space()
	return name, typ
}

func (p *parser) let() *expr.Expr {
	type binding struct {
		name       string
		typ, value *expr.Expr
	}
	var bindings []binding
	for {
		p.space()
		var b binding
		b.name = p.label()
		p.space()
		if p.accept(":") {
			p.space()
			b.typ = p.expr()
			p.space()
		}
		p.expect("=")
		p.space()
		b.value = p.expr()
		p.space()
		bindings = append(bindings, b)
		if p.keyword("let") {
			continue
		}
		p.expectKeyword("in")
		break
	}
	p.space()
	body := p.expr()
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		body = expr.Let(b.name, b.typ, b.value, body)
	}
	return body
}

const maxLevel = 11

// binop accepts an operator of the given precedence level.
func (p *parser) binop(level int) (expr.Op, bool) {
	switch level {
	case 1:
		if p.accept("||") {
			return expr.OpOr, true
		}
	case 2:
		if p.has("+") && !p.has("++") {
			p.off++
			return expr.OpPlus, true
		}
	case 3:
		if p.accept("++") {
			return expr.OpTextAppend, true
		}
	case 4:
		if p.accept("#") {
			return expr.OpListAppend, true
		}
	case 5:
		if p.accept("&&") {
			return expr.OpAnd, true
		}
	case 6:
		if p.accept("/\\") || p.accept("∧") {
			return expr.OpCombine, true
		}
	case 7:
		if p.has("//") && !p.has("//\\\\") {
			p.off += 2
			return expr.OpPrefer, true
		}
		if p.accept("⫽") {
			return expr.OpPrefer, true
		}
	case 8:
		if p.accept("//\\\\") || p.accept("⩓") {
			return expr.OpCombineTypes, true
		}
	case 9:
		if p.accept("*") {
			return expr.OpTimes, true
		}
	case 10:
		if p.accept("==") {
			return expr.OpEq, true
		}
	case 11:
		if p.accept("!=") {
			return expr.OpNe, true
		}
	}
	return 0, false
}

func (p *parser) operator(level int) *expr.Expr {
	if level > maxLevel {
		return p.application()
	}
	e := p.operator(level + 1)
	for {
		save := p.off
		p.space()
		op, ok := p.binop(level)
		if !ok {
			p.off = save
			return e
		}
		p.space()
		e = expr.Binary(op, e, p.operator(level+1))
	}
}

// argStop are the keywords that end an application.
var argStop = []string{"then", "else", "in", "as", "using", "let", "if", "forall", "merge", "Some", "with", "assert"}

func (p *parser) application() *expr.Expr {
	var e *expr.Expr
	switch {
	case p.keyword("merge"):
		p.space()
		handlers := p.importExpr()
		p.space()
		e = expr.Merge(handlers, p.importExpr(), nil)
	case p.keyword("Some"):
		p.space()
		e = expr.Some(p.importExpr())
	default:
		e = p.importExpr()
	}
	for {
		save := p.off
		if !p.space() || !p.argStart() {
			p.off = save
			return e
		}
		e = expr.App(e, p.importExpr())
	}
}

// argStart tells whether the upcoming input begins an argument.
func (p *parser) argStart() bool {
	if p.eof() {
		return false
	}
	for _, w := range argStop {
		if p.peekKeyword(w) {
			return false
		}
	}
	switch c := p.s[p.off]; {
	case c == '(' || c == '{' || c == '[' || c == '<' || c == '"' || c == '`':
		return true
	case c == '/':
		return !p.has("//") && !p.has("/\\")
	case c == '.':
		return p.has("./") || p.has("../")
	case c == '~':
		return p.has("~/")
	case c == '-':
		return p.has("-Infinity") || p.off+1 < len(p.s) && isDigit(p.s[p.off+1])
	case isLabelStart(c) || isDigit(c):
		return true
	}
	return false
}

func (p *parser) importExpr() *expr.Expr {
	if p.importStart() {
		return p.importRef()
	}
	return p.selector()
}

func (p *parser) importStart() bool {
	switch {
	case p.has("./"), p.has("../"), p.has("~/"):
		return true
	case p.has("/"):
		return !p.has("//") && !p.has("/\\")
	case p.has("http://"), p.has("https://"), p.has("s3://"), p.has("env:"):
		return true
	}
	return p.peekKeyword("missing")
}

// pathToken reads an import path or URL.
func (p *parser) pathToken() string {
	start := p.off
	for !p.eof() && !strings.ContainsRune(" \t\r\n()[]{}<>,\"", rune(p.s[p.off])) {
		p.off++
	}
	if p.off == start {
		p.errorf("expected import path, found %s", p.describe())
	}
	return p.s[start:p.off]
}

func (p *parser) importRef() *expr.Expr {
	var (
		loc   expr.Location
		start = p.off
	)
	switch {
	case p.keyword("missing"):
		loc = expr.Location{Kind: expr.Missing}
	case p.accept("env:"):
		var name string
		if p.accept("\"") {
			i := strings.IndexByte(p.s[p.off:], '"')
			if i <= 0 {
				p.errorf("invalid environment variable name")
			}
			name = p.s[p.off : p.off+i]
			p.off += i + 1
		} else {
			begin := p.off
			for !p.eof() && (isLabelStart(p.s[p.off]) || p.off > begin && isDigit(p.s[p.off])) {
				p.off++
			}
			if p.off == begin {
				p.errorf("expected environment variable name, found %s", p.describe())
			}
			name = p.s[begin:p.off]
		}
		loc = expr.Location{Kind: expr.Env, Path: name}
	case p.has("http://"), p.has("https://"), p.has("s3://"):
		tok := p.pathToken()
		u, err := url.Parse(tok)
		if err != nil || u.Host == "" {
			p.off = start
			p.errorf("invalid URL %q", tok)
		}
		loc = expr.Location{Kind: expr.Remote, Path: u.String()}
	default:
		loc = expr.LocalPath(p.pathToken())
	}
	imp := &expr.Import{Location: loc}
	save := p.off
	p.space()
	if p.accept("sha256:") {
		begin := p.off
		for !p.eof() && strings.IndexByte("0123456789abcdefABCDEF", p.s[p.off]) >= 0 {
			p.off++
		}
		d, err := canon.ParseDigest("sha256:" + strings.ToLower(p.s[begin:p.off]))
		if err != nil {
			p.off = begin
			p.errorf("invalid import hash: %v", err)
		}
		imp.Digest = d
		save = p.off
		p.space()
	}
	if p.keyword("as") {
		p.space()
		switch {
		case p.keyword("Text"):
			imp.Mode = expr.TextMode
		case p.keyword("Location"):
			imp.Mode = expr.LocationMode
		default:
			p.errorf("expected Text or Location, found %s", p.describe())
		}
		save = p.off
	}
	p.off = save
	return expr.ImportExpr(imp)
}

func (p *parser) selector() *expr.Expr {
	e := p.primitive()
	for p.has(".") && !p.has("./") && !p.has("..") {
		p.off++
		e = expr.Select(e, p.label())
	}
	return e
}

func (p *parser) primitive() *expr.Expr {
	if p.eof() {
		p.errorf("unexpected end of input")
	}
	switch c := p.s[p.off]; {
	case c == '(':
		p.off++
		p.space()
		e := p.expr()
		p.space()
		p.expect(")")
		return e
	case c == '{':
		return p.record()
	case c == '<':
		return p.union()
	case c == '[':
		return p.list()
	case c == '"':
		return expr.Text(p.text())
	case c == '\'' && p.has("''"):
		p.errorf("multi-line text literals are not supported")
	case c == '-' || c == '+' || isDigit(c):
		return p.number()
	case c == '`' || isLabelStart(c):
		return p.identifier()
	}
	p.errorf("unexpected %s", p.describe())
	panic("not reached")
}

func (p *parser) identifier() *expr.Expr {
	start := p.off
	name, quoted := p.labelToken()
	if !quoted {
		switch name {
		case "True", "False":
			return expr.Bool(name == "True")
		case "Infinity":
			return expr.Double(math.Inf(1))
		case "NaN":
			return expr.Double(math.NaN())
		}
		if expr.IsBuiltin(name) {
			return expr.Builtin(name)
		}
		if expr.Keywords[name] {
			p.off = start
			p.errorf("unexpected keyword %q", name)
		}
	}
	index := 0
	if p.accept("@") {
		begin := p.off
		for !p.eof() && isDigit(p.s[p.off]) {
			p.off++
		}
		n, err := strconv.Atoi(p.s[begin:p.off])
		if err != nil {
			p.off = begin
			p.errorf("invalid variable index")
		}
		index = n
	}
	return expr.Var(name, index)
}

func (p *parser) digits() string {
	start := p.off
	for !p.eof() && isDigit(p.s[p.off]) {
		p.off++
	}
	return p.s[start:p.off]
}

func (p *parser) number() *expr.Expr {
	start := p.off
	if p.accept("-Infinity") {
		return expr.Double(math.Inf(-1))
	}
	signed := p.accept("-") || p.accept("+")
	if p.digits() == "" {
		p.errorf("expected digits, found %s", p.describe())
	}
	double := false
	if p.has(".") && p.off+1 < len(p.s) && isDigit(p.s[p.off+1]) {
		p.off++
		p.digits()
		double = true
	}
	if !p.eof() && (p.s[p.off] == 'e' || p.s[p.off] == 'E') {
		p.off++
		if !p.accept("-") {
			p.accept("+")
		}
		if p.digits() == "" {
			p.errorf("expected exponent, found %s", p.describe())
		}
		double = true
	}
	tok := p.s[start:p.off]
	if double {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			p.off = start
			p.errorf("invalid double literal %s", tok)
		}
		return expr.Double(f)
	}
	if signed {
		p.off = start
		p.errorf("integer literals are not supported")
	}
	n, ok := new(big.Int).SetString(tok, 10)
	if !ok {
		p.off = start
		p.errorf("invalid natural literal %s", tok)
	}
	return expr.BigNatural(n)
}

func (p *parser) text() string {
	start := p.off
	p.off++
	var b strings.Builder
	for {
		if p.eof() {
			p.off = start
			p.errorf("unterminated text literal")
		}
		switch c := p.s[p.off]; c {
		case '"':
			p.off++
			return b.String()
		case '$':
			if p.has("${") {
				p.errorf("text interpolation is not supported")
			}
			b.WriteByte(c)
			p.off++
		case '\\':
			p.off++
			if p.eof() {
				continue
			}
			esc := p.s[p.off]
			p.off++
			switch esc {
			case '"', '\\', '/', '$':
				b.WriteByte(esc)
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'u':
				r := p.unicodeEscape()
				if utf16.IsSurrogate(r) {
					if !p.accept("\\u") {
						p.errorf("unpaired surrogate in text literal")
					}
					r = utf16.DecodeRune(r, p.unicodeEscape())
					if r == utf8.RuneError {
						p.errorf("invalid surrogate pair in text literal")
					}
				}
				b.WriteRune(r)
			default:
				p.off--
				p.errorf("invalid escape \\%c", esc)
			}
		default:
			_, n := utf8.DecodeRuneInString(p.s[p.off:])
			b.WriteString(p.s[p.off : p.off+n])
			p.off += n
		}
	}
}

// unicodeEscape reads the hex part of \uXXXX or \u{X...}.
func (p *parser) unicodeEscape() rune {
	var hex string
	if p.accept("{") {
		i := strings.IndexByte(p.s[p.off:], '}')
		if i <= 0 || i > 6 {
			p.errorf("invalid unicode escape")
		}
		hex = p.s[p.off : p.off+i]
		p.off += i + 1
	} else {
		if p.off+4 > len(p.s) {
			p.errorf("invalid unicode escape")
		}
		hex = p.s[p.off : p.off+4]
		p.off += 4
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || n > utf8.MaxRune {
		p.errorf("invalid unicode escape \\u%s", hex)
	}
	return rune(n)
}

func (p *parser) record() *expr.Expr {
	p.off++
	p.space()
	if p.accept(",") {
		p.space()
	}
	if p.accept("}") {
		return expr.RecordType()
	}
	if p.accept("=") {
		p.space()
		p.expect("}")
		return expr.Record()
	}
	var (
		fields []*expr.Field
		seen   = make(map[string]bool)
		kind   = expr.RecordKind
	)
	for i := 0; ; i++ {
		start := p.off
		name := p.label()
		if seen[name] {
			p.off = start
			p.errorf("duplicate field %q", name)
		}
		seen[name] = true
		p.space()
		if i == 0 && p.has(":") {
			kind = expr.RecordTypeKind
		}
		var value *expr.Expr
		switch {
		case kind == expr.RecordTypeKind:
			p.expect(":")
			p.space()
			value = p.expr()
		case p.accept("="):
			p.space()
			value = p.expr()
		case p.has(",") || p.has("}"):
			value = expr.Var(name, 0)
		default:
			p.errorf("expected \"=\", found %s", p.describe())
		}
		fields = append(fields, expr.F(name, value))
		p.space()
		if p.accept(",") {
			p.space()
			if p.accept("}") {
				break
			}
			continue
		}
		p.expect("}")
		break
	}
	if kind == expr.RecordTypeKind {
		return expr.RecordType(fields...)
	}
	return expr.Record(fields...)
}

func (p *parser) union() *expr.Expr {
	p.off++
	p.space()
	if p.accept("|") {
		p.space()
	}
	if p.accept(">") {
		return expr.UnionType()
	}
	var (
		alts []*expr.Field
		seen = make(map[string]bool)
	)
	for {
		start := p.off
		name := p.label()
		if seen[name] {
			p.off = start
			p.errorf("duplicate alternative %q", name)
		}
		seen[name] = true
		p.space()
		var typ *expr.Expr
		if p.accept(":") {
			p.space()
			typ = p.expr()
			p.space()
		}
		alts = append(alts, expr.F(name, typ))
		if p.accept("|") {
			p.space()
			if p.accept(">") {
				break
			}
			continue
		}
		p.expect(">")
		break
	}
	return expr.UnionType(alts...)
}

func (p *parser) list() *expr.Expr {
	start := p.off
	p.off++
	p.space()
	if p.accept(",") {
		p.space()
	}
	if p.accept("]") {
		e := &expr.Expr{Kind: expr.ListKind}
		p.empty[e] = start
		return e
	}
	var elems []*expr.Expr
	for {
		elems = append(elems, p.expr())
		p.space()
		if p.accept(",") {
			p.space()
			if p.accept("]") {
				break
			}
			continue
		}
		p.expect("]")
		break
	}
	return expr.List(elems...)
}
