// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package resolver replaces the imports in an expression with the
// expressions they refer to. Imports are fetched, parsed, resolved
// recursively and normalized; imports pinned to a semantic hash are
// verified against it, and served from (and stored in) a local cache
// keyed by that hash.
//
// Each call to a Resolver method is a single resolution run. Within
// a run, every distinct import (location and mode) is fetched at
// most once, even when it is discovered concurrently by independent
// branches: the first branch to reach an import claims it, and the
// others wait for its result. Sibling imports are resolved
// concurrently; the first failure aborts the whole run.
package resolver

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/canon"
	"github.com/grailbio/canon/cache"
	"github.com/grailbio/canon/codec"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/fetch"
	"github.com/grailbio/canon/log"
	"github.com/grailbio/canon/syntax"
	"golang.org/x/sync/errgroup"
)

// Resolver resolves imports.
type Resolver struct {
	// Fetcher retrieves the content of imported locations.
	Fetcher fetch.Fetcher
	// Cache stores the canonical encodings of verified imports. If
	// nil, no caching is performed.
	Cache *cache.Store
	// Parse parses fetched source. If nil, syntax.Parse is used.
	Parse func(name string, src []byte) (*expr.Expr, error)
	// Normalizer bounds the normalization of imported expressions
	// and the computation of semantic hashes. Imports are always
	// normalized by codec.HashNormalizer(Normalizer), so that the
	// result does not depend on the normalizer's Eta setting.
	Normalizer *expr.Normalizer
	// Limiter, if not nil, bounds the number of concurrent fetches.
	Limiter *limiter.Limiter

	Log *log.Logger
}

// Resolve returns e with every import replaced by the (normalized)
// expression it refers to. Here is the location of e, against which
// relative imports are resolved; it is the zero Location for
// expressions that have no location of their own.
func (r *Resolver) Resolve(ctx context.Context, e *expr.Expr, here expr.Location) (*expr.Expr, error) {
	return r.newRun().resolve(ctx, e, here, rootKey(here))
}

// Load fetches, parses and resolves the expression at loc.
func (r *Resolver) Load(ctx context.Context, loc expr.Location) (*expr.Expr, error) {
	b, err := r.Fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	e, err := r.parse(loc.String(), b)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, e, loc)
}

// SemanticHash resolves e and returns the semantic hash of the
// result.
func (r *Resolver) SemanticHash(ctx context.Context, e *expr.Expr, here expr.Location) (digest.Digest, error) {
	resolved, err := r.Resolve(ctx, e, here)
	if err != nil {
		return digest.Digest{}, err
	}
	return codec.Digest(r.Normalizer, resolved)
}

// Freeze returns e with each of its imports pinned to the semantic
// hash of its resolved content. Imports are not substituted, and
// imports of locations (which are never fetched) are left as they
// are. Imports that are already pinned are verified.
func (r *Resolver) Freeze(ctx context.Context, e *expr.Expr, here expr.Location) (*expr.Expr, error) {
	rn := r.newRun()
	key := rootKey(here)
	imports := expr.Imports(e)
	frozen := make([]*expr.Expr, len(imports))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range imports {
		i, node := i, node
		if node.Import.Mode == expr.LocationMode {
			frozen[i] = node
			continue
		}
		g.Go(func() error {
			v, err := rn.resolveImport(gctx, node.Import, here, key)
			if err != nil {
				return err
			}
			d, err := codec.Digest(r.Normalizer, v)
			if err != nil {
				return errors.E("freeze", node.Import.Location.String(), err)
			}
			imp := *node.Import
			imp.Digest = d
			frozen[i] = expr.ImportExpr(&imp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return substitute(e, imports, frozen), nil
}

func (r *Resolver) parse(name string, src []byte) (*expr.Expr, error) {
	if r.Parse != nil {
		return r.Parse(name, src)
	}
	return syntax.Parse(name, src)
}

func (r *Resolver) normalizer() *expr.Normalizer {
	return codec.HashNormalizer(r.Normalizer)
}

// rootKey is the memo key of a top-level expression located at here.
func rootKey(here expr.Location) string {
	if here.IsZero() {
		return "<root>"
	}
	return (&expr.Import{Location: here}).Key(expr.Location{})
}

// run is the state of a single resolution run.
type run struct {
	*Resolver

	once    once.Map
	results sync.Map // key → *expr.Expr

	mu sync.Mutex
	// edges records the import graph discovered so far: key → imported keys.
	edges map[string]map[string]bool
}

func (r *Resolver) newRun() *run {
	return &run{Resolver: r, edges: make(map[string]map[string]bool)}
}

// addEdge records that the expression with key from imports the one
// with key to. It reports whether the edge closes a cycle in the
// graph. Since every branch waiting on another's claimed import has
// recorded the edge it waits along, a waiting cycle is always
// reported by the edge that would close it, and never deadlocks.
func (rn *run) addEdge(from, to string) bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if from == to {
		return true
	}
	if rn.edges[from] == nil {
		rn.edges[from] = make(map[string]bool)
	}
	rn.edges[from][to] = true
	// Is from reachable from to?
	seen := map[string]bool{to: true}
	stack := []string{to}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range rn.edges[k] {
			if next == from {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// resolve resolves the imports of e, which is located at here and has
// memo key key, concurrently.
func (rn *run) resolve(ctx context.Context, e *expr.Expr, here expr.Location, key string) (*expr.Expr, error) {
	imports := expr.Imports(e)
	if len(imports) == 0 {
		return e, nil
	}
	resolved := make([]*expr.Expr, len(imports))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range imports {
		i, node := i, node
		g.Go(func() error {
			var err error
			resolved[i], err = rn.resolveImport(gctx, node.Import, here, key)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return substitute(e, imports, resolved), nil
}

// substitute replaces the nodes imports of e with their counterparts
// in repl.
func substitute(e *expr.Expr, imports, repl []*expr.Expr) *expr.Expr {
	m := make(map[*expr.Expr]*expr.Expr, len(imports))
	for i := range imports {
		m[imports[i]] = repl[i]
	}
	return expr.Rewrite(e, func(n *expr.Expr) *expr.Expr { return m[n] })
}

// resolveImport resolves imp, imported by the expression at here with
// memo key parent. Errors are annotated with the import's location,
// so that the chain of annotations is the trail of imports leading
// to the failure.
func (rn *run) resolveImport(ctx context.Context, imp *expr.Import, here expr.Location, parent string) (*expr.Expr, error) {
	loc := here.Chain(imp.Location)
	if here.IsRemote() && (loc.Kind == expr.Local || loc.Kind == expr.Env) {
		return nil, errors.E("import", loc.String(), errors.NotAllowed,
			errors.Errorf("remote expression %s may not import %s", here, loc))
	}
	if imp.Mode == expr.LocationMode {
		return expr.LocationValue(loc), nil
	}
	if imp.Pinned() {
		if v, ok := rn.cached(ctx, imp.Digest, loc); ok {
			return v, nil
		}
	}
	key := imp.Key(here)
	// Text imports are leaves of the import graph.
	if imp.Mode == expr.CodeMode && rn.addEdge(parent, key) {
		return nil, errors.E("import", loc.String(), errors.Cycle,
			errors.Errorf("%s imports itself", loc))
	}
	err := rn.once.Do(key, func() error {
		v, err := rn.load(ctx, loc, imp.Mode, key)
		if err != nil {
			return err
		}
		rn.results.Store(key, v)
		return nil
	})
	if err != nil {
		return nil, errors.E("import", loc.String(), err)
	}
	x, _ := rn.results.Load(key)
	v := x.(*expr.Expr)
	if !imp.Pinned() {
		return v, nil
	}
	b, err := codec.Canonical(rn.Normalizer, v)
	if err != nil {
		return nil, errors.E("import", loc.String(), err)
	}
	if d := canon.Digester.FromBytes(b); d != imp.Digest {
		return nil, errors.E("import", loc.String(), errors.Integrity,
			errors.Errorf("content has semantic hash %v, expected %v", d, imp.Digest))
	}
	if rn.Cache != nil {
		if err := rn.Cache.Put(ctx, imp.Digest, b); err != nil {
			// The import is verified; a failure to cache it only costs a
			// future fetch.
			rn.Log.Errorf("cache %s: %v", loc, err)
		}
	}
	return v, nil
}

// cached retrieves the expression with semantic hash d from the
// cache. Missing or corrupt entries are reported as misses.
func (rn *run) cached(ctx context.Context, d digest.Digest, loc expr.Location) (*expr.Expr, bool) {
	if rn.Cache == nil {
		return nil, false
	}
	b, err := rn.Cache.Get(ctx, d)
	if err != nil {
		if !errors.Is(errors.NotExist, err) {
			rn.Log.Errorf("cache %s: %v", loc, err)
		}
		return nil, false
	}
	v, err := codec.Decode(b)
	if err != nil {
		rn.Log.Errorf("cache %s: %v", loc, err)
		return nil, false
	}
	rn.Log.Debugf("resolve %s: cache hit %v", loc, d)
	return v, true
}

// load fetches and resolves the import of loc in the given mode.
// The result is closed and normalized.
func (rn *run) load(ctx context.Context, loc expr.Location, mode expr.Mode, key string) (*expr.Expr, error) {
	if rn.Limiter != nil {
		if err := rn.Limiter.Acquire(ctx, 1); err != nil {
			return nil, errors.E("fetch", loc.String(), err)
		}
	}
	b, err := rn.Fetcher.Fetch(ctx, loc)
	if rn.Limiter != nil {
		rn.Limiter.Release(1)
	}
	if err != nil {
		return nil, err
	}
	if mode == expr.TextMode {
		if !utf8.Valid(b) {
			return nil, errors.E("resolve", loc.String(), errors.Invalid, errors.New("text import is not valid UTF-8"))
		}
		return expr.Text(string(b)), nil
	}
	e, err := rn.parse(loc.String(), b)
	if err != nil {
		return nil, err
	}
	e, err = rn.resolve(ctx, e, loc, key)
	if err != nil {
		return nil, err
	}
	if free := expr.FreeVars(e); len(free) > 0 {
		return nil, errors.E("resolve", loc.String(), errors.Invalid,
			errors.Errorf("imported expression has free variables: %s", strings.Join(free, ", ")))
	}
	e, err = rn.normalizer().Normalize(e)
	if err != nil {
		return nil, errors.E("resolve", loc.String(), err)
	}
	rn.Log.Debugf("resolve %s: loaded", loc)
	return e, nil
}
