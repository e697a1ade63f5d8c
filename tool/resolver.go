// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"io/ioutil"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/status"
	"github.com/grailbio/canon/cache"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/fetch"
	"github.com/grailbio/canon/resolver"
	"github.com/grailbio/canon/syntax"
)

// Fetcher returns the fetcher configured by c.Config. Relative local
// paths are taken relative to the configured root.
func (c *Cmd) Fetcher() *fetch.Counting {
	mux := make(fetch.Mux)
	mux["local"] = &fetch.Local{Dir: c.Config.Root}
	mux["env"] = &fetch.Env{}
	mux["missing"] = fetch.Missing
	h := fetch.NewHTTP(fetch.HTTPOptions{
		Timeout: c.Config.HTTP.Timeout,
		Retries: c.Config.HTTP.Retries,
		Rate:    c.Config.HTTP.Rate,
		Burst:   c.Config.HTTP.Burst,
		Log:     c.Log,
	})
	mux["http"] = h
	mux["https"] = h
	sess, err := session.NewSession(&aws.Config{Region: aws.String(c.Config.S3.Region)})
	if err != nil {
		mux.HandleFunc("s3", func(ctx context.Context, loc expr.Location) ([]byte, error) {
			return nil, err
		})
	} else {
		mux["s3"] = &fetch.S3{Client: s3.New(sess)}
	}
	var group *status.Group
	if c.Status != nil {
		group = c.Status.Group("fetch")
	}
	return &fetch.Counting{
		Fetcher: &fetch.Status{Fetcher: mux, Group: group},
		Log:     c.Log,
	}
}

// Cache returns the import cache configured by c.Config, or nil if
// caching is turned off or no cache directory is usable.
func (c *Cmd) Cache() *cache.Store {
	if c.Config.NoCache {
		return nil
	}
	dir, err := c.Config.CacheDirectory()
	if err != nil {
		c.Log.Errorf("import cache disabled: %v", err)
		return nil
	}
	store := cache.New(dir)
	store.Log = c.Log
	return store
}

// Resolver returns a resolver configured by c.Config.
func (c *Cmd) Resolver() *resolver.Resolver {
	lim := limiter.New()
	lim.Release(c.Config.Parallelism)
	return &resolver.Resolver{
		Fetcher:    c.Fetcher(),
		Cache:      c.Cache(),
		Normalizer: c.Config.Normalizer(),
		Limiter:    lim,
		Log:        c.Log,
	}
}

// parse parses the expression named by arg: a local path, or "-" for
// the standard input. It returns the expression together with its
// location, against which its imports are resolved. Expressions read
// from the standard input have the zero location.
func (c *Cmd) parse(ctx context.Context, r *resolver.Resolver, arg string) (*expr.Expr, expr.Location, error) {
	if arg == "-" {
		b, err := ioutil.ReadAll(c.Stdin)
		if err != nil {
			return nil, expr.Location{}, err
		}
		e, err := syntax.Parse("(stdin)", b)
		return e, expr.Location{}, err
	}
	loc := expr.LocalPath(arg)
	b, err := r.Fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, loc, err
	}
	e, err := syntax.Parse(loc.String(), b)
	return e, loc, err
}

// load parses and resolves the expression named by arg.
func (c *Cmd) load(ctx context.Context, r *resolver.Resolver, arg string) (*expr.Expr, error) {
	e, loc, err := c.parse(ctx, r, arg)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, e, loc)
}
