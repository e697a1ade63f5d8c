// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fetch provides the fetchers that retrieve the raw bytes of
// imported expressions: from the local file system, over HTTP(S),
// from S3, and from environment variables. Fetchers are combined by
// a Mux, which dispatches on the location's scheme.
package fetch

import (
	"context"
	"sort"
	"sync"

	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/log"
)

// A Fetcher retrieves the content stored at a location. Fetchers
// report nonexistent resources with errors flagged errors.NotExist.
type Fetcher interface {
	Fetch(ctx context.Context, loc expr.Location) ([]byte, error)
}

// Func is an adapter to allow the use of ordinary functions as a
// Fetcher.
type Func func(ctx context.Context, loc expr.Location) ([]byte, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	return f(ctx, loc)
}

// Mux is a multiplexing fetcher. Keys in the underlying map are
// location schemes (see expr.Location.Scheme), each mapping to a
// fetcher.
type Mux map[string]Fetcher

// HandleFunc adds the provided function as a handler for the given scheme.
func (m Mux) HandleFunc(scheme string, f func(ctx context.Context, loc expr.Location) ([]byte, error)) {
	m[scheme] = Func(f)
}

// Fetch implements Fetcher.
func (m Mux) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	f := m[loc.Scheme()]
	if f == nil {
		return nil, errors.E("fetch", loc.String(), errors.NotSupported,
			errors.Errorf("no fetcher for scheme %q", loc.Scheme()))
	}
	return f.Fetch(ctx, loc)
}

// Missing is the fetcher for the missing import: it never succeeds.
var Missing = Func(func(ctx context.Context, loc expr.Location) ([]byte, error) {
	return nil, errors.E("fetch", loc.String(), errors.NotExist)
})

// Counting is a Fetcher that counts the fetches it forwards to its
// underlying Fetcher, by location.
type Counting struct {
	Fetcher
	// Log, if not nil, receives a debug message for every fetch.
	Log *log.Logger

	mu     sync.Mutex
	counts map[expr.Location]int
}

// Fetch implements Fetcher.
func (c *Counting) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[expr.Location]int)
	}
	c.counts[loc]++
	c.mu.Unlock()
	b, err := c.Fetcher.Fetch(ctx, loc)
	if err != nil {
		c.Log.Debugf("fetch %s: %v", loc, err)
	} else {
		c.Log.Debugf("fetch %s: %d bytes", loc, len(b))
	}
	return b, err
}

// Count returns the number of fetches of loc.
func (c *Counting) Count(loc expr.Location) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[loc]
}

// Total returns the total number of fetches.
func (c *Counting) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, k := range c.counts {
		n += k
	}
	return n
}

// Locations returns the fetched locations, ordered by their string
// rendering.
func (c *Counting) Locations() []expr.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	locs := make([]expr.Location, 0, len(c.counts))
	for loc := range c.counts {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].String() < locs[j].String() })
	return locs
}
