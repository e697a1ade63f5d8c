// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package canon implements the shared primitives for computing the
// semantic identity of configuration expressions.
//
// An expression's identity is the digest of the canonical encoding of
// its normal form (see packages expr and codec). Digests are used both
// to verify the integrity of imported expressions and to key the
// content-addressed cache of resolved imports (see packages resolver
// and cache).
package canon
