// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package canon

// Version is the version of this canon distribution.
var Version = "v0.1.0"

// EncodingVersion identifies the canonical binary layout produced by
// package codec. Digests are only comparable between implementations
// that agree on it.
const EncodingVersion = "1"
