// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package canon

import (
	"crypto"
	_ "crypto/sha256"
	"fmt"

	"github.com/grailbio/base/digest"
)

// Digester computes the semantic digests of canonically encoded
// expressions.
var Digester = digest.Digester(crypto.SHA256)

// multihashPrefix is the multihash header (function code, length) of
// a SHA-256 digest. It prefixes digests embedded in encoded imports
// and names cache entries.
var multihashPrefix = []byte{0x12, 0x20}

// MultihashPrefix is the hex rendering of the multihash header.
const MultihashPrefix = "1220"

// ParseDigest parses a digest of the form sha256:<hex>.
func ParseDigest(s string) (digest.Digest, error) {
	d, err := Digester.Parse(s)
	if err != nil {
		return digest.Digest{}, err
	}
	if d.IsAbbrev() {
		return digest.Digest{}, fmt.Errorf("abbreviated digest %s", s)
	}
	return d, nil
}

// Multihash returns the multihash form of digest d.
func Multihash(d digest.Digest) []byte {
	b := make([]byte, 0, len(multihashPrefix)+crypto.SHA256.Size())
	b = append(b, multihashPrefix...)
	return append(b, d.Bytes()...)
}

// FromMultihash parses a multihash-formatted SHA-256 digest.
func FromMultihash(b []byte) (digest.Digest, error) {
	if len(b) != len(multihashPrefix)+crypto.SHA256.Size() || b[0] != multihashPrefix[0] || b[1] != multihashPrefix[1] {
		return digest.Digest{}, fmt.Errorf("invalid sha256 multihash %x", b)
	}
	return Digester.New(b[len(multihashPrefix):]), nil
}
