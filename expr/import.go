// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package expr

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/digest"
)

// LocationKind is the kind of place an import refers to.
type LocationKind int

const (
	// Local is a filesystem path.
	Local LocationKind = iota
	// Remote is a URL: http, https or s3.
	Remote
	// Env is an environment variable.
	Env
	// Missing is the import that never resolves.
	Missing
)

// Mode is the manner in which an import is incorporated.
type Mode int

const (
	// CodeMode imports the location's contents as an expression.
	CodeMode Mode = iota
	// TextMode imports the location's contents as a text literal.
	TextMode
	// LocationMode imports the location itself, without fetching it.
	LocationMode
)

func (m Mode) String() string {
	switch m {
	case CodeMode:
		return "code"
	case TextMode:
		return "text"
	case LocationMode:
		return "location"
	}
	return "unknown"
}

// A Location names the source of an import. Local paths are kept in
// slash-separated, cleaned form and always begin with one of the
// prefixes "./", "../", "~/" or "/". Remote locations hold the URL
// string; Env locations hold the variable name.
type Location struct {
	Kind LocationKind
	Path string
}

// LocalPath returns the Local location for the (operating system)
// path p. Relative paths are taken relative to the current directory.
func LocalPath(p string) Location {
	p = filepath.ToSlash(p)
	switch {
	case strings.HasPrefix(p, "/"), strings.HasPrefix(p, "~/"),
		strings.HasPrefix(p, "./"), strings.HasPrefix(p, "../"):
	default:
		p = "./" + p
	}
	return Location{Kind: Local, Path: cleanLocal(p)}
}

// cleanLocal cleans the local path p while retaining its prefix.
// Leading ".." elements of home paths are kept: ~/../x names a
// sibling of the home directory.
func cleanLocal(p string) string {
	switch {
	case strings.HasPrefix(p, "~/"):
		return "~/" + path.Clean(p[2:])
	case strings.HasPrefix(p, "/"):
		return path.Clean(p)
	}
	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return p
	}
	return "./" + p
}

// String renders the location in the surface syntax.
func (l Location) String() string {
	switch l.Kind {
	case Env:
		return "env:" + l.Path
	case Missing:
		return "missing"
	}
	return l.Path
}

// Scheme returns the name under which fetchers for this location are
// registered: "local", "http", "https", "s3", "env", or "missing".
func (l Location) Scheme() string {
	switch l.Kind {
	case Local:
		return "local"
	case Env:
		return "env"
	case Missing:
		return "missing"
	}
	if i := strings.Index(l.Path, "://"); i > 0 {
		return strings.ToLower(l.Path[:i])
	}
	return ""
}

// IsZero tells whether l is the zero location, which is used as the
// parent of top-level expressions that have no location of their own.
func (l Location) IsZero() bool {
	return l == Location{}
}

// IsRemote tells whether l names a remote resource.
func (l Location) IsRemote() bool {
	return l.Kind == Remote
}

// relative tells whether l is a local path relative to its importer.
func (l Location) relative() bool {
	return l.Kind == Local && (strings.HasPrefix(l.Path, "./") || strings.HasPrefix(l.Path, "../") ||
		l.Path == "." || l.Path == "..")
}

// Chain returns the location of child when it is imported from an
// expression located at parent. Relative local paths are resolved
// against the parent's directory, or against the parent's URL when
// the parent is remote. All other locations are returned unchanged.
func (l Location) Chain(child Location) Location {
	if !child.relative() {
		return child
	}
	switch l.Kind {
	case Local:
		if l.Path == "" {
			return child
		}
		if strings.HasPrefix(l.Path, "~/") {
			rest := path.Join(path.Dir(l.Path[2:]), child.Path)
			return Location{Kind: Local, Path: cleanLocal("~/" + rest)}
		}
		joined := path.Join(path.Dir(l.Path), child.Path)
		if strings.HasPrefix(joined, "/") {
			return Location{Kind: Local, Path: path.Clean(joined)}
		}
		return Location{Kind: Local, Path: cleanLocal(joined)}
	case Remote:
		base, err := url.Parse(l.Path)
		if err != nil {
			return child
		}
		ref, err := url.Parse(child.Path)
		if err != nil {
			return child
		}
		return Location{Kind: Remote, Path: base.ResolveReference(ref).String()}
	}
	return child
}

// An Import is a reference to an expression stored elsewhere, with an
// optional digest that its content must hash to.
type Import struct {
	Location Location
	Mode     Mode
	// Digest is the semantic hash the resolved expression must have.
	// It is the zero digest when the import is not pinned.
	Digest digest.Digest
}

// Pinned tells whether the import declares a digest.
func (i *Import) Pinned() bool {
	return !i.Digest.IsZero()
}

// Key identifies the import's content within a resolution: two
// imports with the same key resolve to the same expression.
func (i *Import) Key(parent Location) string {
	return i.Mode.String() + " " + parent.Chain(i.Location).String()
}

// Equal tells whether two imports are identical.
func (i *Import) Equal(j *Import) bool {
	if i == nil || j == nil {
		return i == j
	}
	return i.Location == j.Location && i.Mode == j.Mode && i.Digest == j.Digest
}

// String renders the import in the surface syntax.
func (i *Import) String() string {
	var b strings.Builder
	b.WriteString(i.Location.String())
	if i.Pinned() {
		fmt.Fprintf(&b, " %s", i.Digest)
	}
	switch i.Mode {
	case TextMode:
		b.WriteString(" as Text")
	case LocationMode:
		b.WriteString(" as Location")
	}
	return b.String()
}

// LocationType is the union type of values produced by imports in
// LocationMode.
var LocationType = UnionType(
	F("Environment", Builtin("Text")),
	F("Local", Builtin("Text")),
	F("Missing", nil),
	F("Remote", Builtin("Text")),
)

// LocationValue returns the expression that an import of l in
// LocationMode evaluates to.
func LocationValue(l Location) *Expr {
	switch l.Kind {
	case Local:
		return Union(LocationType, "Local", Text(l.Path))
	case Remote:
		return Union(LocationType, "Remote", Text(l.Path))
	case Env:
		return Union(LocationType, "Environment", Text(l.Path))
	}
	return Union(LocationType, "Missing", nil)
}
