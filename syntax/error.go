// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package syntax

import (
	"fmt"
	"strings"
)

// Position is a location in a source file.
type Position struct {
	Filename     string
	Line, Column int
}

func (p Position) String() string {
	s := p.Filename
	if s == "" {
		s = "<input>"
	}
	return fmt.Sprintf("%s:%d:%d", s, p.Line, p.Column)
}

// posError attaches a position to an error.
type posError struct {
	Position
	err error
}

func (e posError) Error() string {
	return e.Position.String() + ": " + e.err.Error()
}

func (e posError) Unwrap() error {
	return e.err
}

// position computes the position of byte offset off in src.
func position(filename, src string, off int) Position {
	if off > len(src) {
		off = len(src)
	}
	before := src[:off]
	line := strings.Count(before, "\n") + 1
	col := off - strings.LastIndexByte(before, '\n')
	return Position{Filename: filename, Line: line, Column: col}
}
