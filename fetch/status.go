// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"time"

	"github.com/grailbio/base/status"
	"github.com/grailbio/canon/expr"
)

// Status is a Fetcher that reports each fetch in progress as a task
// of a status group.
type Status struct {
	Fetcher
	// Group receives a task for each fetch. A nil group discards
	// all updates.
	Group *status.Group
}

// Fetch implements Fetcher.
func (s *Status) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	task := s.Group.Startf("%v", loc)
	defer task.Done()
	task.Print("fetching")
	start := time.Now()
	b, err := s.Fetcher.Fetch(ctx, loc)
	if err != nil {
		task.Print(err)
	} else {
		task.Printf("%d bytes in %s", len(b), time.Since(start).Round(time.Millisecond))
	}
	return b, err
}
