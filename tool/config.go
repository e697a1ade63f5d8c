// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"flag"

	"github.com/grailbio/canon/config"
)

func (c *Cmd) config(ctx context.Context, args ...string) {
	var (
		flags = flag.NewFlagSet("config", flag.ExitOnError)
		help  = `Config writes the active canon configuration to standard output.

Canon's configuration is a YAML file with the following keys:

	cachedir      directory of the import cache
	nocache       disable the import cache
	root          directory against which relative top-level imports
	              are resolved
	parallelism   maximum number of concurrent fetches
	maxsteps      maximum number of reductions per normalization
	eta           eta-reduce the output of normalize and
	              resolve -normalize; hashes are never eta-reduced
	loglevel      one of off, error, info, debug
	http.timeout  per-request timeout of http and https imports
	http.retries  number of retries of failed requests
	http.rate     maximum number of requests per second (0: unlimited)
	http.burst    number of requests that may exceed the rate
	s3.region     AWS region of s3 imports

The configuration may be modified and overriden:

	$ canon config > myconfig.yaml
	<edit myconfig.yaml>
	$ canon -config myconfig.yaml ...`
	)
	c.Parse(flags, args, help, "config")
	if flags.NArg() != 0 {
		flags.Usage()
	}
	b, err := config.Marshal(c.Config)
	if err != nil {
		c.Fatal(err)
	}
	c.Printf("%s", b)
}
