// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"time"
)

// Flag exposes a FlagSet that overrides configuration values. Flags
// that are not set on the command line leave the corresponding
// values unchanged.
type Flag struct {
	cachedir, loglevel, root *string
	nocache, eta             *bool
	parallelism, maxsteps    *int
	timeout                  *time.Duration

	set map[string]bool
}

// Init registers the override flags with the provided flag set.
func (f *Flag) Init(flags *flag.FlagSet) {
	f.cachedir = flags.String("cachedir", "", "override cachedir from config")
	f.nocache = flags.Bool("nocache", false, "override nocache from config")
	f.root = flags.String("root", "", "override root from config")
	f.loglevel = flags.String("log", "", "override loglevel from config (off, error, info, debug)")
	f.eta = flags.Bool("eta", false, "override eta from config")
	f.parallelism = flags.Int("parallelism", 0, "override parallelism from config")
	f.maxsteps = flags.Int("maxsteps", 0, "override maxsteps from config")
	f.timeout = flags.Duration("httptimeout", 0, "override http.timeout from config")
	f.set = make(map[string]bool)
}

// Apply returns c with the values of the flags that were set on the
// command line (as recorded by the flag set) applied.
func (f *Flag) Apply(flags *flag.FlagSet, c Config) (Config, error) {
	flags.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	if f.set["cachedir"] {
		c.CacheDir = *f.cachedir
	}
	if f.set["nocache"] {
		c.NoCache = *f.nocache
	}
	if f.set["root"] {
		c.Root = *f.root
	}
	if f.set["log"] {
		c.LogLevel = *f.loglevel
	}
	if f.set["eta"] {
		c.Eta = *f.eta
	}
	if f.set["parallelism"] {
		c.Parallelism = *f.parallelism
	}
	if f.set["maxsteps"] {
		c.MaxSteps = *f.maxsteps
	}
	if f.set["httptimeout"] {
		c.HTTP.Timeout = *f.timeout
	}
	return c, c.Validate()
}
