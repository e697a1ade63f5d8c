// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command canon resolves, normalizes, and computes semantic hashes of
// configuration expressions. See canon -help for details.
package main

import (
	"os"

	"github.com/grailbio/canon"
	"github.com/grailbio/canon/config"
	"github.com/grailbio/canon/tool"
	"github.com/mitchellh/go-homedir"
)

func main() {
	configFile := "~/.canon/config.yaml"
	if path, err := homedir.Expand(configFile); err == nil {
		configFile = path
	}
	cmd := &tool.Cmd{
		Config:            config.Default(),
		DefaultConfigFile: configFile,
		Version:           canon.Version,
	}
	cmd.Flags().Parse(os.Args[1:])
	cmd.Main()
}
