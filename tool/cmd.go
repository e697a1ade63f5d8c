// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"flag"
	"fmt"
	"runtime"

	"github.com/grailbio/canon/errors"
)

// Parse parses the subcommand flags fs from args. It adds a -help
// flag, which prints the usage line, the help text and the flag
// defaults before exiting with code 0. Usage errors print the usage
// line and the flag defaults and exit with code 2.
func (c *Cmd) Parse(fs *flag.FlagSet, args []string, help, usage string) {
	helpFlag := fs.Bool("help", false, "display subcommand help")
	fs.SetOutput(c.Stderr)
	fs.Usage = func() {
		c.printUsage(fs, usage, "")
		c.Exit(2)
	}
	if err := fs.Parse(args); err != nil {
		c.Fatal(err)
	}
	if *helpFlag {
		c.printUsage(fs, usage, help)
		c.Exit(0)
	}
}

func (c *Cmd) printUsage(fs *flag.FlagSet, usage, help string) {
	fmt.Fprintln(c.Stderr, "usage: canon "+usage)
	if help != "" {
		fmt.Fprintln(c.Stderr)
		fmt.Fprintln(c.Stderr, help)
		fmt.Fprintln(c.Stderr)
	}
	fmt.Fprintln(c.Stderr, "Flags:")
	fs.PrintDefaults()
}

// Fatal formats a message in the manner of fmt.Println, prints it to
// stderr, and then exits the tool. The exit code is 130 if the
// message is a single error of kind errors.Canceled, as when the
// command is interrupted, and 1 otherwise.
func (c *Cmd) Fatal(v ...interface{}) {
	fmt.Fprintln(c.Stderr, v...)
	code := 1
	if len(v) == 1 {
		if err, ok := v[0].(error); ok && errors.Is(errors.Canceled, err) {
			code = 130
		}
	}
	c.Exit(code)
}

// Fatalf formats a message in the manner of fmt.Printf, prints it to
// stderr, and then exits the tool with code 1.
func (c *Cmd) Fatalf(format string, v ...interface{}) {
	fmt.Fprintf(c.Stderr, format, v...)
	fmt.Fprintln(c.Stderr)
	c.Exit(1)
}

// Errorln formats a message in the manner of fmt.Println and prints it
// to stderr.
func (c *Cmd) Errorln(v ...interface{}) {
	fmt.Fprintln(c.Stderr, v...)
}

// Errorf formats a message in the manner of fmt.Printf and prints it
// to stderr.
func (c *Cmd) Errorf(format string, v ...interface{}) {
	fmt.Fprintf(c.Stderr, format, v...)
}

// Println formats a message in the manner of fmt.Println and prints
// it to stdout.
func (c *Cmd) Println(v ...interface{}) {
	fmt.Fprintln(c.Stdout, v...)
}

// Printf formats a message in the manner of fmt.Printf and prints it
// to stdout.
func (c *Cmd) Printf(format string, v ...interface{}) {
	fmt.Fprintf(c.Stdout, format, v...)
}

func (c *Cmd) must(err error) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		c.Fatalf("%s:%d: %v", file, line, err)
	}
}
