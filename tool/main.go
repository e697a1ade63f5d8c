// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tool implements the canon command.
package tool

import (
	"context"
	"flag"
	"fmt"
	"io"
	golog "log"
	"net/http"
	_ "net/http/pprof" // Global pprof handlers for all instantiations of the tool.
	"os"
	"os/signal"
	"runtime/pprof"
	"sort"

	"github.com/grailbio/base/status"
	"github.com/grailbio/canon"
	"github.com/grailbio/canon/config"
	"github.com/grailbio/canon/log"
)

// Func is the type of a command function.
type Func func(*Cmd, context.Context, ...string)

// Cmd holds the configuration, flag definitions, and runtime objects
// required for tool invocations.
type Cmd struct {
	// Config is the active configuration. Main replaces it with the
	// configuration file's contents, as overridden by flags.
	Config            config.Config
	DefaultConfigFile string
	Version           string

	// Commands contains the additional set of invocable commands.
	Commands map[string]Func

	// ConfigFile stores the path of the active configuration file.
	// May be overriden by the -config flag.
	ConfigFile string

	// Intro is an additional introduction printed after the standard one.
	Intro string

	// Stdin is read by commands given "-" in place of a file.
	Stdin io.Reader

	// The standard output and error as defined by this command;
	// these are wrapped through a status writer when status
	// reporting is on, so that output is properly interleaved.
	Stdout, Stderr io.Writer

	// Status reports fetches in progress. It may be nil.
	Status *status.Status

	Log *log.Logger

	configFlag     config.Flag
	httpFlag       string
	cpuProfileFlag string
	statusFlag     bool

	onexits []func()
	// exit, if set, replaces os.Exit.
	exit func(int)

	flags *flag.FlagSet
}

var commands = map[string]Func{
	"hash":      (*Cmd).hash,
	"resolve":   (*Cmd).resolve,
	"normalize": (*Cmd).normalize,
	"freeze":    (*Cmd).freeze,
	"diff":      (*Cmd).diff,
	"encode":    (*Cmd).encode,
	"decode":    (*Cmd).decode,
	"cache":     (*Cmd).cache,
	"config":    (*Cmd).config,
	"version":   (*Cmd).version,
}

var intro = `The canon command resolves, normalizes, and hashes configuration
expressions.

The command comprises a set of subcommands; the list of supported
commands can be obtained by running

	canon -help

Each subcommand can in turn be invoked with -help, displaying its
usage and help text. For example, the following displays help for the
"hash" command.

	canon hash -help

Flags must be supplied in order: global flags after the "canon"
command; command flags after that command's name. For example, the
following disables the import cache (global) while printing the
normal form of an expression:

	canon -nocache resolve -normalize config.dhall

Commands that take a file accept "-" to read an expression from
standard input; relative imports are then resolved against the
configured root (by default, the working directory).

Canon is configured from a single YAML configuration file. The
active configuration may be examined by

	canon config

Canon may be invoked with a custom configuration by supplying the
-config flag:

	canon -config myconfig.yaml ...`

var help = `Canon computes semantic hashes of configuration expressions.

Usage of canon:
	canon [flags] <command> [args]`

func (c *Cmd) usage(flags *flag.FlagSet) {
	fmt.Fprintln(c.Stderr, help)
	fmt.Fprintln(c.Stderr, "Canon commands:")
	var cmds []string
	for name := range c.commands() {
		cmds = append(cmds, name)
	}
	sort.Strings(cmds)
	for _, name := range cmds {
		fmt.Fprintln(c.Stderr, "\t"+name)
	}
	fmt.Fprintln(c.Stderr, "Global flags:")
	flags.SetOutput(c.Stderr)
	flags.PrintDefaults()
	c.Exit(2)
}

// Main parses command line flags and then invokes the requested
// command. Main reads the configuration file, which may be
// overriden by flags. The caller is expected to have parsed the
// flagset before calling Main.
//
// Main should only be called once.
func (c *Cmd) Main() {
	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	flags := c.Flags()
	if flags.NArg() == 0 {
		fmt.Fprintln(c.Stderr, intro)
		if c.Intro != "" {
			fmt.Fprintln(c.Stderr)
			fmt.Fprintln(c.Stderr, c.Intro)
		}
		c.Exit(2)
	}
	cmd := flags.Arg(0)
	fn := c.commands()[cmd]
	if fn == nil {
		flags.Usage()
	}

	if c.ConfigFile != "" {
		if _, err := os.Stat(c.ConfigFile); err != nil && c.ConfigFile != c.DefaultConfigFile {
			c.Fatal(err)
		}
		cfg, err := config.Load(c.ConfigFile)
		if err != nil {
			c.Fatal(err)
		}
		c.Config = cfg
	} else if c.Config == (config.Config{}) {
		c.Config = config.Default()
	}
	var err error
	c.Config, err = c.configFlag.Apply(flags, c.Config)
	if err != nil {
		c.Fatalf("invalid configuration: %v", err)
	}
	level, err := c.Config.Level()
	if err != nil {
		c.Fatal(err)
	}
	var (
		logflags  int
		logprefix = "canon: "
	)
	if level > log.InfoLevel {
		logflags = golog.LstdFlags
		logprefix = ""
	}
	c.Status = new(status.Status)
	http.Handle("/debug/status", status.Handler(c.Status))
	if c.statusFlag && level < log.DebugLevel {
		reporter := make(status.Reporter)
		stderr := c.Stderr
		c.Stdout = reporter.Wrap(c.Stdout)
		c.Stderr = reporter.Wrap(c.Stderr)
		go reporter.Go(stderr, c.Status)
		c.onexit(reporter.Stop)
	}

	// Set the system wide logger with the same level and output
	// as the one that's threaded through Cmd.
	log.Std = log.New(golog.New(c.Stderr, logprefix, logflags), level)
	c.Log = log.Std

	if c.httpFlag != "" {
		go func() {
			c.Fatal(http.ListenAndServe(c.httpFlag, nil))
		}()
	}
	if c.cpuProfileFlag != "" {
		file, err := os.Create(c.cpuProfileFlag)
		if err != nil {
			c.Fatal(err)
		}
		pprof.StartCPUProfile(file)
		c.onexit(pprof.StopCPUProfile)
	}

	c.Log.Debug("canon version ", c.versionString())

	// Create a context and cancel it if we receive an interrupt.
	// The second interrupt we receive results in a hard exit.
	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		cancel()
		c.Errorln("cleaning up...")
		<-sigc
		c.Exit(1)
	}()
	// Note that the flag package stops parsing flags after the first
	// non-flag argument (i.e., the first argument that does not begin
	// with "-"); thus flag.Args()[1:] contains all the flags and
	// arguments for the command in flags.Arg[0].
	fn(c, ctx, flags.Args()[1:]...)
	c.Exit(0)
}

// Exit causes the command to exit with the provided status code.
// Exit ensures that command teardown is properly handled.
func (c *Cmd) Exit(code int) {
	for _, fn := range c.onexits {
		fn()
	}
	c.onexits = nil
	if c.exit != nil {
		c.exit(code)
		return
	}
	os.Exit(code)
}

func (c *Cmd) onexit(fn func()) {
	c.onexits = append(c.onexits, fn)
}

// Flags initializes and returns the FlagSet used by this Cmd instance.
// The user should parse this flagset before invoking (*Cmd).Main, e.g.:
//
//	cmd.Flags().Parse(os.Args[1:])
func (c *Cmd) Flags() *flag.FlagSet {
	if c.flags == nil {
		c.flags = flag.NewFlagSet("canon", flag.ExitOnError)
		c.flags.Usage = func() { c.usage(c.flags) }
		c.flags.StringVar(&c.ConfigFile, "config", c.DefaultConfigFile, "path to configuration file; a missing default file selects the builtin configuration")
		c.flags.StringVar(&c.httpFlag, "http", "", "run a diagnostic HTTP server on this port")
		c.flags.StringVar(&c.cpuProfileFlag, "cpuprofile", "", "capture a CPU profile and deposit it to the provided path")
		c.flags.BoolVar(&c.statusFlag, "status", false, "display fetches in progress on stderr")
		c.configFlag.Init(c.flags)
	}
	return c.flags
}

func (c *Cmd) commands() map[string]Func {
	m := make(map[string]Func)
	for name, f := range commands {
		m[name] = f
	}
	for name, f := range c.Commands {
		m[name] = f
	}
	return m
}

func (c *Cmd) versionString() string {
	if c.Version != "" {
		return c.Version
	}
	return canon.Version
}
