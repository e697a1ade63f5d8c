// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package config defines the configuration of a canon instance. A
// configuration is a YAML document, for example:
//
//	cachedir: /var/cache/canon
//	parallelism: 16
//	maxsteps: 100000
//	loglevel: debug
//	http:
//	  timeout: 30s
//	  retries: 3
//	  rate: 10
//	  burst: 5
//	s3:
//	  region: us-west-2
//
// Keys that are omitted take their default values. The configuration
// is an explicit value: it is passed to the components it configures
// rather than consulted as global state.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/apparentlymart/go-userdirs/userdirs"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v2"
)

// HTTP configures fetches of http and https imports.
type HTTP struct {
	// Timeout bounds each request attempt.
	Timeout time.Duration `yaml:"timeout"`
	// Retries is the number of times a failed request is retried.
	Retries int `yaml:"retries"`
	// Rate limits requests per second; zero disables the limit.
	Rate float64 `yaml:"rate,omitempty"`
	// Burst is the number of requests that may exceed Rate at once.
	Burst int `yaml:"burst,omitempty"`
}

// S3 configures fetches of s3 imports.
type S3 struct {
	Region string `yaml:"region,omitempty"`
}

// Config is a canon configuration.
type Config struct {
	// CacheDir is the directory of the import cache. If empty, a
	// per-user cache directory is selected by CacheDirectory.
	CacheDir string `yaml:"cachedir,omitempty"`
	// NoCache disables the import cache.
	NoCache bool `yaml:"nocache,omitempty"`
	// Root is the directory against which relative imports of
	// top-level expressions are resolved. If empty, the working
	// directory is used.
	Root string `yaml:"root,omitempty"`
	// Parallelism bounds the number of concurrent fetches.
	Parallelism int `yaml:"parallelism"`
	// MaxSteps bounds the number of reductions a normalization may
	// perform.
	MaxSteps int `yaml:"maxsteps"`
	// Eta enables eta reduction of displayed normal forms. Semantic
	// hashes are computed without it.
	Eta bool `yaml:"eta,omitempty"`
	// LogLevel is one of off, error, info, debug.
	LogLevel string `yaml:"loglevel"`

	HTTP HTTP `yaml:"http"`
	S3   S3   `yaml:"s3,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Parallelism: 4 * runtime.NumCPU(),
		MaxSteps:    expr.DefaultMaxSteps,
		LogLevel:    log.InfoLevel.String(),
		HTTP: HTTP{
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		S3: S3{Region: "us-west-2"},
	}
}

// Parse parses a YAML configuration. Keys absent from b take their
// default values; unknown keys are an error.
func Parse(b []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads and parses the configuration file at path. A
// nonexistent file yields the default configuration.
func Load(path string) (Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return Config{}, err
	}
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	} else if err != nil {
		return Config{}, err
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %v", path, err)
	}
	return c, nil
}

// Marshal renders c as YAML.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks that c's values are in range.
func (c Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("maxsteps must be positive, got %d", c.MaxSteps)
	}
	if c.HTTP.Retries < 0 {
		return fmt.Errorf("http.retries must not be negative, got %d", c.HTTP.Retries)
	}
	if c.HTTP.Rate < 0 {
		return fmt.Errorf("http.rate must not be negative, got %v", c.HTTP.Rate)
	}
	_, err := c.Level()
	return err
}

// Level returns the configured log level.
func (c Config) Level() (log.Level, error) {
	if c.LogLevel == "" {
		return log.InfoLevel, nil
	}
	return log.ParseLevel(c.LogLevel)
}

// Normalizer returns the normalizer configured by c. Its Eta setting
// applies to displayed normal forms only; see codec.HashNormalizer.
func (c Config) Normalizer() *expr.Normalizer {
	return &expr.Normalizer{MaxSteps: c.MaxSteps, Eta: c.Eta}
}

// CacheDirectory returns the directory of the import cache. The
// candidates are, in order: the configured CacheDir; the user's
// cache directory as defined by the platform; ~/.cache/canon; and a
// directory in the system's temporary directory. The first
// candidate that can be created and written to is returned.
func (c Config) CacheDirectory() (string, error) {
	return cacheDirectory(afero.NewOsFs(), c.candidates())
}

func (c Config) candidates() []string {
	if c.CacheDir != "" {
		dir, err := homedir.Expand(c.CacheDir)
		if err != nil {
			dir = c.CacheDir
		}
		return []string{dir}
	}
	var dirs []string
	if dir := userdirs.ForApp("canon", "grailbio", "com.grail.canon").CacheDir; dir != "" {
		dirs = append(dirs, dir)
	}
	if home, err := homedir.Dir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".cache", "canon"))
	}
	return append(dirs, filepath.Join(os.TempDir(), "canon-cache"))
}

func cacheDirectory(fs afero.Fs, candidates []string) (string, error) {
	var err error
	for _, dir := range candidates {
		if err = writable(fs, dir); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no usable cache directory: %v", err)
}

// writable creates dir if needed, and checks that files can be
// created in it.
func writable(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0777); err != nil {
		return err
	}
	f, err := afero.TempFile(fs, dir, "writable-")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return fs.Remove(name)
}
