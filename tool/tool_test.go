// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"bytes"
	"context"
	"encoding/hex"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/canon/codec"
	"github.com/grailbio/canon/config"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/syntax"
	"github.com/grailbio/testutil"
)

type exitCode int

type testCmd struct {
	*Cmd
	Dir            string
	Stdout, Stderr bytes.Buffer
}

func newTestCmd(t *testing.T, files map[string]string) (*testCmd, func()) {
	t.Helper()
	dir, cleanup := testutil.TempDir(t, "", "tool-")
	for path, content := range files {
		if err := ioutil.WriteFile(filepath.Join(dir, path), []byte(content), 0644); err != nil {
			cleanup()
			t.Fatal(err)
		}
	}
	cfg := config.Default()
	cfg.Root = dir
	cfg.CacheDir = filepath.Join(dir, "cache")
	tc := &testCmd{Dir: dir}
	tc.Cmd = &Cmd{
		Config: cfg,
		Stdin:  strings.NewReader(""),
		Stdout: &tc.Stdout,
		Stderr: &tc.Stderr,
		exit:   func(code int) { panic(exitCode(code)) },
	}
	return tc, cleanup
}

// run invokes the command fn with the provided arguments and returns
// its exit code.
func (tc *testCmd) run(fn Func, args ...string) (code int) {
	tc.Stdout.Reset()
	tc.Stderr.Reset()
	defer func() {
		if v := recover(); v != nil {
			c, ok := v.(exitCode)
			if !ok {
				panic(v)
			}
			code = int(c)
		}
	}()
	fn(tc.Cmd, context.Background(), args...)
	return 0
}

func parse(t *testing.T, src string) *expr.Expr {
	t.Helper()
	e, err := syntax.ParseString("test", src)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func digestOf(t *testing.T, src string) string {
	t.Helper()
	d, err := codec.Digest(nil, parse(t, src))
	if err != nil {
		t.Fatal(err)
	}
	return d.String()
}

func TestHash(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{
		"a.dhall": `\(x : Natural) -> x + ./one.dhall`,
		"b.dhall": `\(y : Natural) -> y + 1`,
		"one.dhall": "1",
	})
	defer cleanup()
	if code := tc.run((*Cmd).hash, "a.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	want := digestOf(t, `\(z : Natural) -> z + 1`)
	if got := strings.TrimSpace(tc.Stdout.String()); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).hash, "a.dhall", "b.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(tc.Stdout.String()), "\n")
	if got, want := lines, []string{want + "  a.dhall", want + "  b.dhall"}; !equalStrings(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHashStdin(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{"one.dhall": "1"})
	defer cleanup()
	tc.Stdin = strings.NewReader("{ a = ./one.dhall }")
	if code := tc.run((*Cmd).hash, "-"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), digestOf(t, "{ a = 1 }"); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHashError(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{
		"ok.dhall":  "True",
		"bad.dhall": "./nonexistent.dhall",
	})
	defer cleanup()
	if code := tc.run((*Cmd).hash, "ok.dhall", "bad.dhall"); code != 1 {
		t.Errorf("got exit %d, want 1", code)
	}
	if got, want := tc.Stdout.String(), digestOf(t, "True")+"  ok.dhall\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	stderr := tc.Stderr.String()
	if !strings.HasPrefix(stderr, "bad.dhall: ") || !strings.Contains(stderr, "./nonexistent.dhall") {
		t.Errorf("unexpected error output %q", stderr)
	}
}

func TestResolveCmd(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{
		"a.dhall":  "{ b = ./b.dhall, c = 1 + 1 }",
		"b.dhall":  "let x = True in x",
		"t.dhall":  `./msg.txt as Text`,
		"msg.txt":  "hello",
		"bad.dhall": "{ x = ",
	})
	defer cleanup()
	if code := tc.run((*Cmd).resolve, "a.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	// Imports are substituted by their normal forms; the importing
	// expression itself is not normalized.
	if got, want := parse(t, tc.Stdout.String()), parse(t, "{ b = True, c = 1 + 1 }"); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).resolve, "-normalize", "a.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), "{ b = True, c = 2 }"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).resolve, "t.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), `"hello"`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).resolve, "-list", "t.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.Split(strings.TrimSpace(tc.Stdout.String()), "\n"), []string{"./msg.txt", "./t.dhall"}; !equalStrings(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if code := tc.run((*Cmd).resolve, "bad.dhall"); code != 1 {
		t.Errorf("got exit %d, want 1", code)
	}
	if code := tc.run((*Cmd).resolve); code != 2 {
		t.Errorf("got exit %d, want 2", code)
	}
}

func TestNormalize(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{
		"f.dhall": `(\(x : Natural) -> \(y : Natural) -> x + y) 1`,
	})
	defer cleanup()
	if code := tc.run((*Cmd).normalize, "f.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), `\(y : Natural) -> 1 + y`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).normalize, "-alpha", "f.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), `\(_ : Natural) -> 1 + _`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEtaDisplayOnly(t *testing.T) {
	const src = `\(f : Natural -> Natural) -> \(x : Natural) -> f x`
	tc, cleanup := newTestCmd(t, map[string]string{
		"f.dhall":   src,
		"top.dhall": "./f.dhall " + digestOf(t, src),
	})
	defer cleanup()
	tc.Config.Eta = true
	if code := tc.run((*Cmd).normalize, "f.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := parse(t, tc.Stdout.String()), parse(t, `\(f : Natural -> Natural) -> f`); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).hash, "f.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), digestOf(t, src); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Pins computed without eta reduction verify with it turned on.
	if code := tc.run((*Cmd).hash, "top.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
}

func TestFreezeCmd(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{
		"top.dhall": "{ a = ./one.dhall }",
		"one.dhall": "let x = 1 in x",
	})
	defer cleanup()
	if code := tc.run((*Cmd).freeze, "top.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	want := parse(t, "{ a = ./one.dhall "+digestOf(t, "1")+" }")
	if got := parse(t, tc.Stdout.String()); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).freeze, "-w", "top.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	b, err := ioutil.ReadFile(filepath.Join(tc.Dir, "top.dhall"))
	if err != nil {
		t.Fatal(err)
	}
	if got := parse(t, string(b)); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// The frozen file resolves, and its pinned import is now cached.
	if code := tc.run((*Cmd).hash, "top.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if code := tc.run((*Cmd).cache, "ls"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), digestOf(t, "1"); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// A pinned import whose content changes fails to verify; the
	// cached copy is only consulted when its hash matches.
	tc.Config.NoCache = true
	if err := ioutil.WriteFile(filepath.Join(tc.Dir, "one.dhall"), []byte("2"), 0644); err != nil {
		t.Fatal(err)
	}
	if code := tc.run((*Cmd).hash, "top.dhall"); code != 1 {
		t.Errorf("got exit %d, want 1", code)
	}
	if !strings.Contains(tc.Stderr.String(), "integrity") {
		t.Errorf("expected integrity error, got %q", tc.Stderr.String())
	}
}

func TestDiff(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{
		"a.dhall": "{ a = 1, b = 2 }",
		"b.dhall": "{ b = 1 + 1, a = 1 }",
		"c.dhall": "{ a = 1, b = 3, c = 4 }",
	})
	defer cleanup()
	if code := tc.run((*Cmd).diff, "a.dhall", "b.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got := tc.Stdout.String(); got != "" {
		t.Errorf("got %q, want no differences", got)
	}
	if code := tc.run((*Cmd).diff, "a.dhall", "c.dhall"); code != 1 {
		t.Fatalf("got exit %d, want 1", code)
	}
	if got, want := tc.Stdout.String(), ".b: 2 != 3\n.c: (absent) != 4\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEncodeDecode(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{
		"a.dhall": `{ f = \(x : Bool) -> x, n = 1 }`,
	})
	defer cleanup()
	if code := tc.run((*Cmd).encode, "a.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	encoded := strings.TrimSpace(tc.Stdout.String())
	b, err := hex.DecodeString(encoded)
	if err != nil {
		t.Fatal(err)
	}
	want, err := codec.Canonical(nil, parse(t, `{ f = \(x : Bool) -> x, n = 1 }`))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, want) {
		t.Errorf("got %x, want %x", b, want)
	}
	tc.Stdin = strings.NewReader(encoded + "\n")
	if code := tc.run((*Cmd).decode, "-"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), `{ f = \(_ : Bool) -> _, n = 1 }`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if code := tc.run((*Cmd).encode, "-raw", "a.dhall"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if !bytes.Equal(tc.Stdout.Bytes(), want) {
		t.Errorf("got %x, want %x", tc.Stdout.Bytes(), want)
	}
	tc.Stdin = strings.NewReader("zz")
	if code := tc.run((*Cmd).decode, "-"); code != 1 {
		t.Errorf("got exit %d, want 1", code)
	}
}

func TestCacheCmd(t *testing.T) {
	tc, cleanup := newTestCmd(t, map[string]string{"one.dhall": "1"})
	defer cleanup()
	d := digestOf(t, "1")
	tc.Stdin = strings.NewReader("./one.dhall " + d)
	if code := tc.run((*Cmd).hash, "-"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if code := tc.run((*Cmd).cache, "dir"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got, want := strings.TrimSpace(tc.Stdout.String()), filepath.Join(tc.Dir, "cache"); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, name := range []string{d, "1220" + strings.TrimPrefix(d, "sha256:")} {
		if code := tc.run((*Cmd).cache, "cat", name); code != 0 {
			t.Fatalf("exit %d: %s", code, tc.Stderr.String())
		}
		if got, want := strings.TrimSpace(tc.Stdout.String()), "1"; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if code := tc.run((*Cmd).cache, "verify"); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	entry := filepath.Join(tc.Dir, "cache", "1220"+strings.TrimPrefix(d, "sha256:"))
	if err := ioutil.WriteFile(entry, []byte{0xf5}, 0644); err != nil {
		t.Fatal(err)
	}
	if code := tc.run((*Cmd).cache, "verify"); code != 1 {
		t.Errorf("got exit %d, want 1", code)
	}
	if code := tc.run((*Cmd).cache, "cat", d); code != 1 {
		t.Errorf("got exit %d, want 1", code)
	}
	if code := tc.run((*Cmd).cache, "frobnicate"); code != 2 {
		t.Errorf("got exit %d, want 2", code)
	}
}

func TestConfigCmd(t *testing.T) {
	tc, cleanup := newTestCmd(t, nil)
	defer cleanup()
	tc.Config.MaxSteps = 123
	if code := tc.run((*Cmd).config); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	cfg, err := config.Parse(tc.Stdout.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if cfg != tc.Config {
		t.Errorf("got %+v, want %+v", cfg, tc.Config)
	}
}

func TestVersion(t *testing.T) {
	tc, cleanup := newTestCmd(t, nil)
	defer cleanup()
	tc.Version = "v9.9.9"
	if code := tc.run((*Cmd).version); code != 0 {
		t.Fatalf("exit %d: %s", code, tc.Stderr.String())
	}
	if got := tc.Stdout.String(); !strings.HasPrefix(got, "v9.9.9 (encoding 1, ") {
		t.Errorf("unexpected version %q", got)
	}
}

func TestMainUsage(t *testing.T) {
	for _, c := range []struct {
		args []string
		want []string
	}{
		{nil, []string{"The canon command resolves"}},
		{[]string{"bogus"}, []string{"Canon commands:", "\thash", "-nocache"}},
	} {
		tc, cleanup := newTestCmd(t, nil)
		if err := tc.Flags().Parse(c.args); err != nil {
			t.Fatal(err)
		}
		code := tc.run(func(cmd *Cmd, _ context.Context, _ ...string) { cmd.Main() })
		cleanup()
		if code != 2 {
			t.Errorf("%v: got exit %d, want 2", c.args, code)
		}
		for _, want := range c.want {
			if !strings.Contains(tc.Stderr.String(), want) {
				t.Errorf("%v: stderr %q does not contain %q", c.args, tc.Stderr.String(), want)
			}
		}
	}
}

func TestFatal(t *testing.T) {
	tc, cleanup := newTestCmd(t, nil)
	defer cleanup()
	for _, c := range []struct {
		err  error
		code int
	}{
		{errors.E("import", "./a.dhall", errors.NotExist), 1},
		{errors.E("import", "./a.dhall", context.Canceled), 130},
	} {
		code := tc.run(func(cmd *Cmd, _ context.Context, _ ...string) { cmd.Fatal(c.err) })
		if code != c.code {
			t.Errorf("%v: got exit %d, want %d", c.err, code, c.code)
		}
		if got, want := strings.TrimSpace(tc.Stderr.String()), c.err.Error(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
