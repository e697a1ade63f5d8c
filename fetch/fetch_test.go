// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/grailbio/base/status"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/s3test"
	"github.com/spf13/afero"
)

func local(p string) expr.Location {
	return expr.Location{Kind: expr.Local, Path: p}
}

func remote(u string) expr.Location {
	return expr.Location{Kind: expr.Remote, Path: u}
}

func TestMux(t *testing.T) {
	m := make(Mux)
	m.HandleFunc("local", func(ctx context.Context, loc expr.Location) ([]byte, error) {
		return []byte(loc.Path), nil
	})
	m["missing"] = Missing

	ctx := context.Background()
	_, err := m.Fetch(ctx, remote("s3://testbucket/testpath"))
	if !errors.Is(errors.NotSupported, err) {
		t.Errorf("expected NotSupported error, got %v", err)
	}
	b, err := m.Fetch(ctx, local("./a.dhall"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "./a.dhall"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	_, err = m.Fetch(ctx, expr.Location{Kind: expr.Missing})
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist error, got %v", err)
	}
}

func TestLocal(t *testing.T) {
	fs := afero.NewMemMapFs()
	for path, content := range map[string]string{
		"/work/a.dhall":      "1",
		"/work/sub/b.dhall":  "2",
		"/home/me/c.dhall":   "3",
		"/etc/abs.dhall":     "4",
		"/work/../other.txt": "5",
	} {
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	l := &Local{FS: fs, Dir: "/work", Home: "/home/me"}
	ctx := context.Background()
	for _, c := range []struct {
		loc  expr.Location
		want string
	}{
		{local("./a.dhall"), "1"},
		{local("./sub/b.dhall"), "2"},
		{local("~/c.dhall"), "3"},
		{local("/etc/abs.dhall"), "4"},
		{local("../other.txt"), "5"},
	} {
		b, err := l.Fetch(ctx, c.loc)
		if err != nil {
			t.Errorf("%v: %v", c.loc, err)
			continue
		}
		if got, want := string(b), c.want; got != want {
			t.Errorf("%v: got %v, want %v", c.loc, got, want)
		}
	}
	_, err := l.Fetch(ctx, local("./nope.dhall"))
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist error, got %v", err)
	}
}

func TestLocalOS(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "fetch-")
	defer cleanup()
	fs := afero.NewOsFs()
	if err := afero.WriteFile(fs, dir+"/x.dhall", []byte("{ a = 1 }"), 0644); err != nil {
		t.Fatal(err)
	}
	l := &Local{Dir: dir}
	b, err := l.Fetch(context.Background(), local("./x.dhall"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "{ a = 1 }"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEnv(t *testing.T) {
	e := &Env{Lookup: func(name string) (string, bool) {
		if name == "CONFIG" {
			return "True", true
		}
		return "", false
	}}
	ctx := context.Background()
	b, err := e.Fetch(ctx, expr.Location{Kind: expr.Env, Path: "CONFIG"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "True"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	_, err = e.Fetch(ctx, expr.Location{Kind: expr.Env, Path: "UNSET"})
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist error, got %v", err)
	}
}

func TestHTTP(t *testing.T) {
	var n int32
	mux := http.NewServeMux()
	mux.HandleFunc("/a.dhall", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.Write([]byte("{ a = 1 }"))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		http.Error(w, "broken", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := NewHTTP(HTTPOptions{Retries: 0, Rate: 100, Burst: 10})
	ctx := context.Background()
	b, err := h.Fetch(ctx, remote(srv.URL+"/a.dhall"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "{ a = 1 }"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, c := range []struct {
		path string
		kind errors.Kind
	}{
		{"/nope", errors.NotExist},
		{"/forbidden", errors.NotAllowed},
		{"/broken", errors.Unavailable},
	} {
		_, err := h.Fetch(ctx, remote(srv.URL+c.path))
		if !errors.Is(c.kind, err) {
			t.Errorf("%s: got %v, want %v", c.path, err, c.kind)
		}
	}
	if got, want := atomic.LoadInt32(&n), int32(2); got != want {
		t.Errorf("got %v requests, want %v", got, want)
	}
	_, err = h.Fetch(ctx, local("./a.dhall"))
	if !errors.Is(errors.NotSupported, err) {
		t.Errorf("expected NotSupported error, got %v", err)
	}
}

func TestHTTPRetry(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) < 3 {
			http.Error(w, "later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("True"))
	}))
	defer srv.Close()
	h := NewHTTP(HTTPOptions{Retries: 3})
	h.Client.RetryWaitMin = 0
	h.Client.RetryWaitMax = 0
	b, err := h.Fetch(context.Background(), remote(srv.URL+"/x"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "True"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := atomic.LoadInt32(&n), int32(3); got != want {
		t.Errorf("got %v requests, want %v", got, want)
	}
}

// ctxClient records the context of the last GetObjectWithContext call.
type ctxClient struct {
	*s3test.Client
	ctx aws.Context
}

func (c *ctxClient) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	c.ctx = ctx
	return c.Client.GetObjectWithContext(ctx, input, opts...)
}

type ctxKey struct{}

func TestS3(t *testing.T) {
	client := &ctxClient{Client: s3test.NewClient(t, "testbucket")}
	client.Region = "us-west-2"
	client.SetFile("configs/a.dhall", []byte("[1, 2]"), "")
	s := &S3{Client: client}
	ctx := context.WithValue(context.Background(), ctxKey{}, "fetch")
	b, err := s.Fetch(ctx, remote("s3://testbucket/configs/a.dhall"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "[1, 2]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if client.ctx != ctx {
		t.Error("request was not issued with the fetch context")
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Fetch(cctx, remote("s3://testbucket/configs/a.dhall"))
	if !errors.Is(errors.Canceled, err) {
		t.Errorf("expected Canceled error, got %v", err)
	}
	_, err = s.Fetch(ctx, remote("s3://testbucket/configs/missing.dhall"))
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist error, got %v", err)
	}
	_, err = s.Fetch(ctx, remote("s3://testbucket"))
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid error, got %v", err)
	}
}

func TestCounting(t *testing.T) {
	c := &Counting{Fetcher: Func(func(ctx context.Context, loc expr.Location) ([]byte, error) {
		return nil, nil
	})}
	ctx := context.Background()
	for _, p := range []string{"./a", "./b", "./a"} {
		c.Fetch(ctx, local(p))
	}
	if got, want := c.Count(local("./a")), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.Total(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(c.Locations()), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStatus(t *testing.T) {
	var st status.Status
	s := &Status{
		Fetcher: Func(func(ctx context.Context, loc expr.Location) ([]byte, error) {
			if loc.Path == "./missing" {
				return nil, errors.E("fetch", loc.String(), errors.NotExist)
			}
			return []byte("True"), nil
		}),
		Group: st.Group("fetch"),
	}
	ctx := context.Background()
	if _, err := s.Fetch(ctx, local("./a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fetch(ctx, local("./missing")); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
	tasks := s.Group.Tasks()
	if got, want := len(tasks), 2; got != want {
		t.Fatalf("got %v tasks, want %v", got, want)
	}
	for i, want := range []string{"./a", "./missing"} {
		v := tasks[i].Value()
		if v.Title != want {
			t.Errorf("got %v, want %v", v.Title, want)
		}
		if v.End.IsZero() {
			t.Errorf("task %v not done", v.Title)
		}
	}
	// Nil groups are ignored.
	s.Group = nil
	if _, err := s.Fetch(ctx, local("./a")); err != nil {
		t.Fatal(err)
	}
}
