// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
	"github.com/grailbio/canon/log"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// HTTPOptions configures an HTTP fetcher.
type HTTPOptions struct {
	// Timeout bounds each request attempt. Zero means no timeout.
	Timeout time.Duration
	// Retries is the number of times a failed request is retried.
	Retries int
	// Rate limits the number of requests per second; zero means no
	// limit. Burst is the limiter's bucket size.
	Rate  float64
	Burst int
	// Log receives retry messages.
	Log *log.Logger
}

// HTTP fetches http and https URLs. Transient failures (connection
// errors and server errors) are retried with backoff.
type HTTP struct {
	Client *retryablehttp.Client
	// Limiter, if not nil, paces outgoing requests.
	Limiter *rate.Limiter
}

// NewHTTP returns an HTTP fetcher using a pooled client configured
// by opts.
func NewHTTP(opts HTTPOptions) *HTTP {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.HTTPClient.Timeout = opts.Timeout
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = retryLogger{opts.Log}
	// Responses that remain failed after the final retry are returned
	// to the caller, which classifies them by status.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	h := &HTTP{Client: client}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		h.Limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return h
}

// Fetch implements Fetcher.
func (h *HTTP) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	if s := loc.Scheme(); loc.Kind != expr.Remote || (s != "http" && s != "https") {
		return nil, errors.E("fetch", loc.String(), errors.NotSupported)
	}
	if h.Limiter != nil {
		if err := h.Limiter.Wait(ctx); err != nil {
			return nil, errors.E("fetch", loc.String(), err)
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, loc.Path, nil)
	if err != nil {
		return nil, errors.E("fetch", loc.String(), errors.Invalid, err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.E("fetch", loc.String(), ctxErr)
		}
		return nil, errors.E("fetch", loc.String(), errors.Unavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.E("fetch", loc.String(), statusKind(resp.StatusCode),
			errors.Errorf("%s", resp.Status))
	}
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E("fetch", loc.String(), err)
	}
	return b, nil
}

func statusKind(code int) errors.Kind {
	switch code {
	case http.StatusNotFound, http.StatusGone:
		return errors.NotExist
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NotAllowed
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.Timeout
	}
	return errors.Unavailable
}

// retryLogger adapts a Logger to retryablehttp.LeveledLogger.
// Per-request messages are logged at debug level.
type retryLogger struct {
	log *log.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorf("http: %s%s", msg, kvs(keysAndValues))
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Printf("http: %s%s", msg, kvs(keysAndValues))
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("http: %s%s", msg, kvs(keysAndValues))
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("http: %s%s", msg, kvs(keysAndValues))
}

func kvs(keysAndValues []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}
