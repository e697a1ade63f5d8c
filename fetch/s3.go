// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"io/ioutil"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/canon/errors"
	"github.com/grailbio/canon/expr"
)

// S3 fetches s3://bucket/key URLs.
type S3 struct {
	Client s3iface.S3API
}

// Fetch implements Fetcher.
func (s *S3) Fetch(ctx context.Context, loc expr.Location) ([]byte, error) {
	if loc.Kind != expr.Remote || loc.Scheme() != "s3" {
		return nil, errors.E("fetch", loc.String(), errors.NotSupported)
	}
	u, err := url.Parse(loc.Path)
	if err != nil {
		return nil, errors.E("fetch", loc.String(), errors.Invalid, err)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, errors.E("fetch", loc.String(), errors.Invalid, errors.New("s3 URL needs a bucket and a key"))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.E("fetch", loc.String(), err)
	}
	resp, err := s.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.E("fetch", loc.String(), s3kind(err), err)
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E("fetch", loc.String(), err)
	}
	return b, nil
}

// s3kind interprets an S3 API error into an error kind.
func s3kind(err error) errors.Kind {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return errors.Other
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey, "NoSuchVersion", "NotFound":
		return errors.NotExist
	case "AccessDenied":
		return errors.NotAllowed
	case "ExpiredToken", "ServiceUnavailable", "SlowDown", "RequestTimeout":
		return errors.Unavailable
	}
	return errors.Other
}
