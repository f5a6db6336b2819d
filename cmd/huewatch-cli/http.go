package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"
)

// client builds goa endpoints for the huewatch HTTP API.
type client struct {
	base  *url.URL
	doer  goahttp.Doer
	token string
}

func newClient(base *url.URL, timeout int, debug bool, token string) *client {
	var (
		doer goahttp.Doer
	)
	{
		doer = &http.Client{Timeout: time.Duration(timeout) * time.Second}
		if debug {
			doer = goahttp.NewDebugDoer(doer)
		}
	}
	return &client{base: base, doer: doer, token: token}
}

// endpoint returns a goa endpoint that sends the request payload as JSON
// (when non-nil) and decodes the JSON response into a fresh value from
// newResult.
func (c *client) endpoint(verb, path string, newResult func() any) goa.Endpoint {
	return func(ctx context.Context, payload any) (any, error) {
		u := c.base.ResolveReference(&url.URL{Path: path})

		req, err := http.NewRequestWithContext(ctx, verb, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			if err := goahttp.RequestEncoder(req).Encode(payload); err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			return nil, goahttp.ErrRequestError("huewatch", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			msg, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("%s %s: %s: %s", verb, path, resp.Status, bytes.TrimSpace(msg))
		}

		if newResult == nil {
			return io.ReadAll(resp.Body)
		}
		res := newResult()
		if err := goahttp.ResponseDecoder(resp).Decode(res); err != nil {
			return nil, goahttp.ErrDecodingError("huewatch", path, err)
		}
		return res, nil
	}
}
