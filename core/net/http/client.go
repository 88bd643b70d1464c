// Package http is a small pooled HTTP client with functional request options.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"

	defaultBufferSize = 4 << 10
	maxBufferSize     = 1 << 20
	defaultBodyLimit  = 1 << 20
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends requests through a shared transport and pools encode buffers.
type Client struct {
	doer      Doer
	timeout   time.Duration
	bodyLimit int64
	buffers   sync.Pool
}

type Option func(*Client)

// WithDoer replaces the underlying *http.Client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithTimeout bounds every request with a context deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBodyLimit caps how many response bytes Request reads.
func WithBodyLimit(n int64) Option {
	return func(c *Client) { c.bodyLimit = n }
}

func New(opts ...Option) *Client {
	c := &Client{
		doer:      &http.Client{Transport: http.DefaultTransport},
		bodyLimit: defaultBodyLimit,
		buffers: sync.Pool{
			New: func() any { return bytes.NewBuffer(make([]byte, 0, defaultBufferSize)) },
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// StatusError is returned by Expect when the status is not 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Expect returns a *StatusError for non-2xx responses.
func (r *Response) Expect() error {
	if r.OK() {
		return nil
	}
	body := string(r.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	return &StatusError{StatusCode: r.StatusCode, Body: body}
}

type requestOptions struct {
	header http.Header
}

type RequestOption func(*requestOptions)

func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

func WithBearer(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// Request sends body encoded by type: url.Values as a form, io.Reader as is,
// anything else as JSON.
func (c *Client) Request(ctx context.Context, method, rawURL string, body any, opts ...RequestOption) (*Response, error) {
	o := requestOptions{header: make(http.Header)}

	reader, contentType, release, err := c.encode(body)
	if err != nil {
		return nil, err
	}
	defer release()
	if contentType != "" {
		o.header.Set("Content-Type", contentType)
	}
	o.header.Set("Accept", ContentTypeJSON)
	for _, opt := range opts {
		opt(&o)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header = o.header

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.bodyLimit))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) encode(body any) (io.Reader, string, func(), error) {
	noop := func() {}
	switch v := body.(type) {
	case nil:
		return nil, "", noop, nil
	case url.Values:
		return strings.NewReader(v.Encode()), ContentTypeForm, noop, nil
	case io.Reader:
		return v, "", noop, nil
	default:
		buf := c.buffers.Get().(*bytes.Buffer)
		buf.Reset()
		release := func() {
			if buf.Cap() <= maxBufferSize {
				c.buffers.Put(buf)
			}
		}
		if err := json.NewEncoder(buf).Encode(v); err != nil {
			release()
			return nil, "", noop, err
		}
		return bytes.NewReader(buf.Bytes()), ContentTypeJSON, release, nil
	}
}

func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, rawURL, nil, opts...)
}

func (c *Client) Post(ctx context.Context, rawURL string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, rawURL, body, opts...)
}

// PostForm posts form-encoded values.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, rawURL, form, opts...)
}
