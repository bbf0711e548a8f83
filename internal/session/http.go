package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"keyredeem/internal/services"
)

const (
	// SessionCookie is the storefront's authentication cookie.
	SessionCookie = "_simpleauth_sess"
	csrfCookie    = "csrf_cookie"
	csrfHeader    = "CSRF-Prevention-Token"
	maxBodyBytes  = 32 << 20

	// DefaultAlivePath answers 200 only to a logged-in session.
	DefaultAlivePath = "/api/v1/user/order"
)

// HTTPOptions configures an HTTPSession.
type HTTPOptions struct {
	BaseURL       string
	SessionCookie string
	Timeout       time.Duration
	// AlivePath is fetched by Alive; a 200 reply means logged in.
	AlivePath string
	// Client overrides the default client. Its Jar is replaced.
	Client *http.Client
}

// HTTPSession talks to the storefront with a cookie jar.
type HTTPSession struct {
	base      *url.URL
	client    *http.Client
	alivePath string
}

// NewHTTPSession seeds a cookie jar with the session cookie.
func NewHTTPSession(opts HTTPOptions) (*HTTPSession, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "session", "parse base url", opts.BaseURL, err)
	}
	if strings.TrimSpace(opts.SessionCookie) == "" {
		return nil, services.Wrap(services.ErrStaleCredentials, "session", "cookie", "storefront session cookie is empty", nil)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	jar.SetCookies(base, []*http.Cookie{{Name: SessionCookie, Value: opts.SessionCookie, Path: "/"}})

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	} else {
		c := *client
		client = &c
	}
	client.Jar = jar

	alive := opts.AlivePath
	if alive == "" {
		alive = DefaultAlivePath
	}
	return &HTTPSession{base: base, client: client, alivePath: alive}, nil
}

// Do sends req. Transport failures are marked transient.
func (s *HTTPSession) Do(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, resolve(s.base, req), body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	httpReq.Header.Set("Accept", "application/json")
	for _, c := range s.client.Jar.Cookies(s.base) {
		if c.Name == csrfCookie {
			httpReq.Header.Set(csrfHeader, c.Value)
		}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, services.Wrap(services.ErrTransient, "session", method+" "+req.Path, "request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, services.Wrap(services.ErrTransient, "session", method+" "+req.Path, "read body", err)
	}
	return Response{Status: resp.StatusCode, Body: data}, nil
}

// Alive reports whether the storefront still accepts the session.
func (s *HTTPSession) Alive(ctx context.Context) bool {
	resp, err := s.Do(ctx, Request{Method: http.MethodGet, Path: s.alivePath})
	return err == nil && resp.Status == http.StatusOK
}

// Close releases idle connections.
func (s *HTTPSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
