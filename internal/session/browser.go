package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"keyredeem/internal/services"
)

// ErrBrowserClosed is returned once the DevTools connection is gone.
var ErrBrowserClosed = errors.New("browser session closed")

// fetchScript runs a storefront request inside the page and resolves to
// {status, redirected, body}. The CSRF token is read from the page's cookies.
const fetchScript = `(async (req) => {
  const m = document.cookie.match(/(?:^|;\s*)csrf_cookie=([^;]*)/);
  const opts = {method: req.method, credentials: "include", headers: {"csrf-prevention-token": m ? m[1] : ""}};
  if (req.form) {
    const fd = new FormData();
    for (const [k, v] of Object.entries(req.form)) { for (const x of v) fd.append(k, x); }
    opts.body = fd;
  }
  const r = await fetch(req.url, opts);
  return {status: r.status, redirected: r.redirected, body: await r.text()};
})(%s)`

// BrowserOptions configures a BrowserSession.
type BrowserOptions struct {
	// DebugURL is the page's DevTools websocket endpoint.
	DebugURL string
	// BaseURL is the storefront origin the page is logged into.
	BaseURL string
	// AlivePath is fetched by Alive; a 200 reply that was not redirected
	// to the login page means logged in.
	AlivePath string
	Timeout   time.Duration
	Dialer    *websocket.Dialer
}

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cdpReply struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error"`
}

type evaluateResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// BrowserSession issues requests through a browser tab over CDP.
type BrowserSession struct {
	base      *url.URL
	alivePath string
	conn      *websocket.Conn
	timeout   time.Duration

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan cdpReply
	closed  bool
	readErr error
	done    chan struct{}
	once    sync.Once
}

// DialBrowser connects to a DevTools page endpoint.
func DialBrowser(ctx context.Context, opts BrowserOptions) (*BrowserSession, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "session", "parse base url", opts.BaseURL, err)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, opts.DebugURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrSessionInvalid, "session", "dial devtools", opts.DebugURL, err)
	}
	alive := opts.AlivePath
	if alive == "" {
		alive = DefaultAlivePath
	}
	s := &BrowserSession{
		base:      base,
		alivePath: alive,
		conn:      conn,
		timeout:   opts.Timeout,
		pending:   make(map[int64]chan cdpReply),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *BrowserSession) readLoop() {
	defer close(s.done)
	for {
		var reply cdpReply
		if err := s.conn.ReadJSON(&reply); err != nil {
			s.fail(err)
			return
		}
		if reply.ID == 0 {
			// Event notification.
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[reply.ID]
		delete(s.pending, reply.ID)
		s.mu.Unlock()
		if ok {
			ch <- reply
		}
	}
}

func (s *BrowserSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *BrowserSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	id := s.nextID.Add(1)
	ch := make(chan cdpReply, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrBrowserClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	err := s.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		s.forget(id)
		return nil, services.Wrap(services.ErrSessionInvalid, "session", method, "write devtools message", err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, services.Wrap(services.ErrSessionInvalid, "session", method, "devtools connection lost", ErrBrowserClosed)
		}
		if reply.Error != nil {
			return nil, services.Wrap(services.ErrSessionInvalid, "session", method, reply.Error.Message, nil)
		}
		return reply.Result, nil
	case <-ctx.Done():
		s.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTransient, "session", method, "devtools call timed out", ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (s *BrowserSession) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *BrowserSession) evaluate(ctx context.Context, expr string, out any) error {
	raw, err := s.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"awaitPromise":  true,
		"returnByValue": true,
	})
	if err != nil {
		return err
	}
	var res evaluateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	if res.ExceptionDetails != nil {
		return services.Wrap(services.ErrTransient, "session", "Runtime.evaluate", "page script failed: "+res.ExceptionDetails.Text, nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.Result.Value, out); err != nil {
		return fmt.Errorf("decode page value: %w", err)
	}
	return nil
}

type pageReply struct {
	Status     int    `json:"status"`
	Redirected bool   `json:"redirected"`
	Body       string `json:"body"`
}

func (s *BrowserSession) fetch(ctx context.Context, req Request) (pageReply, error) {
	method := req.Method
	if method == "" {
		method = "GET"
	}
	arg, err := json.Marshal(struct {
		Method string              `json:"method"`
		URL    string              `json:"url"`
		Form   map[string][]string `json:"form,omitempty"`
	}{Method: method, URL: resolve(s.base, req), Form: req.Form})
	if err != nil {
		return pageReply{}, fmt.Errorf("encode page request: %w", err)
	}
	var out pageReply
	if err := s.evaluate(ctx, fmt.Sprintf(fetchScript, arg), &out); err != nil {
		return pageReply{}, err
	}
	return out, nil
}

// Do runs req as a fetch inside the page.
func (s *BrowserSession) Do(ctx context.Context, req Request) (Response, error) {
	out, err := s.fetch(ctx, req)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: out.Status, Body: []byte(out.Body)}, nil
}

// Alive reports whether the page is still logged in. A tab that answers but
// lands on the login page is not alive.
func (s *BrowserSession) Alive(ctx context.Context) bool {
	out, err := s.fetch(ctx, Request{Method: "GET", Path: s.alivePath})
	if err != nil {
		return false
	}
	return out.Status == 200 && !out.Redirected
}

// Close closes the DevTools connection. The browser itself stays open.
func (s *BrowserSession) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
	})
	return err
}
