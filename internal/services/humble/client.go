package humble

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"keyredeem/internal/keys"
	"keyredeem/internal/logging"
	"keyredeem/internal/services"
	"keyredeem/internal/session"
)

const (
	ordersPath      = "/api/v1/user/order"
	orderDetailPath = "/api/v1/order/"
	revealPath      = "/humbler/redeemkey"
	libraryPath     = "/home/library"
)

// Client talks to the storefront over a remote session.
type Client struct {
	remote      session.RemoteSession
	concurrency int
	logger      *slog.Logger
}

// NewClient wraps remote. concurrency bounds parallel order-detail fetches.
func NewClient(remote session.RemoteSession, concurrency int, logger *slog.Logger) *Client {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Client{
		remote:      remote,
		concurrency: concurrency,
		logger:      logging.NewComponentLogger(logger, "humble"),
	}
}

type orderRef struct {
	Gamekey string `json:"gamekey"`
}

// FetchInventory returns every order with its entitlements, in the order
// the storefront lists them.
func (c *Client) FetchInventory(ctx context.Context) ([]keys.RawOrder, error) {
	resp, err := c.remote.Do(ctx, session.Request{Method: http.MethodGet, Path: ordersPath})
	if err != nil {
		return nil, err
	}
	if err := statusError(resp, "list orders"); err != nil {
		return nil, err
	}
	var refs []orderRef
	if err := resp.DecodeJSON(&refs); err != nil {
		return nil, services.Wrap(services.ErrSessionInvalid, "humble", "list orders", "unexpected response", err)
	}
	c.logger.Info("fetching order details", logging.Int("orders", len(refs)), logging.Int("concurrency", c.concurrency))

	orders := make([]keys.RawOrder, len(refs))
	var (
		mu      sync.Mutex
		fetched int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			order, err := c.fetchOrder(gctx, ref.Gamekey)
			if err != nil {
				return err
			}
			orders[i] = order
			mu.Lock()
			fetched++
			n := fetched
			mu.Unlock()
			if n%25 == 0 {
				c.logger.Debug("order details progress", logging.Int("fetched", n), logging.Int("total", len(refs)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) fetchOrder(ctx context.Context, gamekey string) (keys.RawOrder, error) {
	resp, err := c.remote.Do(ctx, session.Request{
		Method: http.MethodGet,
		Path:   orderDetailPath + url.PathEscape(gamekey),
		Query:  url.Values{"all_tpkds": {"true"}},
	})
	if err != nil {
		return keys.RawOrder{}, err
	}
	if err := statusError(resp, "order "+gamekey); err != nil {
		return keys.RawOrder{}, err
	}
	var order keys.RawOrder
	if err := resp.DecodeJSON(&order); err != nil {
		return keys.RawOrder{}, services.Wrap(services.ErrTransient, "humble", "order "+gamekey, "decode", err)
	}
	if order.Gamekey == "" {
		order.Gamekey = gamekey
	}
	return order, nil
}

type revealReply struct {
	Success  bool   `json:"success"`
	Key      string `json:"key"`
	ErrorMsg string `json:"error_msg"`
}

// Reveal asks the storefront for rec's key value. An expired entitlement
// yields keys.ExpiredMarker. Explicit refusals are ErrDomainTerminal;
// transport and 5xx failures are ErrTransient; auth failures are
// ErrSessionInvalid.
func (c *Client) Reveal(ctx context.Context, rec *keys.Record) (string, error) {
	resp, err := c.remote.Do(ctx, session.Request{
		Method: http.MethodPost,
		Path:   revealPath,
		Form: url.Values{
			"keytype":  {rec.MachineName},
			"key":      {rec.Gamekey},
			"keyindex": {strconv.Itoa(rec.KeyIndex)},
		},
	})
	if err != nil {
		return "", err
	}
	if err := statusError(resp, "reveal"); err != nil {
		return "", err
	}
	var reply revealReply
	if err := resp.DecodeJSON(&reply); err != nil {
		return "", services.Wrap(services.ErrSessionInvalid, "humble", "reveal", "non-JSON reply", err)
	}
	if reply.ErrorMsg != "" || !reply.Success {
		msg := reply.ErrorMsg
		if msg == "" {
			msg = "unknown error"
		}
		if strings.Contains(strings.ToLower(msg), "expired") {
			return keys.ExpiredMarker, nil
		}
		return "", services.Wrap(services.ErrDomainTerminal, "humble", "reveal", msg, nil)
	}
	return strings.TrimSpace(reply.Key), nil
}

// Alive reports whether the storefront still accepts the session.
func (c *Client) Alive(ctx context.Context) bool {
	return c.remote.Alive(ctx)
}

// KeepAlive touches the library page so the login does not idle out.
func (c *Client) KeepAlive(ctx context.Context) error {
	resp, err := c.remote.Do(ctx, session.Request{Method: http.MethodGet, Path: libraryPath})
	if err != nil {
		return err
	}
	return statusError(resp, "keep-alive")
}

// Close closes the underlying session.
func (c *Client) Close() error {
	return c.remote.Close()
}

func statusError(resp session.Response, operation string) error {
	if resp.OK() {
		return nil
	}
	cause := &services.StatusError{Status: resp.Status}
	switch {
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return services.Wrap(services.ErrSessionInvalid, "humble", operation, "", cause)
	case resp.Status == http.StatusTooManyRequests || resp.Status >= 500 || resp.Status == 0:
		return services.Wrap(services.ErrTransient, "humble", operation, "", cause)
	default:
		return services.Wrap(services.ErrExternalTool, "humble", operation, "", cause)
	}
}
