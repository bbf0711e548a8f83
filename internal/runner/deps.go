package runner

import (
	"context"
	"log/slog"
	"time"

	"keyredeem/internal/config"
	"keyredeem/internal/inventory"
	"keyredeem/internal/keys"
	"keyredeem/internal/ownership"
	"keyredeem/internal/redeem"
	"keyredeem/internal/services"
	"keyredeem/internal/services/humble"
	"keyredeem/internal/services/steam"
	"keyredeem/internal/session"
)

// Storefront is a logged-in storefront client.
type Storefront interface {
	redeem.Storefront
	inventory.Source
}

// Registrar activates keys and lists owned apps.
type Registrar interface {
	redeem.Registrar
	ownership.Source
}

// Deps are the remote collaborators of a run.
type Deps struct {
	// Connect opens a new storefront session. It is called once at start
	// and again for every session recovery.
	Connect   func(ctx context.Context) (Storefront, error)
	Registrar Registrar
}

// DefaultDeps builds collaborators from cfg. A configured browser debug URL
// selects the DevTools session; otherwise the session cookie is used.
func DefaultDeps(cfg *config.Config, logger *slog.Logger) (Deps, error) {
	registrar, err := steam.NewClient(steam.Options{
		StoreURL:    cfg.Steam.BaseURL,
		APIURL:      cfg.Steam.APIBaseURL,
		LoginSecure: cfg.Steam.LoginSecure,
		SessionID:   cfg.Steam.SessionID,
		APIKey:      cfg.Steam.APIKey,
		Timeout:     time.Duration(cfg.Steam.RequestTimeout) * time.Second,
		MinInterval: time.Duration(cfg.Steam.MinRequestInterval) * time.Millisecond,
	}, logger)
	if err != nil {
		return Deps{}, err
	}
	timeout := time.Duration(cfg.Humble.RequestTimeout) * time.Second
	connect := func(ctx context.Context) (Storefront, error) {
		var (
			remote session.RemoteSession
			err    error
		)
		if cfg.Humble.BrowserDebugURL != "" {
			remote, err = session.DialBrowser(ctx, session.BrowserOptions{
				DebugURL: cfg.Humble.BrowserDebugURL,
				BaseURL:  cfg.Humble.BaseURL,
				Timeout:  timeout,
			})
		} else {
			remote, err = session.NewHTTPSession(session.HTTPOptions{
				BaseURL:       cfg.Humble.BaseURL,
				SessionCookie: cfg.Humble.SessionCookie,
				Timeout:       timeout,
			})
		}
		if err != nil {
			return nil, err
		}
		return humble.NewClient(remote, cfg.Humble.InventoryConcurrency, logger), nil
	}
	return Deps{Connect: connect, Registrar: registrar}, nil
}

// detachedStorefront stands in for the storefront when only the redeem step
// runs, as in reconciliation.
type detachedStorefront struct{}

func (detachedStorefront) Reveal(context.Context, *keys.Record) (string, error) {
	return "", services.Wrap(services.ErrConfiguration, "runner", "reveal", "no storefront session in this mode", nil)
}
func (detachedStorefront) KeepAlive(context.Context) error { return nil }
func (detachedStorefront) Alive(context.Context) bool      { return true }
func (detachedStorefront) Close() error                    { return nil }
