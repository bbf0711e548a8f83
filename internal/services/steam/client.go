package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"keyredeem/internal/keys"
	"keyredeem/internal/logging"
	"keyredeem/internal/services"
)

const (
	registerKeyPath = "/account/ajaxregisterkey/"
	registerPage    = "/account/registerkey"
	userDataPath    = "/dynamicstore/userdata/"
	appDetailsPath  = "/api/appdetails"
	appListPath     = "/IStoreService/GetAppList/v1/"
	appListPageSize = 50000
	maxBodyBytes    = 64 << 20
)

// Options configures a Client.
type Options struct {
	StoreURL    string
	APIURL      string
	LoginSecure string
	SessionID   string
	APIKey      string
	Timeout     time.Duration
	// MinInterval spaces activation calls. Zero disables pacing.
	MinInterval time.Duration
	// DetailConcurrency bounds parallel app-detail lookups.
	DetailConcurrency int
	HTTPClient        *http.Client
}

// Client talks to the registrar.
type Client struct {
	store             *url.URL
	api               *url.URL
	sessionID         string
	apiKey            string
	http              *http.Client
	limiter           *rate.Limiter
	detailConcurrency int
	logger            *slog.Logger
}

// NewClient validates credentials and prepares the cookie jar.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	store, err := url.Parse(strings.TrimRight(opts.StoreURL, "/"))
	if err != nil || store.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "steam", "parse store url", opts.StoreURL, err)
	}
	api, err := url.Parse(strings.TrimRight(opts.APIURL, "/"))
	if err != nil || api.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "steam", "parse api url", opts.APIURL, err)
	}
	if strings.TrimSpace(opts.LoginSecure) == "" || strings.TrimSpace(opts.SessionID) == "" {
		return nil, services.Wrap(services.ErrStaleCredentials, "steam", "credentials", "steamLoginSecure and sessionid cookies are required", nil)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	jar.SetCookies(store, []*http.Cookie{
		{Name: "steamLoginSecure", Value: opts.LoginSecure, Path: "/"},
		{Name: "sessionid", Value: opts.SessionID, Path: "/"},
	})

	client := &http.Client{Timeout: opts.Timeout}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}
	client.Jar = jar
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	concurrency := opts.DetailConcurrency
	if concurrency < 1 {
		concurrency = 8
	}
	return &Client{
		store:             store,
		api:               api,
		sessionID:         opts.SessionID,
		apiKey:            strings.TrimSpace(opts.APIKey),
		http:              client,
		limiter:           limiter,
		detailConcurrency: concurrency,
		logger:            logging.NewComponentLogger(logger, "steam"),
	}, nil
}

type registerReply struct {
	Success              int             `json:"success"`
	PurchaseResultDetail *int            `json:"purchase_result_details"`
	PurchaseReceiptInfo  json.RawMessage `json:"purchase_receipt_info"`
}

type receiptInfo struct {
	ResultDetail *int `json:"result_detail"`
	LineItems    []struct {
		Description string `json:"line_item_description"`
	} `json:"line_items"`
}

// Redeem submits value for activation and returns the registrar's result
// code. Timeouts, transport errors, 403 replies and non-JSON bodies are all
// reported as CodeRateLimited, which is how the registrar behaves while
// throttling. Every CodeRateLimited reply comes with an error marked
// services.ErrRateLimited; callers hand those to the rate-limit wait instead
// of failing the key.
func (c *Client) Redeem(ctx context.Context, value string, quiet bool) (keys.ResultCode, error) {
	logger := logging.WithContext(ctx, c.logger)
	if strings.TrimSpace(value) == "" {
		return keys.CodeInvalidKey, services.Wrap(services.ErrValidation, "steam", "redeem", "empty key value", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return keys.CodeRateLimited, err
	}

	form := url.Values{"product_key": {value}, "sessionid": {c.sessionID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.store.String()+registerKeyPath, strings.NewReader(form.Encode()))
	if err != nil {
		return keys.CodeUnknown, fmt.Errorf("build redeem request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return keys.CodeRateLimited, ctx.Err()
		}
		if !quiet {
			logger.Warn("redeem request failed, treating as rate limited", logging.Error(err))
		}
		return rateLimited("request failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode == http.StatusForbidden {
		if !quiet {
			logger.Warn("registrar answered 403, likely rate limited")
		}
		return rateLimited("", &services.StatusError{Status: resp.StatusCode})
	}
	var reply registerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		if !quiet {
			logger.Warn("registrar reply was not JSON",
				logging.Int("status", resp.StatusCode),
				logging.String("preview", preview(body)))
		}
		return rateLimited("non-JSON reply", err)
	}

	var receipt receiptInfo
	if len(reply.PurchaseReceiptInfo) > 0 {
		_ = json.Unmarshal(reply.PurchaseReceiptInfo, &receipt)
	}
	if reply.Success == 1 {
		for _, item := range receipt.LineItems {
			logger.Info("activated", logging.String("item", item.Description))
		}
		return keys.CodeSuccess, nil
	}

	code := keys.CodeRateLimited
	switch {
	case reply.PurchaseResultDetail != nil && *reply.PurchaseResultDetail != 0:
		code = keys.ResultCode(*reply.PurchaseResultDetail)
	case receipt.ResultDetail != nil && *receipt.ResultDetail != 0:
		code = keys.ResultCode(*receipt.ResultDetail)
	}
	if code == keys.CodeRateLimited {
		if !quiet {
			logger.Info("activation refused", logging.Int(logging.FieldResultCode, int(code)))
		}
		return rateLimited(code.String(), nil)
	}
	logger.Info("activation refused",
		logging.Int(logging.FieldResultCode, int(code)),
		logging.String("reason", code.String()))
	return code, nil
}

func rateLimited(msg string, cause error) (keys.ResultCode, error) {
	return keys.CodeRateLimited, services.Wrap(services.ErrRateLimited, "steam", "redeem", msg, cause)
}

// Alive reports whether the registrar still treats the cookies as logged in.
func (c *Client) Alive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.store.String()+registerPage, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode != http.StatusMovedPermanently && resp.StatusCode != http.StatusFound && resp.StatusCode < 400
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransient, "steam", "GET", endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return services.Wrap(services.ErrTransient, "steam", "GET", "read body", err)
	}
	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return services.Wrap(services.ErrStaleCredentials, "steam", "GET", endpoint, &services.StatusError{Status: resp.StatusCode})
	case resp.StatusCode >= 300:
		return services.Wrap(services.ErrTransient, "steam", "GET", endpoint, &services.StatusError{Status: resp.StatusCode})
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Wrap(services.ErrExternalTool, "steam", "GET", "non-JSON reply: "+preview(body), err)
	}
	return nil
}

func preview(body []byte) string {
	s := strings.ReplaceAll(string(body), "\n", " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
