package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keyredeem/internal/keys"
	"keyredeem/internal/logging"
	"keyredeem/internal/services"
)

// RedeemFunc submits value to the registrar. quiet suppresses per-attempt
// failure logging while waiting.
type RedeemFunc func(ctx context.Context, value string, quiet bool) (keys.ResultCode, error)

// KeepAliveFunc keeps the storefront session alive during a wait.
type KeepAliveFunc func(ctx context.Context) error

// Report describes one completed wait.
type Report struct {
	// Retries is the number of quiet re-submissions made.
	Retries int
	// KeepAlives is the number of keep-alive hook calls.
	KeepAlives int
	Waited     time.Duration
}

// Stats accumulates waits over a run.
type Stats struct {
	Episodes int
	Waited   time.Duration
}

// Controller runs rate-limit waits.
type Controller struct {
	check     time.Duration
	retry     time.Duration
	keepAlive time.Duration
	hook      KeepAliveFunc
	logger    *slog.Logger

	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats Stats
}

// NewController validates the intervals. retry and keepAlive must be
// multiples of check. hook may be nil.
func NewController(check, retry, keepAlive time.Duration, hook KeepAliveFunc, logger *slog.Logger) (*Controller, error) {
	if check <= 0 {
		return nil, fmt.Errorf("rate limit check interval must be positive, got %s", check)
	}
	if retry < check || retry%check != 0 {
		return nil, fmt.Errorf("rate limit retry interval %s must be a multiple of check interval %s", retry, check)
	}
	if keepAlive > 0 && keepAlive%check != 0 {
		return nil, fmt.Errorf("keep-alive interval %s must be a multiple of check interval %s", keepAlive, check)
	}
	return &Controller{
		check:     check,
		retry:     retry,
		keepAlive: keepAlive,
		hook:      hook,
		logger:    logging.NewComponentLogger(logger, "ratelimit"),
		Sleep:     services.SleepWithContext,
	}, nil
}

// WaitForClear blocks until redeem returns a code other than RateLimited,
// then returns that code. Only context cancellation ends the wait early.
// Redeem errors other than cancellation count as still rate limited.
func (c *Controller) WaitForClear(ctx context.Context, redeem RedeemFunc, value string, remaining int) (keys.ResultCode, Report, error) {
	logger := logging.WithContext(ctx, c.logger)
	var rep Report
	defer c.record(&rep)

	logger.Warn("registrar rate limit hit, waiting",
		logging.String(logging.FieldEventType, "rate_limit_wait"),
		logging.Duration("retry_interval", c.retry),
		logging.Int(logging.FieldRemaining, remaining))

	for {
		if err := c.Sleep(ctx, c.check); err != nil {
			return keys.CodeRateLimited, rep, err
		}
		rep.Waited += c.check

		if c.keepAlive > 0 && rep.Waited%c.keepAlive == 0 && c.hook != nil {
			rep.KeepAlives++
			if err := c.hook(ctx); err != nil {
				if ctx.Err() != nil {
					return keys.CodeRateLimited, rep, ctx.Err()
				}
				logger.Debug("keep-alive during rate limit wait failed", logging.Error(err))
			}
		}

		if rep.Waited%c.retry != 0 {
			continue
		}
		rep.Retries++
		code, err := redeem(ctx, value, true)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return keys.CodeRateLimited, rep, err
			}
			if !errors.Is(err, services.ErrRateLimited) {
				logger.Debug("retry during rate limit wait failed", logging.Error(err))
				continue
			}
			code = keys.CodeRateLimited
		}
		if code != keys.CodeRateLimited {
			logger.Info("registrar rate limit cleared",
				logging.String(logging.FieldEventType, "rate_limit_cleared"),
				logging.Duration("waited", rep.Waited),
				logging.Int("retries", rep.Retries),
				logging.Int(logging.FieldRemaining, remaining))
			return code, rep, nil
		}
		logger.Info("still rate limited",
			logging.Duration("waited", rep.Waited),
			logging.Int(logging.FieldRemaining, remaining))
	}
}

func (c *Controller) record(rep *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Episodes++
	c.stats.Waited += rep.Waited
}

// Stats returns totals across every wait so far.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
