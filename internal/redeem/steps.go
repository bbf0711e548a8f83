package redeem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keyredeem/internal/keys"
	"keyredeem/internal/logging"
	"keyredeem/internal/services"
)

func normalizeValue(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// process drives one record to a terminal status. Only cancellation, ledger
// failures and recovery exhaustion are returned; every other failure is
// settled as Errored.
func (o *Orchestrator) process(ctx context.Context, rec *keys.Record, remaining int) error {
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("processing key", logging.Int(logging.FieldRemaining, remaining))

	if by, ok := o.seen(rec); ok {
		logger.Info("already activated earlier in this run", logging.String("matched_by", by))
		o.record(rec, keys.CodeAlreadyOwned)
		return o.settle(ctx, rec, keys.StatusAlreadyOwned)
	}

	if !rec.Revealed() {
		value, err := o.reveal(ctx, rec)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, services.ErrRecoveryExhausted):
			return err
		default:
			logging.WarnWithContext(logger, "reveal failed", "reveal_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "rerun later; errored keys are retried"),
				logging.String(logging.FieldImpact, "key recorded as errored"))
			return o.settle(ctx, rec, keys.StatusErrored)
		}
		rec.RevealedValue = value
		if value == keys.ExpiredMarker {
			logger.Info("key expired")
			return o.settle(ctx, rec, keys.StatusExpired)
		}
		rec.Status = keys.StatusRevealed
		if by, ok := o.seen(rec); ok {
			logger.Info("revealed value already activated in this run", logging.String("matched_by", by))
			o.record(rec, keys.CodeAlreadyOwned)
			return o.settle(ctx, rec, keys.StatusAlreadyOwned)
		}
	}

	_, err := o.Redeem(ctx, rec, remaining)
	return err
}

// Redeem validates rec's revealed value, submits it, waits out any rate
// limit, and records the outcome. It never reveals. The returned code is
// keys.CodeGeneric when the value never reached the registrar.
func (o *Orchestrator) Redeem(ctx context.Context, rec *keys.Record, remaining int) (keys.ResultCode, error) {
	ctx = services.WithKey(ctx, rec.Gamekey, rec.HumanName)
	logger := logging.WithContext(ctx, o.logger)

	if by, ok := o.seen(rec); ok {
		logger.Info("already activated earlier in this run", logging.String("matched_by", by))
		o.record(rec, keys.CodeAlreadyOwned)
		return keys.CodeAlreadyOwned, o.settle(ctx, rec, keys.StatusAlreadyOwned)
	}
	if !keys.ValidFormat(rec.RevealedValue) {
		logging.WarnWithContext(logger, "revealed value is not a registrar key", "key_format_invalid",
			logging.String(logging.FieldKeyValue, rec.RevealedValue),
			logging.String(logging.FieldErrorHint, "redeem it manually or wait for a later reveal"),
			logging.String(logging.FieldImpact, "key recorded as errored"))
		return keys.CodeGeneric, o.settle(ctx, rec, keys.StatusErrored)
	}

	code, err := o.registrar.Redeem(ctx, strings.TrimSpace(rec.RevealedValue), false)
	if errors.Is(err, services.ErrRateLimited) && ctx.Err() == nil {
		code, err = keys.CodeRateLimited, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return code, ctx.Err()
		}
		logging.WarnWithContext(logger, "redeem failed", "redeem_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rerun reconcile later"),
			logging.String(logging.FieldImpact, "key recorded as errored"))
		o.record(rec, keys.CodeGeneric)
		return keys.CodeGeneric, o.settle(ctx, rec, keys.StatusErrored)
	}
	o.record(rec, code)

	if code == keys.CodeRateLimited {
		cleared, rep, werr := o.limiter.WaitForClear(ctx, o.registrar.Redeem, strings.TrimSpace(rec.RevealedValue), remaining)
		o.observer.RateLimitWaited(rep)
		for range rep.Retries {
			o.record(rec, keys.CodeRateLimited)
		}
		if werr != nil {
			return cleared, werr
		}
		code = cleared
		o.attempts[len(o.attempts)-1].Code = code
	}

	status := code.Status()
	logger.Info("key settled",
		logging.Int(logging.FieldResultCode, int(code)),
		logging.String("result", code.String()),
		logging.String("status", string(status)),
		logging.Int(logging.FieldRemaining, remaining))
	return code, o.settle(ctx, rec, status)
}

func (o *Orchestrator) record(rec *keys.Record, code keys.ResultCode) {
	id := rec.Identity()
	n := 1
	for i := len(o.attempts) - 1; i >= 0; i-- {
		if o.attempts[i].Key == id {
			n = o.attempts[i].Number + 1
			break
		}
	}
	o.attempts = append(o.attempts, keys.Attempt{Key: id, Number: n, Code: code, At: o.Now()})
}

// reveal obtains rec's value, recovering the storefront session when
// failures point at it. After a recovery the key is retried once.
func (o *Orchestrator) reveal(ctx context.Context, rec *keys.Record) (string, error) {
	logger := logging.WithContext(ctx, o.logger)
	retried := false
	for {
		value, err := o.revealWithRetry(ctx, rec)
		if err == nil {
			o.guardian.RecordSuccess()
			return value, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, services.ErrDomainTerminal) {
			return "", err
		}
		sessionErr := errors.Is(err, services.ErrSessionInvalid) || errors.Is(err, services.ErrStaleCredentials)
		if !sessionErr && o.guardian.Validate(ctx, o.store) {
			return "", err
		}
		if !o.guardian.RecordFailure() {
			return "", services.Wrap(services.ErrSessionInvalid, "redeem", "reveal", "session unhealthy", err)
		}
		fresh, rerr := o.guardian.Reinitialize(ctx, o.store)
		if rerr != nil {
			return "", rerr
		}
		o.store = fresh
		o.observer.SessionRecovered()
		if retried {
			return "", err
		}
		retried = true
		logger.Info("retrying key on the recovered session")
	}
}

// revealWithRetry retries transient failures with linear backoff.
func (o *Orchestrator) revealWithRetry(ctx context.Context, rec *keys.Record) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= o.revealAttempts; attempt++ {
		o.observer.RevealAttempted()
		value, err := o.store.Reveal(ctx, rec)
		if err == nil {
			if strings.TrimSpace(value) == "" {
				return "", services.Wrap(services.ErrValidation, "redeem", "reveal", "storefront returned an empty key", nil)
			}
			return value, nil
		}
		lastErr = err
		if !services.IsRetriable(err) || attempt == o.revealAttempts {
			break
		}
		delay := time.Duration(attempt) * o.revealBackoff
		o.logger.Debug("reveal failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err))
		if serr := o.Sleep(ctx, delay); serr != nil {
			return "", serr
		}
	}
	return "", fmt.Errorf("reveal %s: %w", rec.HumanName, lastErr)
}
