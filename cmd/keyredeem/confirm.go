package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"keyredeem/internal/friendkeys"
	"keyredeem/internal/keys"
	"keyredeem/internal/ownership"
)

// promptConfirmer asks the operator on the terminal.
type promptConfirmer struct {
	ask func(ctx context.Context, title, description string) (bool, error)
}

func newPromptConfirmer() *promptConfirmer {
	return &promptConfirmer{ask: askTerminal}
}

func (p *promptConfirmer) ConfirmFriend(ctx context.Context, rec *keys.Record, v friendkeys.Verdict) (bool, error) {
	title := fmt.Sprintf("Treat %q as a friend key?", rec.HumanName)
	desc := fmt.Sprintf("%s confidence (%.0f%%): %s", v.Tier.Label(), v.Confidence*100, v.Reason)
	return p.ask(ctx, title, desc)
}

func (p *promptConfirmer) ConfirmOwned(ctx context.Context, rec *keys.Record, m ownership.Match) (bool, error) {
	title := fmt.Sprintf("Is %q already owned?", rec.HumanName)
	desc := fmt.Sprintf("Closest owned title: %q (app %d, score %d). Yes skips the key.", m.Name, m.AppID, m.Score)
	return p.ask(ctx, title, desc)
}

func askTerminal(ctx context.Context, title, description string) (bool, error) {
	var answer bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&answer),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, context.Canceled
		}
		return false, err
	}
	return answer, nil
}
