package main

import (
	"context"
	"fmt"

	"witlab/cmd/wit/chat"
)

// runInteractiveChat starts the TUI chat against the configured model.
func runInteractiveChat(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ag, err := a.newAgent(ctx)
	if err != nil {
		return fmt.Errorf("failed to start chat: %w", err)
	}

	var notice string
	if a.history == nil && cfg.Storage.HistoryPath != "" {
		notice = "History database unavailable; predictions will not be recorded."
	}
	return chat.Run(ctx, ag, timeout, notice)
}
