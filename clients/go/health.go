package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/carelink/internal/store"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the backend and local storage",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			failed := false
			start := time.Now()
			if h, err := a.client.Health(ctx); err != nil {
				fmt.Printf("backend  FAIL  %v\n", err)
				failed = true
			} else {
				fmt.Printf("backend  %-4s  %s (%s)\n", "OK", h.Status, time.Since(start).Round(time.Millisecond))
			}

			start = time.Now()
			if err := a.kv.Ping(ctx); err != nil {
				fmt.Printf("storage  FAIL  %v\n", err)
				failed = true
			} else {
				fmt.Printf("storage  %-4s  %s (%s)\n", "OK", store.Redact(a.cfg.StorageURL), time.Since(start).Round(time.Millisecond))
			}

			sealed := "plaintext"
			if a.sealer != nil {
				sealed = "sealed"
			}
			fmt.Printf("session  %s, signed in: %t\n", sealed, a.sessions.Snapshot().Authenticated())

			if failed {
				return fmt.Errorf("health check failed")
			}
			return nil
		}),
	}
}
