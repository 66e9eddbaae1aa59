package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsrelay/opsrelay/internal/config"
	"github.com/opsrelay/opsrelay/internal/store"
	"github.com/opsrelay/opsrelay/pkg/types"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [dispatch-id]",
		Short: "Show recent dispatches and their outcomes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) > 0 {
				id = args[0]
			}
			return runStatus(id, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of dispatches to list")
	return cmd
}

func runStatus(dispatchID string, limit int) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := buildStore(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer func() { _ = st.Stop(ctx) }()

	if dispatchID != "" {
		return showDispatch(ctx, st, dispatchID)
	}
	return showRecentDispatches(ctx, st, limit)
}

func showRecentDispatches(ctx context.Context, st store.Store, limit int) error {
	records, err := st.ListDispatches(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing dispatches: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No dispatches recorded.")
		return nil
	}

	bold := color.New(color.Bold)
	_, _ = bold.Println("Recent Dispatches:")
	fmt.Println()

	for _, rec := range records {
		fmt.Printf("  %s  %-30s %-12s %s\n",
			rec.ID, rec.Target, statusString(rec.Status), rec.CreatedAt.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func showDispatch(ctx context.Context, st store.Store, id string) error {
	rec, err := st.GetDispatch(ctx, id)
	if err != nil {
		return fmt.Errorf("dispatch not found: %w", err)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Dispatch: %s\n", rec.ID)
	fmt.Printf("  Target:    %s\n", rec.Target)
	fmt.Printf("  Ref:       %s\n", rec.Ref)
	fmt.Printf("  Token:     %s\n", rec.Token)
	if rec.Requester != "" {
		fmt.Printf("  Requester: %s\n", rec.Requester)
	}
	fmt.Printf("  Status:    %s\n", statusString(rec.Status))
	fmt.Printf("  Created:   %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", rec.CompletedAt.Format(time.RFC3339))
	}

	if rec.Summary != "" {
		fmt.Println()
		fmt.Println(rec.Summary)
	}

	events, _ := st.ListEvents(ctx, rec.Token, 0)
	if len(events) > 0 {
		fmt.Println()
		_, _ = bold.Println("  Events:")
		for _, ev := range events {
			line := fmt.Sprintf("    %s  %-20s", ev.Timestamp.Format(time.RFC3339), ev.Kind)
			if ev.RunID != 0 {
				line += fmt.Sprintf(" run=%d", ev.RunID)
			}
			if ev.Message != "" {
				line += "  " + ev.Message
			}
			fmt.Println(line)
		}
	}

	fmt.Println()
	return nil
}

func statusString(status types.DispatchStatus) string {
	switch status {
	case types.DispatchCompleted:
		return color.GreenString(string(status))
	case types.DispatchFailed:
		return color.RedString(string(status))
	case types.DispatchTimedOut:
		return color.YellowString(string(status))
	case types.DispatchRunning:
		return color.CyanString(string(status))
	default:
		return string(status)
	}
}
