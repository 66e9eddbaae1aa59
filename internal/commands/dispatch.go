package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/opsrelay/opsrelay/internal/config"
	"github.com/opsrelay/opsrelay/internal/dispatch"
	"github.com/opsrelay/opsrelay/internal/report"
	"github.com/opsrelay/opsrelay/pkg/types"
)

// NewDispatchCmd creates the dispatch command.
func NewDispatchCmd() *cobra.Command {
	var (
		ref       string
		requester string
		inputs    []string
		timeout   int
	)

	cmd := &cobra.Command{
		Use:   "dispatch [workflow]",
		Short: "Trigger a workflow and wait for its result",
		Long: `Dispatches the named workflow with a fresh correlation token, rediscovers
the run it produced, and polls it to completion.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context(), args[0], ref, requester, inputs, timeout)
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "main", "Git ref to dispatch against")
	cmd.Flags().StringVar(&requester, "requester", "", "Name recorded as the requester")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Workflow input as key=value (repeatable)")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Cycle timeout in seconds (0 uses config)")
	return cmd
}

func runDispatch(ctx context.Context, target, ref, requester string, rawInputs []string, timeout int) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	inputs, err := parseInputs(rawInputs)
	if err != nil {
		return err
	}

	logger := slog.Default()

	st, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer func() { _ = st.Stop(context.Background()) }()

	pool, err := buildCredentials(ctx, cfg)
	if err != nil {
		return err
	}
	client, err := buildForgeClient(cfg)
	if err != nil {
		return err
	}

	tracker, err := buildTracker(cfg, client, pool, logger, dispatch.WithEventFunc(func(ev types.Event) {
		if err := st.AppendEvent(context.Background(), ev); err != nil {
			logger.Warn("failed to append event", "kind", ev.Kind, "error", err)
		}
	}))
	if err != nil {
		return err
	}

	req := types.DispatchRequest{
		Target:           target,
		Ref:              ref,
		CorrelationToken: uuid.NewString(),
		Requester:        requester,
		Inputs:           inputs,
		TimeoutSeconds:   timeout,
	}

	now := time.Now().UTC()
	rec := types.DispatchRecord{
		ID:        ulid.Make().String(),
		Target:    target,
		Ref:       ref,
		Token:     req.CorrelationToken,
		Requester: requester,
		Status:    types.DispatchRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.PutDispatch(ctx, rec); err != nil {
		logger.Warn("failed to persist dispatch record", "error", err)
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Dispatching %s (ref %s)\n", target, ref)
	fmt.Printf("  Token: %s\n\n", req.CorrelationToken)

	outcome := tracker.DispatchAndWait(ctx, req)

	done := time.Now().UTC()
	rec.Outcome = &outcome
	rec.Summary = report.Format(outcome)
	rec.UpdatedAt = done
	rec.CompletedAt = &done
	switch {
	case outcome.Completed:
		rec.Status = types.DispatchCompleted
	case outcome.TimedOut:
		rec.Status = types.DispatchTimedOut
	default:
		rec.Status = types.DispatchFailed
	}
	if err := st.PutDispatch(ctx, rec); err != nil {
		logger.Warn("failed to persist dispatch record", "error", err)
	}

	printOutcome(outcome)

	if !outcome.Completed && !outcome.TimedOut {
		return fmt.Errorf("dispatch failed: %s", outcome.Message)
	}
	return nil
}

func printOutcome(outcome types.PollOutcome) {
	summary := report.Format(outcome)
	switch {
	case outcome.Completed && outcome.Conclusion == types.ConclusionSuccess:
		color.Green("%s", summary)
	case outcome.TimedOut:
		color.Yellow("%s", summary)
	default:
		color.Red("%s", summary)
	}
}
