package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/forgeworks/cutover/modules/migration/infrastructure/boundary"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/persistence"
	"github.com/forgeworks/cutover/modules/migration/services"
	"github.com/forgeworks/cutover/pkg/composables"
	"github.com/forgeworks/cutover/pkg/configuration"
)

type replayOptions struct {
	entryID uuid.UUID
	orgID   uuid.UUID
	baseURL string
	auth    string
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	var idFlag, orgFlag string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay one quarantined record from its stored data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&idFlag, "id", "", "Quarantine entry UUID (required)")
	cmd.Flags().StringVar(&orgFlag, "org", "", "Org UUID (required)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Target API base URL (required)")
	cmd.Flags().StringVar(&opts.auth, "auth", "", "Authorization header value for the target API")

	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("base-url")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(strings.TrimSpace(idFlag))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --id: %w", err))
		}
		opts.entryID = id

		org, err := uuid.Parse(strings.TrimSpace(orgFlag))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --org: %w", err))
		}
		opts.orgID = org
		return nil
	}

	return cmd
}

func runReplay(ctx context.Context, opts replayOptions) error {
	conf := configuration.Use()
	logger := conf.Logger().WithField("command", "replay")

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("connect database: %w", err))
	}
	defer pool.Close()
	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithOrgID(ctx, opts.orgID)

	target, err := boundary.NewHTTPBoundary(opts.baseURL, opts.auth)
	if err != nil {
		return withCode(exitUsage, err)
	}

	replay := services.NewReplayService(
		persistence.NewLineageRepository(),
		persistence.NewQuarantineRepository(),
		target,
		logger,
	)

	outcome, err := replay.ReplayQuarantinedRecord(ctx, opts.entryID)
	if err != nil {
		return withCode(exitDB, err)
	}

	if outcome.TargetID != "" {
		fmt.Printf("%s %s: %s (target %s)\n", outcome.EntityType, outcome.LegacyID, outcome.Status, outcome.TargetID)
	} else {
		fmt.Printf("%s %s: %s\n", outcome.EntityType, outcome.LegacyID, outcome.Status)
	}
	return nil
}
