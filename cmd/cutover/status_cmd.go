package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/forgeworks/cutover/modules/migration/domain/checkpoint"
	"github.com/forgeworks/cutover/modules/migration/infrastructure/persistence"
	"github.com/forgeworks/cutover/pkg/composables"
	"github.com/forgeworks/cutover/pkg/configuration"

	gerrors "github.com/go-faster/errors"
)

type statusOptions struct {
	jobID      uuid.UUID
	orgID      uuid.UUID
	entityType string
	limit      int
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions
	var jobFlag, orgFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint and open quarantine entries for a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&jobFlag, "job", "", "Job UUID (required)")
	cmd.Flags().StringVar(&orgFlag, "org", "", "Org UUID (required)")
	cmd.Flags().StringVar(&opts.entityType, "entity", "", "Entity type (required)")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "Max quarantine entries to list")

	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("entity")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		job, err := uuid.Parse(strings.TrimSpace(jobFlag))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --job: %w", err))
		}
		opts.jobID = job

		org, err := uuid.Parse(strings.TrimSpace(orgFlag))
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("invalid --org: %w", err))
		}
		opts.orgID = org
		return nil
	}

	return cmd
}

func runStatus(ctx context.Context, opts statusOptions) error {
	conf := configuration.Use()

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("connect database: %w", err))
	}
	defer pool.Close()
	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithOrgID(ctx, opts.orgID)

	cp, err := persistence.NewCheckpointRepository().Load(ctx, opts.jobID, opts.entityType)
	switch {
	case err == nil:
		fmt.Printf("checkpoint: cursor=%q batch=%d loaded_up_to=%d transform=%s updated=%s\n",
			cp.Cursor, cp.BatchIndex, cp.LoadedUpTo, short(cp.TransformVersion), cp.UpdatedAt.Format("2006-01-02 15:04:05"))
	case gerrors.Is(err, checkpoint.ErrNotFound):
		fmt.Println("checkpoint: none")
	default:
		return withCode(exitDB, err)
	}

	entries, err := persistence.NewQuarantineRepository().ListOpen(ctx, opts.jobID, opts.entityType, opts.limit)
	if err != nil {
		return withCode(exitDB, err)
	}
	if len(entries) == 0 {
		fmt.Println("quarantine: empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLEGACY ID\tSTAGE\tCLASS\tCODE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Key.LegacyID, e.FailureStage, e.ErrorClass, e.ErrorCode,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
