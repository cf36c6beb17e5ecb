package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/forgeworks/cutover/migrations"
	"github.com/forgeworks/cutover/pkg/configuration"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the engine's database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGoose(func(db *sql.DB) error {
				return goose.Up(db, ".")
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last schema migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGoose(func(db *sql.DB) error {
				return goose.Down(db, ".")
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print schema migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGoose(func(db *sql.DB) error {
				return goose.Status(db, ".")
			})
		},
	})

	return cmd
}

func withGoose(fn func(*sql.DB) error) error {
	conf := configuration.Use()

	db, err := sql.Open("pgx", conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("open database: %w", err))
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.Files)
	if err := goose.SetDialect("postgres"); err != nil {
		return withCode(exitDB, err)
	}
	if err := fn(db); err != nil {
		return withCode(exitDB, err)
	}
	return nil
}
