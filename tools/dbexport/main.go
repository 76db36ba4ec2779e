// Package main provides a CLI tool that copies the markertrack sighting
// history from the local SQLite database into MySQL for long-term analysis.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (can be set via ldflags during build)
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "dbexport",
		Short: "Export markertrack sighting history from SQLite to MySQL",
		Long: `Copies the sightings table written by "markertrack track" into a MySQL
database. Original row IDs are preserved and rows already present in the
target are skipped, so the export can be re-run as the history grows.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintf(cmd.OutOrStdout(), "dbexport version %s\n", version)
				return nil
			}
			return runExport(cmd, &cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite database file")

	f.StringVar(&cfg.MySQLDSN, "mysql-dsn", "", "MySQL connection string (e.g., user:pass@tcp(host:3306)/dbname)")
	f.StringVar(&cfg.MySQLHost, "mysql-host", "localhost", "MySQL host (alternative to DSN)")
	f.IntVar(&cfg.MySQLPort, "mysql-port", 3306, "MySQL port")
	f.StringVar(&cfg.MySQLUser, "mysql-user", "markertrack", "MySQL username")
	f.StringVar(&cfg.MySQLPass, "mysql-pass", "", "MySQL password")
	f.StringVar(&cfg.MySQLDatabase, "mysql-database", "markertrack", "MySQL database name")

	f.IntVar(&cfg.BatchSize, "batch-size", 1000, "Number of records per batch")
	f.BoolVar(&cfg.DropTables, "drop-tables", false, "Drop the target table before export (fresh start)")
	f.BoolVar(&cfg.Clean, "clean", false, "Empty the target table before export (keeps table structure)")
	f.BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-export verification")
	f.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")

	f.StringVar(&cfg.ConfigPath, "config", "", "Path to markertrack config.yaml (for the SQLite path)")
	f.BoolP("version", "v", false, "Print version information")

	return cmd
}

func runExport(cmd *cobra.Command, cfg *Config) error {
	out := cmd.OutOrStdout()

	if err := cfg.Load(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintf(out, "Source: %s\n", cfg.SQLitePath)
		fmt.Fprintf(out, "Target: %s\n", cfg.GetSanitizedMySQLDSN())
		fmt.Fprintf(out, "Batch size: %d\n", cfg.BatchSize)
	}

	migrator, err := NewMigrator(cfg, out)
	if err != nil {
		return fmt.Errorf("failed to initialize exporter: %w", err)
	}
	defer migrator.Close()

	stats, err := migrator.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	stats.Print(out)

	if !cfg.SkipVerify {
		fmt.Fprintln(out, "\n--- Verification ---")
		if err := NewVerifier(migrator.sourceDB, migrator.targetDB, out).Verify(cmd.Context()); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		fmt.Fprintln(out, "Verification passed!")
	}

	return nil
}
