/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/rerun_calendar/internal/cache"
	"github.com/friendsincode/rerun_calendar/internal/db"
	"github.com/friendsincode/rerun_calendar/internal/planfile"
	"github.com/friendsincode/rerun_calendar/internal/scheduler"
	"github.com/friendsincode/rerun_calendar/internal/store"
)

var pruneOlderThan string

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old calendar runs",
	Long: `Delete calendar runs created before a cutoff, along with their slots
and cache entries.

Examples:
  reruncal prune --older-than 30d
`,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "30d", "Age of runs to delete, e.g. 30d or 12h")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	age, err := planfile.ParseDuration(pruneOlderThan)
	if err != nil || age <= 0 {
		return fmt.Errorf("invalid --older-than %q", pruneOlderThan)
	}
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return err
	}

	svc := scheduler.New(store.New(database, logger), logger)
	if cfg.CacheEnabled {
		c := cache.New(cache.Config{
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
			RunTTL:        cfg.CacheTTL,
		}, logger)
		defer c.Close()
		svc.SetCache(c)
	}

	cutoff := time.Now().Add(-time.Duration(age))
	n, err := svc.Prune(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d run(s) created before %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return nil
}
