/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/rerun_calendar/internal/export"
	"github.com/friendsincode/rerun_calendar/internal/logging"
	"github.com/friendsincode/rerun_calendar/internal/planfile"
	"github.com/friendsincode/rerun_calendar/internal/scheduler"
	"github.com/friendsincode/rerun_calendar/internal/validation"
)

var (
	planFile   string
	planFormat string
	planCheck  bool
	planStart  string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute a calendar from a plan file",
	Long: `Compute a calendar from a YAML or JSON plan file without touching the
database.

Examples:
  # Print the calendar as a table
  reruncal plan -f late-night.yaml

  # Write an iCal feed
  reruncal plan -f late-night.yaml --format ical > late-night.ics

  # Fail when the plan has shadowed overrides or clashing reruns
  reruncal plan -f late-night.yaml --check
`,
	RunE: runPlan,
}

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a plan file can be scheduled",
	Long:  "Compute the calendar for a plan file and print its validation report as JSON",
	RunE:  runValidate,
}

func init() {
	planCmd.Flags().StringVarP(&planFile, "file", "f", "", "Plan file, or - for stdin")
	planCmd.Flags().StringVar(&planFormat, "format", "table", "Output format: table, json, or ical")
	planCmd.Flags().BoolVar(&planCheck, "check", false, "Exit non-zero when validation reports warnings")
	planCmd.Flags().StringVar(&planStart, "start", "", "Override the plan start (RFC 3339)")
	_ = planCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(planCmd)

	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Plan file, or - for stdin")
	_ = validateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(validateCmd)
}

type planSlot struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Value    string    `json:"value"`
	Override bool      `json:"override"`
}

type planOutput struct {
	Name              string            `json:"name"`
	Digest            string            `json:"digest"`
	StartsAt          time.Time         `json:"starts_at"`
	ShadowedOverrides int               `json:"shadowed_overrides"`
	IgnoredOverrides  int               `json:"ignored_overrides"`
	Slots             []planSlot        `json:"slots"`
	Report            validation.Report `json:"report"`
}

// cliLogger sends log output to stderr so it never mixes with results.
func cliLogger(cmd *cobra.Command) zerolog.Logger {
	return logging.SetupWithWriter("cli", cmd.ErrOrStderr())
}

func readPlan(cmd *cobra.Command, path string) (planfile.Document, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return planfile.Document{}, fmt.Errorf("read stdin: %w", err)
		}
		return planfile.Parse(data)
	}
	f, err := planfile.Load(path)
	if err != nil {
		return planfile.Document{}, err
	}
	return f.Document, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	log := cliLogger(cmd)
	doc, err := readPlan(cmd, planFile)
	if err != nil {
		return err
	}
	if planStart != "" {
		start, err := time.Parse(time.RFC3339, planStart)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		doc.Start = start
	}

	comp, err := scheduler.Compute(doc, time.Now(), log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	events := comp.Events()
	switch strings.ToLower(planFormat) {
	case "table":
		if err := export.Table(out, events); err != nil {
			return err
		}
		fmt.Fprintf(out, "\ndigest %s, %d shadowed, %d ignored overrides (* = override)\n",
			comp.Digest, len(comp.Result.Shadowed), len(comp.Result.Ignored))
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(toPlanOutput(comp, events)); err != nil {
			return err
		}
	case "ical":
		if _, err := out.Write(export.ICal(comp.Document.Name, events, time.Now().UTC())); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q (want table, json, or ical)", planFormat)
	}

	for _, w := range comp.Report.Warnings {
		log.Warn().Str("kind", string(w.Kind)).Time("at", w.At).Msg(w.Message)
	}
	if planCheck && len(comp.Report.Warnings) > 0 {
		return fmt.Errorf("plan has %d warning(s)", len(comp.Report.Warnings))
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := readPlan(cmd, validateFile)
	if err != nil {
		return err
	}
	comp, err := scheduler.Compute(doc, time.Now(), cliLogger(cmd))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(comp.Report)
}

func toPlanOutput(comp *scheduler.Computation, events []export.Event) planOutput {
	out := planOutput{
		Name:              comp.Document.Name,
		Digest:            comp.Digest,
		StartsAt:          comp.Result.Start.Time,
		ShadowedOverrides: len(comp.Result.Shadowed),
		IgnoredOverrides:  len(comp.Result.Ignored),
		Slots:             make([]planSlot, len(events)),
		Report:            comp.Report,
	}
	for i, ev := range events {
		out.Slots[i] = planSlot{StartsAt: ev.StartsAt, EndsAt: ev.EndsAt, Value: ev.Summary, Override: ev.Override}
	}
	return out
}
