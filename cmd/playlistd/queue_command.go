package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/orrn/playlist/internal/db"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the saved playlist and job history",
	}
	cmd.AddCommand(newQueueShowCommand(ctx))
	cmd.AddCommand(newQueueHistoryCommand(ctx))
	cmd.AddCommand(newQueueArchiveCommand(ctx))
	return cmd
}

func openStore(ctx *commandContext) (*db.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	return db.NewStore(conn), nil
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the saved playlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			settings, err := store.Settings.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(settings.Playlist) == 0 {
				fmt.Fprintln(out, "Playlist is empty")
				return nil
			}

			rows := make([][]string, 0, len(settings.Playlist))
			for i, job := range settings.Playlist {
				rows = append(rows, []string{strconv.Itoa(i + 1), job.ID, job.FileName})
			}
			fmt.Fprintln(out, renderTable([]string{"#", "ID", "File"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
}

func newQueueHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs.ListRuns(cmd.Context(), db.RunFilter{Status: status, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No job runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				finished := "-"
				duration := "-"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Local().Format(time.DateTime)
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				rows = append(rows, []string{
					r.JobID,
					r.FileName,
					string(r.Status),
					r.StartedAt.Local().Format(time.DateTime),
					finished,
					duration,
				})
			}
			headers := []string{"Job", "File", "Status", "Started", "Finished", "Duration"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVar(&status, "status", "", "Only show runs with this status (running, finished, failed)")
	return cmd
}

func newQueueArchiveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Move old job runs into monthly archive files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			archiver, err := newArchiver(store.DB, cfg, log)
			if err != nil {
				return err
			}
			moved, err := archiver.RunArchive(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Archived %d job runs\n", moved)

			archives, err := archiver.ListArchives()
			if err != nil {
				return err
			}
			if len(archives) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(archives))
			for _, a := range archives {
				rows = append(rows, []string{a.Month, a.Filename, strconv.Itoa(a.RunCount), strconv.FormatInt(a.Size, 10)})
			}
			headers := []string{"Month", "File", "Runs", "Bytes"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}
}
