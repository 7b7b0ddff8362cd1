package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"planstore/internal/eventlog"
	"planstore/internal/logindex"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the event log",
}

var logTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")

		a, err := newApp(cmd, "LogTail")
		if err != nil {
			return err
		}
		defer closeApp(a)

		entries, err := a.TailLog(cmd.Context(), n)
		if err != nil {
			return err
		}
		printEntries(entries)
		return nil
	},
}

var logQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the event log, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("by")
		action, _ := cmd.Flags().GetString("action")
		subject, _ := cmd.Flags().GetString("subject")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "LogQuery")
		if err != nil {
			return err
		}
		defer closeApp(a)

		f := logindex.Filter{Actor: actor, Action: action, Subject: subject, Limit: limit}
		if since > 0 {
			f.Since = time.Now().Add(-since)
		}
		entries, err := a.QueryLog(cmd.Context(), f)
		if err != nil {
			return err
		}
		printEntries(entries)
		return nil
	},
}

func printEntries(entries []eventlog.Entry) {
	if len(entries) == 0 {
		fmt.Println("No entries.")
		return
	}
	for _, e := range entries {
		details := ""
		if len(e.Details) > 0 {
			if b, err := json.Marshal(e.Details); err == nil {
				details = "  " + string(b)
			}
		}
		fmt.Printf("%s  %-12s  %-20s  %s%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Actor,
			e.Action,
			e.Subject,
			details,
		)
	}
}

func init() {
	logCmd.AddCommand(logTailCmd)
	logCmd.AddCommand(logQueryCmd)

	logTailCmd.Flags().IntP("lines", "n", 20, "Number of entries to show")
	logQueryCmd.Flags().String("by", "", "Only entries by this actor")
	logQueryCmd.Flags().String("action", "", "Only entries with this action")
	logQueryCmd.Flags().String("subject", "", "Only entries about this subject")
	logQueryCmd.Flags().Duration("since", 0, "Only entries newer than this (e.g. 24h)")
	logQueryCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
}
