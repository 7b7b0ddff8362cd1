package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"planstore/internal/app"
	"planstore/internal/document"
)

var allDocuments = []string{app.PostsDocument, app.ListsDocument, app.UsersDocument}

// documentNames maps CLI arguments ("posts" or "posts.json") to document
// names. No arguments selects every document.
func documentNames(args []string) ([]string, error) {
	if len(args) == 0 {
		return allDocuments, nil
	}
	names := make([]string, 0, len(args))
	for _, arg := range args {
		name := arg
		if !strings.HasSuffix(name, ".json") {
			name += ".json"
		}
		known := false
		for _, d := range allDocuments {
			if d == name {
				known = true
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown document %q (want posts, lists or users)", arg)
		}
		names = append(names, name)
	}
	return names, nil
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Inspect and repair stored documents",
}

var docStatCmd = &cobra.Command{
	Use:   "stat [DOCUMENT...]",
	Short: "Show size, digest and integrity of documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := documentNames(args)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "DocStat")
		if err != nil {
			return err
		}
		defer closeApp(a)

		for _, name := range names {
			info, err := a.Documents().Stat(cmd.Context(), name)
			if err != nil {
				return err
			}
			if info.Status == document.StatusMissing {
				fmt.Printf("%-11s  missing\n", name)
				continue
			}
			digest := info.Digest
			if len(digest) > 12 {
				digest = digest[:12]
			}
			if digest == "" {
				digest = "-"
			}
			backup := "none"
			if info.HasBackup {
				backup = humanize.Bytes(uint64(info.BackupSize))
			}
			locked := ""
			if info.Locked {
				locked = "  [locked]"
			}
			fmt.Printf("%-11s  %-8s  %8s  modified %s  digest %s  backup %s%s\n",
				name,
				info.Status,
				humanize.Bytes(uint64(info.Size)),
				humanize.Time(info.ModTime),
				digest,
				backup,
				locked,
			)
		}
		return nil
	},
}

var docVerifyCmd = &cobra.Command{
	Use:   "verify [DOCUMENT...]",
	Short: "Check documents against their digests",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := documentNames(args)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "DocVerify")
		if err != nil {
			return err
		}
		defer closeApp(a)

		bad := 0
		for _, name := range names {
			status, err := a.Documents().Verify(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Printf("%-11s  %s\n", name, status)
			if status == document.StatusMismatch || status == document.StatusCorrupt {
				bad++
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d document(s) failed verification; run 'planstore doc repair'", bad)
		}
		return nil
	},
}

var docRepairCmd = &cobra.Command{
	Use:   "repair DOCUMENT",
	Short: "Restore a document from its backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := documentNames(args)
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "DocRepair")
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Documents().Repair(cmd.Context(), names[0]); err != nil {
			return fmt.Errorf("repairing %s: %w", names[0], err)
		}
		audit(cmd.Context(), a, "document.repair", names[0], nil)
		fmt.Printf("Restored %s from backup\n", names[0])
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print document changes as they happen, including other processes' writes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd, "Watch")
		if err != nil {
			return err
		}
		defer closeApp(a)

		changes, cancel := a.Changes(64)
		defer cancel()

		fmt.Fprintln(os.Stderr, "Watching for changes; press Ctrl-C to stop.")
		for {
			select {
			case <-ctx.Done():
				return nil
			case c, ok := <-changes:
				if !ok {
					return nil
				}
				if c.ID != "" {
					fmt.Printf("%s  %s  %s\n", c.Document, c.Op, c.ID)
				} else {
					fmt.Printf("%s  %s\n", c.Document, c.Op)
				}
			}
		}
	},
}

func init() {
	docCmd.AddCommand(docStatCmd)
	docCmd.AddCommand(docVerifyCmd)
	docCmd.AddCommand(docRepairCmd)
}
