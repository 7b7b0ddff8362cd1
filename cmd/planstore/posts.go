package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"planstore/internal/model"
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Manage scheduled posts",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts in schedule order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "PostsList")
		if err != nil {
			return err
		}
		defer closeApp(a)

		posts, err := a.Posts().List(cmd.Context())
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			fmt.Println("No posts.")
			return nil
		}
		for _, p := range posts {
			when := p.Time
			if p.AllDay || when == "" {
				when = "all-day"
			}
			fmt.Printf("%-36s  %s  %-7s  %-9s  %s", p.ID, p.Date, when, p.Status, p.Title)
			if len(p.Platforms) > 0 {
				fmt.Printf("  [%s]", strings.Join(p.Platforms, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

var postsAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Schedule a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		at, _ := cmd.Flags().GetString("time")
		status, _ := cmd.Flags().GetString("status")
		notes, _ := cmd.Flags().GetString("notes")
		platforms, _ := cmd.Flags().GetStringSlice("platform")
		creators, _ := cmd.Flags().GetStringSlice("creator")

		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
		}
		if at != "" {
			if _, err := time.Parse("15:04", at); err != nil {
				return fmt.Errorf("invalid --time %q: want HH:MM", at)
			}
		}
		if !validStatus(status) {
			return fmt.Errorf("invalid --status %q", status)
		}

		a, err := newApp(cmd, "PostsAdd")
		if err != nil {
			return err
		}
		defer closeApp(a)

		p, err := a.Posts().Create(cmd.Context(), model.Post{
			Date:      date,
			Time:      at,
			AllDay:    at == "",
			Status:    status,
			Title:     args[0],
			Notes:     notes,
			Platforms: platforms,
			Creators:  creators,
		})
		if err != nil {
			return fmt.Errorf("creating post: %w", err)
		}
		audit(cmd.Context(), a, "post.create", string(p.ID), map[string]any{"date": p.Date, "title": p.Title})

		fmt.Printf("Created post %s\n", p.ID)
		return nil
	},
}

var postsRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "PostsRemove")
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Posts().Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("deleting post: %w", err)
		}
		audit(cmd.Context(), a, "post.delete", args[0], nil)

		fmt.Printf("Deleted post %s\n", args[0])
		return nil
	},
}

var postsStatusCmd = &cobra.Command{
	Use:   "status ID STATUS",
	Short: "Change a post's status (draft, scheduled, published)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, status := args[0], args[1]
		if !validStatus(status) {
			return fmt.Errorf("invalid status %q", status)
		}

		a, err := newApp(cmd, "PostsStatus")
		if err != nil {
			return err
		}
		defer closeApp(a)

		var previous string
		_, err = a.Posts().Update(cmd.Context(), id, func(p model.Post) (model.Post, error) {
			previous = p.Status
			p.Status = status
			return p, nil
		})
		if err != nil {
			return fmt.Errorf("updating post: %w", err)
		}
		audit(cmd.Context(), a, "post.status", id, map[string]any{"from": previous, "to": status})

		fmt.Printf("Post %s: %s -> %s\n", id, previous, status)
		return nil
	},
}

func validStatus(s string) bool {
	switch s {
	case model.StatusDraft, model.StatusScheduled, model.StatusPublished:
		return true
	}
	return false
}

func init() {
	postsCmd.AddCommand(postsListCmd)
	postsCmd.AddCommand(postsAddCmd)
	postsCmd.AddCommand(postsRmCmd)
	postsCmd.AddCommand(postsStatusCmd)

	postsAddCmd.Flags().String("date", "", "Publication date (YYYY-MM-DD)")
	postsAddCmd.Flags().String("time", "", "Publication time (HH:MM); omit for an all-day post")
	postsAddCmd.Flags().String("status", model.StatusDraft, "Initial status")
	postsAddCmd.Flags().String("notes", "", "Free-form notes")
	postsAddCmd.Flags().StringSlice("platform", nil, "Target platform (repeatable)")
	postsAddCmd.Flags().StringSlice("creator", nil, "Creator (repeatable)")
	_ = postsAddCmd.MarkFlagRequired("date")
}
