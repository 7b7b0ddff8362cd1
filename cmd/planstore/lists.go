package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"planstore/internal/model"
)

var listsCmd = &cobra.Command{
	Use:   "lists",
	Short: "Manage shared lists",
}

var listsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListsList")
		if err != nil {
			return err
		}
		defer closeApp(a)

		lists, err := a.Lists().List(cmd.Context())
		if err != nil {
			return err
		}
		if len(lists) == 0 {
			fmt.Println("No lists.")
			return nil
		}
		for _, l := range lists {
			fmt.Printf("%-36s  %s\n", l.ID, l.Name)
			for _, item := range l.Items {
				fmt.Printf("    - %s\n", item)
			}
		}
		return nil
	},
}

var listsAddCmd = &cobra.Command{
	Use:   "add NAME [ITEM...]",
	Short: "Create a list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListsAdd")
		if err != nil {
			return err
		}
		defer closeApp(a)

		l, err := a.Lists().Create(cmd.Context(), model.List{Name: args[0], Items: args[1:]})
		if err != nil {
			return fmt.Errorf("creating list: %w", err)
		}
		audit(cmd.Context(), a, "list.create", string(l.ID), map[string]any{"name": l.Name})

		fmt.Printf("Created list %s (%s)\n", l.ID, strings.Join(l.Items, ", "))
		return nil
	},
}

var listsRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListsRemove")
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.Lists().Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("deleting list: %w", err)
		}
		audit(cmd.Context(), a, "list.delete", args[0], nil)

		fmt.Printf("Deleted list %s\n", args[0])
		return nil
	},
}

func init() {
	listsCmd.AddCommand(listsListCmd)
	listsCmd.AddCommand(listsAddCmd)
	listsCmd.AddCommand(listsRmCmd)
}
