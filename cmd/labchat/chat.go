package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dentaflow/labchat/internal/archive"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Inspect and maintain chats",
	}

	cmd.AddCommand(newChatListCmd())
	cmd.AddCommand(newChatArchiveIdleCmd())
	return cmd
}

func newChatListCmd() *cobra.Command {
	var (
		configPath string
		scope      string
		identity   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chats in a scope",
		Long: `Lists the chats owned by a scope, most recently active first. With
--identity only that identity's chats are shown, with unread counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatList(cmd, configPath, scope, identity)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "labchat.yaml", "path to labchat config file")
	cmd.Flags().StringVar(&scope, "scope", "", "owner scope id (required)")
	cmd.Flags().StringVar(&identity, "identity", "", "only chats this identity takes part in")
	cmd.MarkFlagRequired("scope")
	return cmd
}

func runChatList(cmd *cobra.Command, configPath, scope, identity string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, gormDB)
	if err != nil {
		return err
	}

	chats, err := a.service.ListChats(context.Background(), scope, identity)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Fprintln(out, "No chats found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTITLE\tACTIVE\tUNREAD\tUPDATED")
	for _, c := range chats {
		title := c.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			c.ID, c.Kind, title, c.IsActive, c.UnreadCount, c.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func newChatArchiveIdleCmd() *cobra.Command {
	var (
		configPath string
		idleAfter  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "archive-idle",
		Short: "Archive chats with no recent activity",
		Long: `Runs one sweep of the idle archiver: every active chat whose last
activity is older than archive.idle_after (or --idle-after) is archived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatArchiveIdle(cmd, configPath, idleAfter)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "labchat.yaml", "path to labchat config file")
	cmd.Flags().DurationVar(&idleAfter, "idle-after", 0, "idle window (overrides archive.idle_after)")
	return cmd
}

func runChatArchiveIdle(cmd *cobra.Command, configPath string, idleAfter time.Duration) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if idleAfter > 0 {
		cfg.Archive.IdleAfter = idleAfter
	}
	a, err := buildApp(cfg, gormDB)
	if err != nil {
		return err
	}

	sched, err := archive.New(archive.Opts{
		Target:    a.service,
		Schedule:  cfg.Archive.Schedule,
		IdleAfter: cfg.Archive.IdleAfter,
	})
	if err != nil {
		return err
	}
	n, err := sched.RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Archived %d chats idle since %s\n", n, sched.Cutoff().Format(time.RFC3339))
	return nil
}
