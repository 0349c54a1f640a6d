package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dentaflow/labchat/internal/api"
	"github.com/dentaflow/labchat/internal/archive"
	"github.com/dentaflow/labchat/internal/db"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API and realtime gateway",
		Long: `Starts the HTTP server hosting the chat administration API, the
websocket gateway at /ws and Prometheus metrics at /metrics. When
archive.enabled is set, idle chats are archived on archive.schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "labchat.yaml", "path to labchat config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides listen.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Listen.Port = port
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	a, err := buildApp(cfg, gormDB)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if cfg.Archive.Enabled {
		sched, err := archive.New(archive.Opts{
			Target:    a.service,
			Schedule:  cfg.Archive.Schedule,
			IdleAfter: cfg.Archive.IdleAfter,
		})
		if err != nil {
			return err
		}
		go sched.Run(ctx)
		fmt.Fprintf(out, "Idle archiver scheduled (%s, idle after %s)\n", cfg.Archive.Schedule, cfg.Archive.IdleAfter)
	}

	return api.Start(ctx, api.StartOpts{
		Service:    a.service,
		Addr:       cfg.Listen.Addr(),
		Gatherer:   a.registry,
		SendBuffer: cfg.Chat.SendBuffer,
		Out:        out,
	})
}
