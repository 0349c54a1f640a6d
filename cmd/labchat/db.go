package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/dentaflow/labchat/internal/config"
	"github.com/dentaflow/labchat/internal/db"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var (
		configPath string
		seed       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the labchat database",
		Long: `Creates the database (MySQL only), migrates the chat and message tables
and, with --seed, creates the demo chats listed under seed.chats.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath, seed)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "labchat.yaml", "path to labchat config file")
	cmd.Flags().BoolVar(&seed, "seed", false, "create the chats listed under seed.chats")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string, seed bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for workspace %q from %s\n", cfg.Workspace, configPath)

	if usesServer(cfg) {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to MySQL at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", cfg.Database.Host, cfg.Database.Port)
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if err := migrateAndSeed(cmd, gormDB, cfg, seed); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nLabchat database initialized successfully.")
	return nil
}

// usesServer reports whether the database lives on a MySQL server that
// labchat manages by name rather than through an explicit DSN.
func usesServer(cfg *config.Config) bool {
	return cfg.Database.Driver == "mysql" && cfg.Database.DSN == ""
}

func migrateAndSeed(cmd *cobra.Command, gormDB *gorm.DB, cfg *config.Config, seed bool) error {
	out := cmd.OutOrStdout()

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if !seed {
		return nil
	}
	created, err := db.SeedChats(gormDB, cfg.Seed.Chats)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d chats (%d already present)\n", created, len(cfg.Seed.Chats)-created)
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
		seed       bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the labchat database",
		Long: `Drops every chat and message and re-creates the schema.

On MySQL the whole database is dropped and re-created; on SQLite the
labchat tables are dropped and migrated again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes, seed)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "labchat.yaml", "path to labchat config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	cmd.Flags().BoolVar(&seed, "seed", false, "create the chats listed under seed.chats afterwards")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm, seed bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for workspace %q from %s\n", cfg.Workspace, configPath)

	target := cfg.Database.DSN
	if usesServer(cfg) {
		target = cfg.Database.Name
	}
	if !skipConfirm {
		if !confirmReset(cmd, target) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if usesServer(cfg) {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to MySQL at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		if err := db.DropDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Dropped database %s\n", cfg.Database.Name)
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s re-created\n", cfg.Database.Name)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if !usesServer(cfg) {
		if err := gormDB.Migrator().DropTable(db.AllModels()...); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
		fmt.Fprintf(out, "Dropped %d tables\n", len(db.AllModels()))
	}
	if err := migrateAndSeed(cmd, gormDB, cfg, seed); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nLabchat database reset and re-initialized successfully.")
	return nil
}

func confirmReset(cmd *cobra.Command, target string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all chats and messages in %q.\n", target)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
