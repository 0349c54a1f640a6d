package main

import (
	"fmt"

	"github.com/dentaflow/labchat/internal/api"
	"github.com/dentaflow/labchat/internal/chat"
	"github.com/dentaflow/labchat/internal/config"
	"github.com/dentaflow/labchat/internal/db"
	"github.com/dentaflow/labchat/internal/directory"
	"github.com/dentaflow/labchat/internal/gateway"
	"github.com/dentaflow/labchat/internal/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// app is the wired object graph shared by serve and the chat commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	gateway  *gateway.Gateway
	service  *api.Service
	registry *prometheus.Registry
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}

	return cfg, gormDB, nil
}

// buildApp wires stores, gateway and service on an open database.
func buildApp(cfg *config.Config, gormDB *gorm.DB) (*app, error) {
	msgs, err := messaging.NewStore(messaging.StoreOpts{
		Chats: chat.NewStore(gormDB),
		Match: messaging.MatcherFor(cfg.Chat.IdentityMatch),
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gw, err := gateway.New(gateway.Opts{
		Messages:    msgs,
		Directory:   directory.NewStatic(cfg.Directory.Members),
		Metrics:     gateway.NewMetrics(reg),
		TypingRate:  cfg.Chat.TypingRate,
		TypingBurst: cfg.Chat.TypingBurst,
	})
	if err != nil {
		return nil, err
	}

	svc, err := api.NewService(api.ServiceOpts{
		Gateway:   gw,
		WorkItems: directory.NewStaticWorkItems(cfg.WorkItems),
	})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, db: gormDB, gateway: gw, service: svc, registry: reg}, nil
}
