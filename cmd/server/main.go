package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/rankland/broadcast-hub/internal/config"
	"github.com/rankland/broadcast-hub/internal/core"
	"github.com/rankland/broadcast-hub/internal/hub"
	"github.com/rankland/broadcast-hub/internal/membership"
	"github.com/rankland/broadcast-hub/internal/rtcengine"
	"github.com/rankland/broadcast-hub/internal/store"
)

func main() {
	app := &cli.App{
		Name:        "broadcast-hub",
		Usage:       "Signaling server for live contest broadcasting",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':3001' for listen on 0.0.0.0:3001",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a yaml configuration file",
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env := c.String("env"); env != "" {
		cfg.Env = core.Environment(env)
	}
	if address := c.String("address"); address != "" {
		cfg.Address = address
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	directory, err := newDirectory(cfg)
	if err != nil {
		return err
	}

	engine, err := rtcengine.NewPionRouter(cfg)
	if err != nil {
		return fmt.Errorf("create media router: %w", err)
	}

	hubApp := hub.New(hub.AppOptions{
		Config:    cfg,
		Directory: directory,
		Store:     store.NewRedisBroadcastStore(rdb, cfg.Redis.KeyPrefix, cfg.Broadcast.StateTTL),
		Shots:     store.NewShotStore(),
		Engine:    engine,
	})

	return hubApp.Start()
}

func newDirectory(cfg *config.Config) (membership.Directory, error) {
	switch cfg.Membership.Mode {
	case "api":
		return membership.NewAPIDirectory(cfg.Membership.APIBaseURL, cfg.Membership.APIToken), nil
	case "db":
		db, err := sqlx.Connect("pgx", cfg.Membership.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect membership database: %w", err)
		}
		return membership.NewDBDirectory(db), nil
	default:
		return nil, fmt.Errorf("unknown membership mode: %q", cfg.Membership.Mode)
	}
}
