// Package client wires the local store, the sync queue, the connectivity
// monitor, the server SDK and the sync engine into one running client.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sproutlog/sproutlog/internal/client/config"
	"github.com/sproutlog/sproutlog/internal/client/sync"
	"github.com/sproutlog/sproutlog/internal/client/workspace"
	"github.com/sproutlog/sproutlog/internal/db"
	"github.com/sproutlog/sproutlog/internal/localstore"
	"github.com/sproutlog/sproutlog/internal/netmon"
	"github.com/sproutlog/sproutlog/internal/sproutsdk"
	"github.com/sproutlog/sproutlog/internal/syncq"
)

const probeInterval = 15 * time.Second

type Client struct {
	config     *config.Config
	ws         *workspace.Workspace
	sdk        *sproutsdk.SDK
	sqlite     *sqlx.DB
	stores     *localstore.Stores
	queue      *syncq.Queue
	monitor    *netmon.Monitor
	tracker    *sync.Tracker
	engine     *sync.Engine
	Repository *sync.Repository
}

func New(cfg *config.Config) (*Client, error) {
	ws, err := workspace.New(cfg.DataDir, cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	sdk, err := sproutsdk.New(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdk: %w", err)
	}

	return &Client{
		config: cfg,
		ws:     ws,
		sdk:    sdk,
	}, nil
}

func (c *Client) Start(ctx context.Context) error {
	slog.Info("sproutlog client start", "datadir", c.config.DataDir, "email", c.config.Email, "server", c.config.ServerURL)

	if err := c.ws.Setup(); err != nil {
		return fmt.Errorf("failed to set up workspace: %w", err)
	}

	if err := c.openStores(); err != nil {
		return err
	}

	if err := c.sdk.Login(c.config.Email); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	c.monitor = netmon.New(netmon.ProbeFunc(c.sdk.Healthz), probeInterval)
	c.sdk.Events.OnStateChange(c.monitor.Notify)

	c.tracker = sync.NewTracker()
	local := sync.Local{Children: c.stores.Children, Diary: c.stores.Diary, Media: c.stores.Media}
	remote := sync.Remote{Children: c.sdk.Children, Diary: c.sdk.Diary, Media: c.sdk.Media}
	c.engine = sync.NewEngine(local, remote, c.queue, c.monitor, c.tracker,
		sync.WithSyncInterval(c.config.SyncInterval))
	c.Repository = sync.NewRepository(local, remote, c.queue, c.monitor, c.engine, c.sdk.Events, c.tracker)

	c.monitor.Start(ctx)
	c.engine.Start(ctx, c.config.Email)
	c.Repository.Start(ctx, c.config.Email)

	if err := c.sdk.Events.Connect(ctx); err != nil {
		slog.Warn("events connect", "error", err)
	}

	if c.config.AutoSync {
		if err := c.engine.StartAutoSync(c.config.Email); err != nil {
			return fmt.Errorf("failed to start auto sync: %w", err)
		}
	} else {
		slog.Info("auto sync disabled")
	}

	<-ctx.Done()
	slog.Info("received interrupt signal, stopping client")
	c.shutdown()
	return nil
}

func (c *Client) openStores() error {
	sqlite, err := db.NewSqliteDB(db.WithPath(c.ws.DBPath))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	c.sqlite = sqlite

	stores, err := localstore.New(sqlite)
	if err != nil {
		return fmt.Errorf("failed to init local store: %w", err)
	}
	c.stores = stores

	queue, err := syncq.New(sqlite)
	if err != nil {
		return fmt.Errorf("failed to init sync queue: %w", err)
	}
	c.queue = queue
	return nil
}

// shutdown tears components down in reverse dependency order so nothing
// observes a closed database.
func (c *Client) shutdown() {
	c.Repository.Stop()
	c.engine.Shutdown()
	c.monitor.Stop()
	c.sdk.Close()
	c.stores.Close()
	if err := c.sqlite.Close(); err != nil {
		slog.Error("close database", "error", err)
	}
	if err := c.ws.Unlock(); err != nil {
		slog.Error("unlock workspace", "error", err)
	}
	slog.Info("sproutlog client stop")
}
