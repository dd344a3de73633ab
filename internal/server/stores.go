package server

import (
	"database/sql"
	"fmt"

	"github.com/mbd888/agentbroker/internal/config"
	"github.com/mbd888/agentbroker/internal/escrow"
	"github.com/mbd888/agentbroker/internal/negotiation"
	"github.com/mbd888/agentbroker/internal/tipping"
	"github.com/mbd888/agentbroker/internal/webhooks"
)

// webhookStoreBundle groups the three webhook store seams (subscriptions,
// delivery queue, event log), which every one of this package's store
// implementations satisfies from a single backing value.
type webhookStoreBundle struct {
	subs         webhooks.SubscriptionStore
	queue        webhooks.QueueStore
	events       webhooks.EventLogStore
	checkpointer webhooks.Checkpointer
}

// buildStores picks Postgres-backed stores when cfg.DatabaseURL is set,
// otherwise file-snapshot stores under cfg.SnapshotDir. Postgres is shared
// across engines from a single *sql.DB; file stores are independent per
// engine, matching each store's own snapshot file.
func (s *Server) buildStores(cfg *config.Config) (escrow.Store, negotiation.Store, webhookStoreBundle, tipping.Store, error) {
	if cfg.DatabaseURL == "" {
		return s.buildFileStores(cfg)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, webhookStoreBundle{}, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, nil, webhookStoreBundle{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db
	s.logger.Info("using PostgreSQL storage")

	escrowStore := escrow.NewPostgresStore(db)
	negotiationStore := negotiation.NewPostgresStore(db)
	webhookStore := webhooks.NewPostgresStore(db)
	tippingStore := tipping.NewPostgresStore(db)

	return escrowStore, negotiationStore, webhookStoreBundle{
		subs:   webhookStore,
		queue:  webhookStore,
		events: webhookStore,
	}, tippingStore, nil
}

func (s *Server) buildFileStores(cfg *config.Config) (escrow.Store, negotiation.Store, webhookStoreBundle, tipping.Store, error) {
	s.logger.Info("using file-snapshot storage", "dir", cfg.SnapshotDir)

	escrowStore, err := escrow.NewFileStore(cfg.SnapshotDir)
	if err != nil {
		return nil, nil, webhookStoreBundle{}, nil, fmt.Errorf("failed to open escrow store: %w", err)
	}
	negotiationStore, err := negotiation.NewFileStore(cfg.SnapshotDir)
	if err != nil {
		return nil, nil, webhookStoreBundle{}, nil, fmt.Errorf("failed to open negotiation store: %w", err)
	}
	webhookStore, err := webhooks.NewFileStore(cfg.SnapshotDir, cfg.EventLogPath, cfg.MaxLogEntries)
	if err != nil {
		return nil, nil, webhookStoreBundle{}, nil, fmt.Errorf("failed to open webhook store: %w", err)
	}
	tippingStore, err := tipping.NewFileStore(cfg.SnapshotDir)
	if err != nil {
		return nil, nil, webhookStoreBundle{}, nil, fmt.Errorf("failed to open tipping store: %w", err)
	}

	return escrowStore, negotiationStore, webhookStoreBundle{
		subs:         webhookStore,
		queue:        webhookStore,
		events:       webhookStore,
		checkpointer: webhookStore,
	}, tippingStore, nil
}
