package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dynts "github.com/linrium/dyn-ts"
	"github.com/linrium/dyn-ts/dynamo"
	"github.com/linrium/dyn-ts/journal"
	"github.com/linrium/dyn-ts/sqlitestore"
)

func openStore(ctx context.Context, cfg StoreConfig) (dynts.ManifestStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Kind {
	case storeMemory:
		s := dynts.NewMemStore()
		return s, s.Close, nil
	case storeBolt:
		s, err := dynts.OpenBolt(cfg.Path, dynts.BoltOptions{})
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case storeSQLite:
		scfg := sqlitestore.DefaultConfig()
		scfg.Path = cfg.Path
		if cfg.BusyTimeout > 0 {
			scfg.BusyTimeout = cfg.BusyTimeout
		}
		s, err := sqlitestore.Open(scfg)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case storeDynamoDB:
		s, err := dynamo.New(ctx, dynamo.Config{
			Table:           cfg.DynamoDB.Table,
			Region:          cfg.DynamoDB.Region,
			Endpoint:        cfg.DynamoDB.Endpoint,
			AccessKeyID:     cfg.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.DynamoDB.SecretAccessKey,
			ConsistentRead:  cfg.DynamoDB.ConsistentRead,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// openJournal opens the row journal configured for the hypertable, if any.
func openJournal(cfg Config, logger *slog.Logger) (*journal.Journal, error) {
	if cfg.Journal == "" {
		return nil, nil
	}
	return journal.Open(cfg.Journal, journal.Options{
		FileName:  cfg.Hypertable + "-*.wal",
		DebugName: "journal " + cfg.Hypertable,
		Sync:      true,
		Logger:    logger,
		Verbose:   cfg.Verbose,
	})
}

// openHypertable resumes the directory saved in the store, or starts an empty one.
// Either way, rows left in the journal are recovered.
func openHypertable(ctx context.Context, cfg Config, store dynts.ManifestStore, j *journal.Journal, logger *slog.Logger) (*dynts.Hypertable, error) {
	opt := dynts.Options{
		Limit:   cfg.Limit,
		Indexer: cfg.indexer(),
		Store:   store,
		Journal: j,
		Logger:  logger,
		Verbose: cfg.Verbose,
	}
	ht, err := dynts.OpenHypertable(ctx, store, cfg.Hypertable, opt)
	if err == nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "resumed hypertable", slog.String("ht", cfg.Hypertable), slog.Int("chunks", len(ht.AllChunks())))
		return ht, nil
	} else if !errors.Is(err, dynts.ErrNotFound) {
		return nil, err
	}
	dims, err := cfg.dimensionColumns()
	if err != nil {
		return nil, err
	}
	ht, err = dynts.NewHypertable(cfg.Hypertable, cfg.Columns, dims, opt)
	if err != nil {
		return nil, err
	}
	if _, err := ht.ReplayJournal(); err != nil {
		return nil, err
	}
	return ht, nil
}
