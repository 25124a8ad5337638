package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "dynts - packed time-series chunks over a key-value store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: dynts [options] [command ...]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Without a command, dynts starts an interactive shell.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "YAML config file (defaults to the weather demo on an in-memory store)")
	journalDir := flag.String("journal", "", "directory of the row journal (overrides the config)")
	verbose := flag.Bool("v", false, "log chunk lifecycle events")
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dynts: %v\n", err)
			os.Exit(2)
		}
	}
	if *journalDir != "" {
		cfg.Journal = *journalDir
	}
	if *verbose {
		cfg.Verbose = true
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), cfg, logger, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "dynts: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	j, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	ht, err := openHypertable(ctx, cfg, store, j, logger)
	if err != nil {
		return err
	}
	s := &session{ht: ht, store: store, bucket: cfg.Timestamp, out: os.Stdout}

	if len(args) > 0 {
		err := s.exec(ctx, strings.Join(args, " "))
		if errors.Is(err, errQuit) {
			return nil
		}
		return err
	}
	return s.repl(ctx, logger)
}
