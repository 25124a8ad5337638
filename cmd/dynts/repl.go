package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
)

func newCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, name := range commandNames() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *session) repl(ctx context.Context, logger *slog.Logger) error {
	fmt.Fprintf(s.out, "dynts: hypertable %s, columns %v\n", s.ht.ID(), s.ht.Columns())
	fmt.Fprintln(s.out, "Enter help for usage hints.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     filepath.Join(os.TempDir(), ".dynts_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    newCompleter(),
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(s.prompt())
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					return nil
				}
				continue
			} else if readErr == io.EOF {
				return nil
			}
			return readErr
		}

		err := s.exec(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		} else if err != nil {
			logger.LogAttrs(ctx, slog.LevelDebug, "command failed", slog.String("line", line), slog.Any("err", err))
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *session) prompt() string {
	return fmt.Sprintf("dynts:%s[%s]> ", s.ht.ID(), s.bucket)
}
