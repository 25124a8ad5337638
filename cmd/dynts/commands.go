package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/kballard/go-shellquote"

	dynts "github.com/linrium/dyn-ts"
)

var errQuit = errors.New("quit")

type session struct {
	ht     *dynts.Hypertable
	store  dynts.Store
	bucket string
	out    io.Writer
}

type command struct {
	usage string
	help  string
	run   func(s *session, ctx context.Context, args []string) error
}

var commands map[string]*command

func init() {
	commands = map[string]*command{
		"append": {"append v1 v2 ...", "append one row to the current bucket", (*session).cmdAppend},
		"seal":   {"seal [index]", "seal the open chunk for index, or every open chunk", (*session).cmdSeal},
		"flush":  {"flush", "persist sealed chunks and save the manifest", (*session).cmdFlush},
		"evict":  {"evict <chunk-id>", "drop a persisted chunk from memory", (*session).cmdEvict},
		"chunks": {"chunks", "list chunks", (*session).cmdChunks},
		"rows":   {"rows <chunk-id>", "print the rows of a chunk", (*session).cmdRows},
		"get":    {"get <chunk-id> <index>", "fetch a chunk from the store by its keys", (*session).cmdGet},
		"keys":   {"keys", "list record keys in the store", (*session).cmdKeys},
		"index":  {"index", "print the secondary index of the current bucket", (*session).cmdIndex},
		"stats":  {"stats", "print directory statistics", (*session).cmdStats},
		"dump":   {"dump", "dump every chunk", (*session).cmdDump},
		"bucket": {"bucket [timestamp]", "show or switch the current time bucket", (*session).cmdBucket},
		"help":   {"help", "list commands", (*session).cmdHelp},
		"exit":   {"exit", "leave", (*session).cmdExit},
	}
	commands["quit"] = commands["exit"]
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// exec runs one command line. It returns errQuit when the session should end.
func (s *session) exec(ctx context.Context, line string) error {
	args, err := shellquote.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd := commands[strings.ToLower(args[0])]
	if cmd == nil {
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
	return cmd.run(s, ctx, args[1:])
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (s *session) cmdAppend(ctx context.Context, args []string) error {
	cols := s.ht.Columns()
	if len(args) != len(cols) {
		return fmt.Errorf("got %d values, schema has %d columns: %v", len(args), len(cols), cols)
	}
	row := make(dynts.Row, len(cols))
	for i, col := range cols {
		it, err := dynts.ParseItem(col.Type, args[i])
		if err != nil {
			return fmt.Errorf("%s: %w", col, err)
		}
		row[i] = it
	}
	if err := s.ht.Append(s.bucket, []dynts.Row{row}); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "appended %v\n", row)
	return nil
}

func (s *session) cmdSeal(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		fmt.Fprintf(s.out, "sealed %d chunks\n", s.ht.SealAll())
	case 1:
		if !s.ht.Seal(args[0]) {
			return fmt.Errorf("no open chunk for %s", args[0])
		}
		fmt.Fprintf(s.out, "sealed %s\n", args[0])
	default:
		return fmt.Errorf("usage: %s", commands["seal"].usage)
	}
	return nil
}

func (s *session) cmdFlush(ctx context.Context, args []string) error {
	n, err := s.ht.Flush(ctx)
	if err != nil {
		return err
	}
	if err := s.ht.SaveManifest(ctx); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "flushed %d chunks\n", n)
	return nil
}

func (s *session) cmdEvict(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, commands["evict"].usage); err != nil {
		return err
	}
	return s.ht.Evict(args[0])
}

func (s *session) cmdChunks(ctx context.Context, args []string) error {
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINDEX\tROWS\tSIZE\tSTATE")
	for _, ref := range s.ht.AllChunks() {
		_, resident := s.ht.Chunk(ref.ID)
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", ref.ID, ref.Index, ref.Rows, ref.Size, chunkState(ref, resident))
	}
	return w.Flush()
}

func chunkState(ref dynts.ChunkRef, resident bool) string {
	state := "open"
	if ref.Sealed {
		state = "sealed"
	}
	if ref.Persisted {
		state += ",persisted"
	}
	if !resident {
		state += ",evicted"
	}
	return state
}

func (s *session) cmdRows(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, commands["rows"].usage); err != nil {
		return err
	}
	c, err := s.ht.Load(ctx, args[0])
	if err != nil {
		return err
	}
	return s.printRows(c)
}

func (s *session) cmdGet(ctx context.Context, args []string) error {
	if err := wantArgs(args, 2, commands["get"].usage); err != nil {
		return err
	}
	c, err := s.ht.Get(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return s.printRows(c)
}

func (s *session) printRows(c *dynts.Chunk) error {
	rows, err := c.Rows()
	if err != nil {
		return err
	}
	for i, row := range rows {
		fmt.Fprintf(s.out, "%d\t%v\n", i+1, row)
	}
	fmt.Fprintf(s.out, "(%d rows, %d bytes)\n", len(rows), c.Size())
	return nil
}

func (s *session) cmdKeys(ctx context.Context, args []string) error {
	lister, ok := s.store.(dynts.Lister)
	if !ok {
		return fmt.Errorf("store %T cannot list keys", s.store)
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintf(s.out, "%s\t%s\n", k.Primary, k.Secondary)
	}
	return nil
}

func (s *session) cmdIndex(ctx context.Context, args []string) error {
	fmt.Fprintln(s.out, dynts.SecondaryIndex(s.bucket, s.ht.Dimensions()))
	return nil
}

func (s *session) cmdStats(ctx context.Context, args []string) error {
	st := s.ht.Stats()
	fmt.Fprintf(s.out, "chunks:    %d (%d open, %d sealed, %d persisted, %d evicted)\n", st.Chunks, st.Open, st.Sealed, st.Persisted, st.Evicted())
	fmt.Fprintf(s.out, "rows:      %d\n", st.Rows)
	fmt.Fprintf(s.out, "bytes:     %d (%d resident)\n", st.Bytes, st.ResidentBytes)
	fmt.Fprintf(s.out, "fill:      %.1f%%\n", 100*st.Fill(s.ht.Limit()))
	return nil
}

func (s *session) cmdDump(ctx context.Context, args []string) error {
	fmt.Fprint(s.out, s.ht.Dump(dynts.DumpAll))
	return nil
}

func (s *session) cmdBucket(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
	case 1:
		s.bucket = args[0]
	default:
		return fmt.Errorf("usage: %s", commands["bucket"].usage)
	}
	fmt.Fprintln(s.out, s.bucket)
	return nil
}

func (s *session) cmdHelp(ctx context.Context, args []string) error {
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range commandNames() {
		if name == "quit" {
			continue
		}
		cmd := commands[name]
		fmt.Fprintf(w, "  %s\t%s\n", cmd.usage, cmd.help)
	}
	return w.Flush()
}

func (s *session) cmdExit(ctx context.Context, args []string) error {
	return errQuit
}
