package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/cosmez/rediskit/client"
	"github.com/cosmez/rediskit/internal/command"
	"github.com/cosmez/rediskit/internal/output"
	"github.com/cosmez/rediskit/internal/pool"
	"github.com/cosmez/rediskit/internal/serializer"
	"github.com/cosmez/rediskit/resp"
)

// errExit ends the REPL.
var errExit = errors.New("exit")

const pageSize = 100

// session is one REPL or one-shot run against a backend.
type session struct {
	b     backend
	reg   *command.Registry
	set   settings
	enc   *resp.Encoder
	log   *zap.Logger
	out   io.Writer
	in    io.Reader
	color bool

	dial      func(ctx context.Context, s settings) (backend, error)
	onConnect func(s settings) // e.g. update the prompt
}

func (s *session) printOpts(modifier string) (output.PrintOpts, error) {
	opts := output.PrintOpts{Color: s.color, Encoder: s.enc, Newline: true}
	if modifier != "" {
		ser, err := serializer.Get(modifier)
		if err != nil {
			return opts, err
		}
		opts.Serializer = ser
	}
	return opts, nil
}

func (s *session) warn(format string, args ...any) {
	s.paint(color.FgYellow, format, args...)
}

func (s *session) fail(err error) {
	output.PrintError(s.out, err, s.color)
}

func (s *session) paint(attr color.Attribute, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.color {
		color.New(attr).Fprintln(s.out, msg)
		return
	}
	fmt.Fprintln(s.out, msg)
}

// handle runs one parsed line. It returns errExit for EXIT; other failures
// are printed and only returned so one-shot mode can set the exit code.
func (s *session) handle(ctx context.Context, parsed *command.ParsedCommand) error {
	var err error
	switch parsed.Name {
	case "EXIT":
		return errExit
	case "CLEAR":
		fmt.Fprint(s.out, "\033[2J\033[H")
	case "HELP":
		s.help(parsed)
	case "CONNECT":
		err = s.connect(ctx, parsed)
	case "SAFEKEYS":
		err = s.safeKeys(ctx, parsed)
	case "VIEW":
		err = s.view(ctx, parsed)
	case "EXPORT":
		err = s.export(ctx, parsed)
	case "STATS":
		s.stats()
	default:
		err = s.standard(ctx, parsed)
	}
	if err != nil && !errors.Is(err, output.ErrStopped) {
		s.fail(err)
		return err
	}
	return nil
}

func (s *session) help(parsed *command.ParsedCommand) {
	if len(parsed.Args) == 0 {
		groups := s.reg.Groups()
		for _, g := range slices.Sorted(maps.Keys(groups)) {
			if g == "" {
				continue
			}
			s.paint(color.FgCyan, "%s:", g)
			names := make([]string, len(groups[g]))
			for i, doc := range groups[g] {
				names[i] = doc.Command
			}
			fmt.Fprintf(s.out, "  %s\n", strings.Join(names, ", "))
		}
		s.warn("Usage: HELP <command>")
		return
	}
	name := strings.ToUpper(strings.Join(parsed.Args, " "))
	doc := s.reg.Get(name)
	if doc == nil {
		doc = s.reg.Get(strings.ToUpper(parsed.Args[0]))
	}
	if doc == nil {
		s.paint(color.FgRed, "Unknown command: %s", name)
		return
	}
	s.paint(color.FgCyan, "%s %s", doc.Command, doc.Arguments)
	if doc.Summary != "" {
		fmt.Fprintln(s.out, doc.Summary)
	}
	if doc.Since != "" {
		s.paint(color.FgBlue, "Since: %s", doc.Since)
	}
}

func (s *session) connect(ctx context.Context, parsed *command.ParsedCommand) error {
	if len(parsed.Args) == 0 {
		s.warn("Usage: CONNECT <url> | <host> [port]")
		return nil
	}
	next := s.set
	next.URL, next.Options = "", ""
	switch target := parsed.Args[0]; {
	case strings.Contains(target, "://"):
		next.URL = target
	default:
		next.Host = target
		next.Nodes = nil
		if len(parsed.Args) > 1 {
			port, err := parsePort(parsed.Args[1])
			if err != nil {
				return err
			}
			next.Port = port
		}
		if next.clusterMode() {
			next.Nodes = []string{next.addr()}
		}
	}

	b, err := s.dial(ctx, next)
	if err != nil {
		return err
	}
	if err := s.b.Close(); err != nil {
		s.log.Debug("closing previous connection failed", zap.Error(err))
	}
	s.b, s.set = b, next
	s.mergeServerCommands(ctx)
	if s.onConnect != nil {
		s.onConnect(next)
	}
	s.printConnectionInfo(ctx)
	return nil
}

func (s *session) safeKeys(ctx context.Context, parsed *command.ParsedCommand) error {
	pattern := "*"
	if len(parsed.Args) > 0 {
		pattern = parsed.Args[0]
	}
	opts, err := s.printOpts("")
	if err != nil {
		return err
	}
	return output.PrintReplies(s.out, s.in, s.b.Scan(ctx, pattern), opts, pageSize)
}

func (s *session) view(ctx context.Context, parsed *command.ParsedCommand) error {
	if len(parsed.Args) == 0 {
		s.warn("Usage: VIEW <key>")
		return nil
	}
	opts, err := s.printOpts(parsed.Modifier)
	if err != nil {
		return err
	}
	kv, err := s.b.KeyValue(ctx, parsed.Args[0])
	if errors.Is(err, client.ErrNoSuchKey) {
		s.warn("Key not found")
		return nil
	}
	if err != nil {
		return err
	}
	if kv.Items == nil {
		output.PrintReply(s.out, kv.Value, opts)
		return nil
	}
	opts.TypeHint = kv.Type
	return output.PrintReplies(s.out, s.in, kv.Items, opts, pageSize)
}

func (s *session) export(ctx context.Context, parsed *command.ParsedCommand) error {
	if len(parsed.Args) < 2 {
		s.warn("Usage: EXPORT <filename> <command> [args...]")
		return nil
	}
	filename := parsed.Args[0]
	sub, err := command.Parse(strings.Join(quoteAll(parsed.Args[1:]), " "), s.reg)
	if err != nil {
		return err
	}
	opts, err := s.printOpts(parsed.Modifier)
	if err != nil {
		return err
	}

	if sub.Name == "VIEW" {
		if len(sub.Args) == 0 {
			s.warn("Usage: EXPORT <filename> VIEW <key>")
			return nil
		}
		kv, err := s.b.KeyValue(ctx, sub.Args[0])
		if errors.Is(err, client.ErrNoSuchKey) {
			s.warn("Key not found")
			return nil
		}
		if err != nil {
			return err
		}
		err = output.Export(filename, kv.Value, kv.Items, kv.Type, opts)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
	} else {
		reply, err := s.b.Do(ctx, sub.Command)
		if err != nil {
			return err
		}
		if err := output.Export(filename, reply, nil, "", opts); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
	}
	s.paint(color.FgGreen, "Exported to %s", filename)
	return nil
}

func (s *session) stats() {
	show := func(label string, st pool.Stats) {
		fmt.Fprintf(s.out, "%s: %d in use, %d idle, %d total\n", label, st.InUse, st.Idle, st.Total)
	}
	switch b := s.b.(type) {
	case *client.Client:
		show(b.String(), b.Stats())
	case *client.ClusterClient:
		stats := b.Stats()
		for _, addr := range slices.Sorted(maps.Keys(stats)) {
			show(addr, stats[addr])
		}
	default:
		s.warn("No pool statistics for %s", s.b)
	}
}

func (s *session) standard(ctx context.Context, parsed *command.ParsedCommand) error {
	if s.reg.IsDangerous(parsed.Command.Upper()) {
		q := fmt.Sprintf("The command %s is considered dangerous to execute, execute anyway? ", parsed.Command.Upper())
		if parsed.Name == "KEYS" {
			s.paint(color.FgCyan, "Hint: You can execute SAFEKEYS or SCAN instead.")
		}
		if !output.Confirm(s.out, s.in, q, s.color) {
			s.warn("Aborted.")
			return nil
		}
	}

	opts, err := s.printOpts(parsed.Modifier)
	if err != nil {
		return err
	}
	reply, err := s.b.Do(ctx, parsed.Command)
	if err != nil {
		return err
	}
	if parsed.Pipe != "" {
		return output.Pipe(s.out, reply, parsed.Pipe, opts)
	}
	output.PrintReply(s.out, reply, opts)
	return nil
}

// printConnectionInfo prints a short summary from INFO. On a cluster the
// first node in address order speaks for the others.
func (s *session) printConnectionInfo(ctx context.Context) {
	v, err := s.b.Info(ctx, "")
	if err != nil {
		s.warn("Warning: Could not fetch server info: %v", err)
		return
	}
	var (
		info  map[string]string
		nodes int
	)
	switch v := v.(type) {
	case map[string]string:
		info = v
	case map[string]any:
		nodes = len(v)
		for _, addr := range slices.Sorted(maps.Keys(v)) {
			if m, ok := v[addr].(map[string]string); ok {
				info = m
				break
			}
		}
	}
	if info == nil {
		return
	}

	mode := info["redis_mode"]
	if mode == "" {
		mode = "standalone"
	}
	s.paint(color.FgGreen, "Connected to Redis %s %s", info["redis_version"], mode)
	if nodes > 0 {
		s.paint(color.FgCyan, "Nodes: %d", nodes)
	}
	memTotal := info["total_system_memory_human"]
	if memTotal == "" {
		memTotal = "Unknown"
	}
	s.paint(color.FgCyan, "Memory: %s / %s", info["used_memory_human"], memTotal)
	s.paint(color.FgCyan, "Connected Clients: %s", info["connected_clients"])
	for _, k := range slices.Sorted(maps.Keys(info)) {
		// db0:keys=150,expires=0,avg_ttl=0
		if !strings.HasPrefix(k, "db") {
			continue
		}
		first, _, _ := strings.Cut(info[k], ",")
		if _, keys, ok := strings.Cut(first, "="); ok {
			s.paint(color.FgCyan, "%s (%s Total Keys)", k, keys)
		}
	}
	fmt.Fprintln(s.out)
}

// mergeServerCommands adds the server's COMMAND list to completion.
// Failures only cost completion entries.
func (s *session) mergeServerCommands(ctx context.Context) {
	cmds, err := s.b.CommandList(ctx)
	if err != nil {
		s.log.Debug("COMMAND failed", zap.Error(err))
		s.warn("Warning: Could not fetch server commands: %v", err)
		return
	}
	s.reg.MergeServerCommands(cmds)
}

// quoteAll re-quotes words so that re-parsing them keeps spaces.
func quoteAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		if w == "" || strings.ContainsAny(w, " \t\"'\\") {
			w = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(w) + `"`
		}
		out[i] = w
	}
	return out
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}
