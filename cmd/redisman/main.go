// Command redisman is an interactive client for RESP servers and clusters.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cosmez/rediskit/internal/command"
	"github.com/cosmez/rediskit/internal/logging"
	"github.com/cosmez/rediskit/resp"
)

var version = "dev" // set at build time via -ldflags "-X main.version=..."

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "redisman",
		Short:         "A cross-platform client for RESP servers and clusters",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			err = run(cmd.Context(), loadSettings(v), cmd.OutOrStdout(), cmd.InOrStdin())
			if err != nil && !errors.Is(err, errReported) {
				fmt.Fprintln(os.Stderr, err)
			}
			return err
		},
	}
	bindFlags(root.Flags())
	return root
}

// errReported marks a failure already printed by the session.
var errReported = errors.New("command failed")

func run(ctx context.Context, set settings, out io.Writer, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := logging.New(logging.Options{Level: set.LogLevel, File: set.LogFile})
	if err != nil {
		return err
	}
	defer log.Sync()

	reg, err := command.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to load commands: %w", err)
	}
	enc, err := resp.NewEncoder(set.Encoding)
	if err != nil {
		return err
	}

	oneShot := set.Command != ""
	if set.NoColor || oneShot {
		color.NoColor = true
	}

	dialer := func(ctx context.Context, s settings) (backend, error) {
		return dial(ctx, s, log)
	}
	b, err := dialer(ctx, set)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	log.Info("connected", zap.Stringer("backend", b), zap.Bool("cluster", set.clusterMode()))

	s := &session{
		b:     b,
		reg:   reg,
		set:   set,
		enc:   enc,
		log:   log,
		out:   out,
		in:    in,
		color: !color.NoColor,
		dial:  dialer,
	}
	defer func() { s.b.Close() }()

	if oneShot {
		return runOneShot(ctx, s, set.Command)
	}
	return runRepl(s)
}

func runOneShot(ctx context.Context, s *session, line string) error {
	parsed, err := command.Parse(line, s.reg)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if parsed.Empty() {
		return nil
	}
	if err := s.handle(ctx, parsed); err != nil && !errors.Is(err, errExit) {
		return errReported
	}
	return nil
}
