package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/cosmez/rediskit/internal/command"
)

// completer completes the command word, and the subcommand word for
// compound commands such as "CLIENT INFO".
type completer struct {
	reg *command.Registry
}

func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	words := strings.Fields(text)
	if strings.HasSuffix(text, " ") {
		words = append(words, "")
	}
	if len(words) == 0 || len(words) > 2 {
		return nil, 0
	}

	prefix := strings.Join(words, " ")
	last := words[len(words)-1]
	var (
		out  [][]rune
		seen = make(map[string]bool)
	)
	for _, name := range c.reg.GetCommands(prefix) {
		rest := name[len(prefix):]
		// "CLIENT INFO" completes "CL" to "CLIENT" only
		if len(words) == 1 {
			rest, _, _ = strings.Cut(rest, " ")
		}
		if seen[rest] {
			continue
		}
		seen[rest] = true
		out = append(out, []rune(rest+" "))
	}
	return out, len([]rune(last))
}

// hinter shows the syntax of the command being typed on the line below the
// input. Paint clears the previous hint; OnChange draws the new one after
// readline has redrawn the line, saving and restoring the cursor around it.
type hinter struct {
	reg       *command.Registry
	promptLen int
	termWidth int
}

func (h *hinter) Paint(line []rune, _ int) []rune {
	out := make([]rune, 0, len(line)+3)
	out = append(out, line...)
	return append(out, []rune("\033[J")...)
}

func (h *hinter) OnChange(line []rune, pos int, _ rune) ([]rune, int, bool) {
	if len(line) == 0 {
		return nil, 0, false
	}
	text := string(line)
	word, rest, hasRest := strings.Cut(text, " ")

	// uppercase a known command word, e.g. after completing "hgetaLL"
	if upper := strings.ToUpper(word); word != upper && h.reg.Get(upper) != nil {
		return []rune(upper + text[len(word):]), pos, true
	}
	if !hasRest || word == "" {
		return nil, 0, false
	}

	doc := h.find(word, rest)
	if doc == nil {
		return nil, 0, false
	}
	hint := doc.Command + " " + doc.Arguments
	rows := 1
	if width := 2 + len(hint) + 3 + len(doc.Summary); h.termWidth > 0 {
		rows = (width + h.termWidth - 1) / h.termWidth
	}
	fmt.Fprintf(os.Stdout, "\n\r\033[K  \033[36m%s\033[0m\033[34m - %s\033[0m\033[%dA\r\033[%dC",
		hint, doc.Summary, rows, h.promptLen+pos)
	return nil, 0, false
}

func (h *hinter) find(word, rest string) *command.CommandDoc {
	base := strings.ToUpper(word)
	if sub, _, _ := strings.Cut(strings.TrimSpace(rest), " "); sub != "" {
		if doc := h.reg.Get(base + " " + strings.ToUpper(sub)); doc != nil {
			return doc
		}
	}
	return h.reg.Get(base)
}

func promptFor(s settings) string {
	if s.clusterMode() {
		return fmt.Sprintf("%s[cluster]> ", s.addr())
	}
	return s.addr() + "> "
}

func runRepl(s *session) error {
	ctx := context.Background()
	s.mergeServerCommands(ctx)
	s.printConnectionInfo(ctx)

	home, _ := os.UserHomeDir()
	prompt := promptFor(s.set)
	width, _, _ := term.GetSize(int(os.Stdout.Fd()))
	h := &hinter{reg: s.reg, promptLen: len(prompt), termWidth: width}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(home, ".redisman_history"),
		AutoComplete:    &completer{reg: s.reg},
		Painter:         h,
		Listener:        h,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	s.onConnect = func(next settings) {
		p := promptFor(next)
		h.promptLen = len(p)
		rl.SetPrompt(p)
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}

		parsed, err := command.Parse(line, s.reg)
		if err != nil {
			s.fail(err)
			continue
		}
		if parsed.Empty() {
			continue
		}

		// Ctrl+C cancels the running command instead of the process.
		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err = s.handle(cmdCtx, parsed)
		stop()
		if errors.Is(err, errExit) {
			return nil
		}

		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			h.termWidth = w
		}
	}
}
