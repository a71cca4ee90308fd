package command

import "github.com/cosmez/rediskit/resp"

// ParsedCommand is one line of REPL input split into its parts.
type ParsedCommand struct {
	Text     string       // original input text
	Name     string       // first word, uppercased; empty for blank input
	Args     []string     // remaining words as typed
	Command  resp.Command // what gets sent; compound names are folded in ("CONFIG GET")
	Modifier string       // codec after "#:", e.g. "gzip"
	Pipe     string       // shell command after " | "
	Doc      *CommandDoc  // nil when the registry has no entry
}

// Empty reports whether the input held no command.
func (p *ParsedCommand) Empty() bool {
	return p.Name == ""
}

// CommandDoc is the help entry for one command.
type CommandDoc struct {
	Command   string `json:"command"`
	Summary   string `json:"summary"`
	Arguments string `json:"arguments"`
	Since     string `json:"since"`
	Group     string `json:"group"`
}
