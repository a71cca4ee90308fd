package command

import (
	"fmt"
	"strings"

	"github.com/cosmez/rediskit/internal/serializer"
	"github.com/cosmez/rediskit/resp"
)

// containers are commands whose first argument is always a subcommand.
var containers = map[string]bool{
	"ACL": true, "CLIENT": true, "CLUSTER": true, "COMMAND": true,
	"CONFIG": true, "DEBUG": true, "FUNCTION": true, "MEMORY": true,
	"MODULE": true, "OBJECT": true, "SCRIPT": true, "SENTINEL": true,
	"SLOWLOG": true, "XGROUP": true, "XINFO": true,
}

// Parse splits a line of input into a command ready to execute. The line
// may end with "#:codec" to serialize the SET value, and with " | cmd" to
// pipe the output through a shell command.
func Parse(input string, reg *Registry) (*ParsedCommand, error) {
	parsed := &ParsedCommand{Text: input}
	if strings.TrimSpace(input) == "" {
		return parsed, nil
	}

	// The pipe goes first so "GET k #:gzip | jq ." keeps "jq ." out of the codec.
	if i := strings.Index(input, " | "); i != -1 {
		parsed.Pipe = strings.TrimSpace(input[i+3:])
		input = input[:i]
	}
	if i := strings.LastIndex(input, "#:"); i != -1 {
		parsed.Modifier = strings.TrimSpace(input[i+2:])
		input = input[:i]
	}

	tokens := tokenize(input)
	if len(tokens) == 0 {
		return parsed, nil
	}
	parsed.Name = strings.ToUpper(tokens[0])
	parsed.Args = tokens[1:]

	name, rest := parsed.Name, parsed.Args
	if reg != nil {
		parsed.Doc = reg.Get(name)
	}
	if len(rest) > 0 {
		compound := name + " " + strings.ToUpper(rest[0])
		var doc *CommandDoc
		if reg != nil {
			doc = reg.Get(compound)
		}
		if doc != nil || containers[name] {
			name, rest = compound, rest[1:]
			if doc != nil {
				parsed.Doc = doc
			}
		}
	}

	args := make([]any, len(rest))
	for i, a := range rest {
		args[i] = a
	}
	if parsed.Name == "SET" && parsed.Modifier != "" && len(args) > 1 {
		codec, err := serializer.Get(parsed.Modifier)
		if err != nil {
			return nil, err
		}
		value, err := codec.Serialize([]byte(rest[1]))
		if err != nil {
			return nil, fmt.Errorf("failed to serialize value with %s: %w", parsed.Modifier, err)
		}
		args[1] = value
	}
	parsed.Command = resp.Command{Name: name, Args: args}
	return parsed, nil
}
