package command

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cosmez/rediskit/client"
)

//go:embed commands.json
var commandsJSON []byte

// appCommands are handled by the REPL itself and never reach the server.
var appCommands = []CommandDoc{
	{Command: "EXIT", Summary: "Exit the application", Group: "application"},
	{Command: "CONNECT", Summary: "Connect to a server or cluster", Arguments: "url | host [port]", Group: "application"},
	{Command: "HELP", Summary: "Show help for a command", Arguments: "[command]", Group: "application"},
	{Command: "CLEAR", Summary: "Clear the screen", Group: "application"},
	{Command: "SAFEKEYS", Summary: "Iterate over keys with SCAN instead of KEYS", Arguments: "[pattern]", Group: "application"},
	{Command: "VIEW", Summary: "Show the contents of a key whatever its type", Arguments: "key", Group: "application"},
	{Command: "EXPORT", Summary: "Write the result of a command to a file", Arguments: "file command [args...]", Group: "application"},
	{Command: "STATS", Summary: "Show connection pool usage", Group: "application"},
}

var dangerous = []string{
	"FLUSHDB", "FLUSHALL", "KEYS", "PEXPIRE", "DEL", "CONFIG", "SHUTDOWN",
	"BGREWRITEAOF", "BGSAVE", "SAVE", "SPOP", "SREM", "RENAME", "DEBUG",
}

// Registry holds the help entries for known commands.
type Registry struct {
	docs      []CommandDoc
	index     map[string]int
	dangerous map[string]bool
}

// NewRegistry loads the built-in command docs.
func NewRegistry() (*Registry, error) {
	var docs []CommandDoc
	if err := json.Unmarshal(commandsJSON, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse embedded commands JSON: %w", err)
	}
	docs = append(docs, appCommands...)

	r := &Registry{
		docs:      docs,
		index:     make(map[string]int, len(docs)),
		dangerous: make(map[string]bool, len(dangerous)),
	}
	for i, doc := range docs {
		r.index[doc.Command] = i
	}
	for _, name := range dangerous {
		r.dangerous[name] = true
	}
	return r, nil
}

// Get returns the entry for cmd, or nil. Compound names like "CLIENT INFO"
// are looked up as a whole.
func (r *Registry) Get(cmd string) *CommandDoc {
	if i, ok := r.index[strings.ToUpper(cmd)]; ok {
		return &r.docs[i]
	}
	return nil
}

// GetCommands returns the names starting with prefix, for tab completion.
func (r *Registry) GetCommands(prefix string) []string {
	prefix = strings.ToUpper(prefix)
	var matches []string
	for _, doc := range r.docs {
		if strings.HasPrefix(doc.Command, prefix) {
			matches = append(matches, doc.Command)
		}
	}
	return matches
}

// Search returns the entries whose names start with prefix.
func (r *Registry) Search(prefix string) []CommandDoc {
	prefix = strings.ToUpper(prefix)
	var matches []CommandDoc
	for _, doc := range r.docs {
		if strings.HasPrefix(doc.Command, prefix) {
			matches = append(matches, doc)
		}
	}
	return matches
}

// Groups returns the entries keyed by group, each sorted by name.
func (r *Registry) Groups() map[string][]CommandDoc {
	out := make(map[string][]CommandDoc)
	for _, doc := range r.docs {
		out[doc.Group] = append(out[doc.Group], doc)
	}
	for _, docs := range out {
		sort.Slice(docs, func(i, j int) bool { return docs[i].Command < docs[j].Command })
	}
	return out
}

// IsDangerous reports whether cmd asks for confirmation before running.
// For compound names the first word decides.
func (r *Registry) IsDangerous(cmd string) bool {
	cmd = strings.ToUpper(strings.TrimSpace(cmd))
	if r.dangerous[cmd] {
		return true
	}
	if first, _, ok := strings.Cut(cmd, " "); ok {
		return r.dangerous[first]
	}
	return false
}

// MergeServerCommands adds the commands reported by COMMAND that have no
// built-in entry, so they show up in completion. Existing docs win.
func (r *Registry) MergeServerCommands(cmds []client.CommandInfo) {
	for _, c := range cmds {
		r.mergeOne(c)
		for _, sub := range c.Subcommands {
			r.mergeOne(sub)
		}
	}
}

func (r *Registry) mergeOne(c client.CommandInfo) {
	if _, ok := r.index[c.Name]; ok {
		return
	}
	r.index[c.Name] = len(r.docs)
	r.docs = append(r.docs, CommandDoc{
		Command:   c.Name,
		Arguments: arityHint(c.Arity),
		Group:     primaryACLGroup(c.ACLCats),
	})
}

// arityHint turns a COMMAND arity into placeholder arguments. Arity counts
// the command name; a negative value is a minimum.
func arityHint(arity int64) string {
	n := arity
	variadic := n < 0
	if variadic {
		n = -n
	}
	n--
	parts := make([]string, 0, n+1)
	for i := int64(1); i <= n; i++ {
		parts = append(parts, fmt.Sprintf("arg%d", i))
	}
	if variadic {
		parts = append(parts, "[arg ...]")
	}
	return strings.Join(parts, " ")
}

var metaCategories = map[string]bool{
	"@read": true, "@write": true, "@fast": true, "@slow": true,
	"@admin": true, "@dangerous": true, "@keyspace": true,
}

// primaryACLGroup picks a readable group from ACL categories, preferring
// data type categories over the meta ones.
func primaryACLGroup(cats []string) string {
	for _, cat := range cats {
		if strings.HasPrefix(cat, "@") && !metaCategories[cat] {
			return cat[1:]
		}
	}
	for _, cat := range cats {
		if cat == "@admin" {
			return "admin"
		}
	}
	return ""
}
