package resp

import (
	"strings"
)

// Command is an operation name plus its arguments. The name may hold several
// words ("CONFIG GET"); they are sent as separate arguments.
//
// Arguments keep their Go types until packing so the connection's text
// encoding applies to strings. A Command is not modified after creation.
type Command struct {
	Name string
	Args []any
}

// NewCommand builds a command. The argument slice is copied.
func NewCommand(name string, args ...any) Command {
	return Command{Name: name, Args: append([]any(nil), args...)}
}

// Words returns the operation name split on whitespace.
func (c Command) Words() []string {
	return strings.Fields(c.Name)
}

// Upper returns the normalized operation name used for callback lookup,
// e.g. "config  get" -> "CONFIG GET".
func (c Command) Upper() string {
	return strings.ToUpper(strings.Join(c.Words(), " "))
}

// Len is the number of wire arguments, counting each name word.
func (c Command) Len() int {
	return len(c.Words()) + len(c.Args)
}

// Arg returns the i-th wire argument: name words first, then Args.
func (c Command) Arg(i int) (any, bool) {
	words := c.Words()
	if i < len(words) {
		return words[i], true
	}
	i -= len(words)
	if i < 0 || i >= len(c.Args) {
		return nil, false
	}
	return c.Args[i], true
}

func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, a := range c.Args {
		b.WriteByte(' ')
		if s, err := defaultEncoder.Arg(a); err == nil {
			b.Write(s)
		} else {
			b.WriteString("?")
		}
	}
	return b.String()
}
