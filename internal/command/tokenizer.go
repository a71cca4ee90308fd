package command

import (
	"strconv"
	"strings"
	"unicode"
)

// tokenize splits a line into words the way redis-cli does: double quotes
// allow escapes (\n, \t, \xHH, \"), single quotes are literal except for \'.
// A quoted empty string yields an empty word.
func tokenize(input string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		quote   rune
		started bool
	)
	runes := []rune(input)

	flush := func() {
		if started {
			tokens = append(tokens, cur.String())
			cur.Reset()
			started = false
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == 0 && unicode.IsSpace(r):
			flush()
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			started = true
		case quote == 0 && r == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			started = true
		case quote == '\'' && r == '\\' && i+1 < len(runes) && runes[i+1] == '\'':
			i++
			cur.WriteRune('\'')
		case quote == '"' && r == '\\' && i+1 < len(runes):
			i += unescape(runes[i+1:], &cur)
		case quote != 0 && r == quote:
			quote = 0
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	// an unclosed quote keeps what was read
	flush()
	return tokens
}

// unescape writes the escape at the start of rest and returns how many
// runes it consumed.
func unescape(rest []rune, b *strings.Builder) int {
	switch rest[0] {
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'b':
		b.WriteByte('\b')
	case 'a':
		b.WriteByte('\a')
	case 'x':
		if len(rest) >= 3 {
			if v, err := strconv.ParseUint(string(rest[1:3]), 16, 8); err == nil {
				b.WriteByte(byte(v))
				return 3
			}
		}
		b.WriteRune('x')
	default:
		b.WriteRune(rest[0])
	}
	return 1
}
