package cluster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cosmez/rediskit/resp"
)

var (
	// ErrNoKey is returned for commands the router cannot place on a slot.
	ErrNoKey = errors.New("no key to route the command by")
	// ErrCrossSlot is returned when a multi-key command spans slots.
	ErrCrossSlot = errors.New("keys in request don't hash to the same slot")
)

// multiKey lists commands whose keys all have to share a slot, as (first key
// index, step) over the wire arguments. Other commands route by their first
// argument.
var multiKey = map[string][2]int{
	"MGET":        {1, 1},
	"DEL":         {1, 1},
	"UNLINK":      {1, 1},
	"EXISTS":      {1, 1},
	"TOUCH":       {1, 1},
	"WATCH":       {1, 1},
	"SDIFF":       {1, 1},
	"SINTER":      {1, 1},
	"SUNION":      {1, 1},
	"PFCOUNT":     {1, 1},
	"PFMERGE":     {1, 1},
	"RENAME":      {1, 1},
	"RENAMENX":    {1, 1},
	"RPOPLPUSH":   {1, 1},
	"SDIFFSTORE":  {1, 1},
	"SINTERSTORE": {1, 1},
	"SUNIONSTORE": {1, 1},
	"MSET":        {1, 2},
	"MSETNX":      {1, 2},
}

// CommandSlot returns the slot a command must run on.
func CommandSlot(enc *resp.Encoder, cmd resp.Command) (int, error) {
	name := cmd.Upper()
	first, _, _ := strings.Cut(name, " ")

	if cmd.Len() <= 1 {
		return 0, fmt.Errorf("%s: %w", name, ErrNoKey)
	}

	switch first {
	case "EVAL", "EVALSHA":
		nv, _ := cmd.Arg(2)
		n, err := argInt(enc, nv)
		if err != nil || n < 1 || 3+n > cmd.Len() {
			return 0, fmt.Errorf("%s: %w", name, ErrNoKey)
		}
		return keysSlot(enc, cmd, 3, 3+n, 1)
	case "XREAD", "XREADGROUP":
		for i := 1; i < cmd.Len(); i++ {
			a, _ := cmd.Arg(i)
			if s, err := enc.Arg(a); err == nil && strings.EqualFold(string(s), "STREAMS") {
				return keySlot(enc, cmd, i+1)
			}
		}
		return 0, fmt.Errorf("%s arguments do not contain STREAMS operand", name)
	case "XGROUP", "XINFO":
		return keySlot(enc, cmd, 2)
	}

	if mk, ok := multiKey[first]; ok {
		return keysSlot(enc, cmd, mk[0], cmd.Len(), mk[1])
	}
	return keySlot(enc, cmd, 1)
}

func keySlot(enc *resp.Encoder, cmd resp.Command, i int) (int, error) {
	a, ok := cmd.Arg(i)
	if !ok {
		return 0, fmt.Errorf("%s: %w", cmd.Upper(), ErrNoKey)
	}
	b, err := enc.Arg(a)
	if err != nil {
		return 0, err
	}
	return Slot(b), nil
}

func keysSlot(enc *resp.Encoder, cmd resp.Command, from, to, step int) (int, error) {
	slot := -1
	for i := from; i < to; i += step {
		s, err := keySlot(enc, cmd, i)
		if err != nil {
			return 0, err
		}
		if slot >= 0 && s != slot {
			return 0, fmt.Errorf("%s: %w", cmd.Upper(), ErrCrossSlot)
		}
		slot = s
	}
	if slot < 0 {
		return 0, fmt.Errorf("%s: %w", cmd.Upper(), ErrNoKey)
	}
	return slot, nil
}

func argInt(enc *resp.Encoder, v any) (int, error) {
	b, err := enc.Arg(v)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}
