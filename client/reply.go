package client

import (
	"github.com/cosmez/rediskit/resp"
)

// shaper converts replies into the values Execute returns.
//
//	status  -> string
//	integer -> int64
//	bulk    -> []byte, or string with DecodeResponses
//	array   -> []any
//	nil     -> nil
//
// Error replies nested in arrays become *ServerError values.
type shaper struct {
	enc    *resp.Encoder
	decode bool
}

// apply returns a top-level error reply as a *ServerError error and runs cb
// on anything else.
func (s shaper) apply(cb Callback, r resp.Reply) (any, error) {
	if e, ok := r.(resp.Error); ok {
		return nil, e.Err()
	}
	if cb != nil {
		return cb(r)
	}
	return s.value(r)
}

func (s shaper) value(r resp.Reply) (any, error) {
	switch v := r.(type) {
	case resp.Status:
		return v.Value, nil
	case resp.Integer:
		return v.Value, nil
	case resp.Bulk:
		if s.decode {
			return s.enc.Decode(v.Value)
		}
		return v.Value, nil
	case resp.Array:
		out := make([]any, len(v.Values))
		for i, elem := range v.Values {
			if e, ok := elem.(resp.Error); ok {
				out[i] = e.Err()
				continue
			}
			x, err := s.value(elem)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case resp.Error:
		return v.Err(), nil
	}
	return nil, nil
}
