package proc

import (
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// XDR returns a Func that marshals v through github.com/rasky/go-xdr's
// reflection-based codec. v must be a pointer to a struct whose exported
// fields are all XDR-representable (the same constraint go-xdr itself
// imposes). One XDR() value can be shared across every RPC registration
// that wants the default codec; the reflection walk is keyed off v's
// concrete type at call time, not at construction time.
//
// Per the framing engine's contract (pkg/engine), XDR-encoded payloads
// cannot spill: go-xdr's Marshal writes directly into the io.Writer it is
// given with no notion of "this overflowed, please grow." The eager-only
// constraint is enforced by constructing the Cursor with allowSpill=false
// when the build's XDR mode toggle (pkg/config) is active; the FREE pass
// (ModeFree) does not need special handling because XDR never allocates on the heap beyond
// what Unmarshal sets directly on v.
func XDR() Func {
	return func(c *Cursor, v any) error {
		switch c.Mode() {
		case ModeEncode:
			_, err := xdr.Marshal(c, v)
			if err != nil {
				return fmt.Errorf("xdr encode: %w", err)
			}
			return nil
		case ModeDecode:
			_, err := xdr.Unmarshal(c, v)
			if err != nil {
				return fmt.Errorf("xdr decode: %w", err)
			}
			return nil
		case ModeFree:
			return nil
		default:
			return fmt.Errorf("xdr: unknown mode %v", c.Mode())
		}
	}
}
