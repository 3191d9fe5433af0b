package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/asjoyner/wormhole/wire"
)

// idempotentTags are requests safe to silently re-send after a
// reconnect: reads and metadata lookups. Writes and lock operations are
// not idempotent and are surfaced to the caller as ErrConnectionLost
// instead, per spec.md section 4.I.
var idempotentTags = map[wire.Tag]bool{
	wire.TagListDir:   true,
	wire.TagGetAttr:   true,
	wire.TagLookup:    true,
	wire.TagReadChunk: true,
}

// Idempotent reports whether a request of this message's tag is safe to
// transparently retry on a fresh connection.
func Idempotent(m wire.Message) bool {
	return idempotentTags[m.Tag()]
}

// Do sends req over the session's stream pool, retrying once, on the next
// stream the session's current pool hands out, if the send fails and the
// request is idempotent; it does not wait for a reconnect before that
// retry. A
// non-idempotent request whose send fails is surfaced as
// ErrConnectionLost without retrying, since the host may or may not have
// already applied it.
//
// A reply of type *wire.ErrorMessage is converted to its *wire.ProtoError
// and returned as the error, rather than handed back as a successful
// wire.Message the caller has to type-assert away from the response it
// actually asked for. Only a connection-level failure triggers the
// idempotent retry; an application-level error (e.g. ENOENT) is not a
// reason to reconnect.
func (s *Session) Do(ctx context.Context, req wire.Message) (wire.Message, error) {
	attempt := func() (wire.Message, error) {
		pool := s.Pool()
		if pool == nil || s.State() == StateClosed {
			return nil, ErrConnectionLost
		}
		stream := pool.Acquire()
		resp, err := stream.SendRequest(wire.Frame{Message: req})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if em, ok := resp.Message.(*wire.ErrorMessage); ok {
			return nil, em.AsError()
		}
		return resp.Message, nil
	}

	resp, err := attempt()
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, ErrConnectionLost) || !Idempotent(req) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return attempt()
}
