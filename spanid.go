package framedtls

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// Every [*Client] is a span: it is created by [Dial] and lives until it
// disconnects. Its ID is attached to all the events the client logs, so a
// log consumer can tell apart concurrent connections to the same server.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
