package simulator

import (
	"fmt"
	"net"

	"github.com/bjmb/simulacron/internal/topology"
)

// BadArgument covers every caller-supplied-a-nonsensical-argument failure:
// node-has-parent on standalone register, cluster-not-found on unregister,
// connection-not-found on close_connection.
type BadArgument struct {
	Message string
}

func (e *BadArgument) Error() string { return "simulator: bad argument: " + e.Message }

// BindFailed reports that the OS rejected a bind, or the address was
// already taken.
type BindFailed struct {
	Node    *topology.Node
	Address net.Addr
	Cause   error
}

func (e *BindFailed) Error() string {
	return fmt.Sprintf("simulator: bind failed for node %q at %v: %v", e.Node.Name(), e.Address, e.Cause)
}

func (e *BindFailed) Unwrap() error { return e.Cause }

// BindTimeout reports that the overall register budget elapsed with at
// least one bind still pending.
type BindTimeout struct {
	Elapsed string
}

func (e *BindTimeout) Error() string {
	return "simulator: register timed out after " + e.Elapsed
}
