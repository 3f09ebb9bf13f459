// Package addressing implements a pluggable source of listen addresses
// with Next/Release, whose only contract is that two distinct unreleased
// addresses never collide.
package addressing

import (
	"fmt"
	"net"
	"sync"

	sockaddr "github.com/hashicorp/go-sockaddr"
)

// Resolver allocates and recycles listen addresses for nodes that don't
// already have one.
type Resolver interface {
	// Next returns an address not currently held by any other caller.
	Next() (net.Addr, error)
	// Release returns an address to the pool so it may be reused.
	Release(addr net.Addr)
}

// LoopbackResolver is the default Resolver: it walks a loopback CIDR
// (127.0.0.0/8 by default) a fixed number of ports at a time per host
// address, parsed and stepped through with hashicorp/go-sockaddr so the
// range can be widened past a single address's 64k ports without the caller
// having to think about IP arithmetic. Released addresses are handed back
// out before any fresh one is minted.
type LoopbackResolver struct {
	mu           sync.Mutex
	base         sockaddr.IPv4Addr
	basePort     int
	portsPerHost int
	inUse        map[string]struct{}
	released     []*net.TCPAddr
	next         int
}

// NewLoopbackResolver builds a resolver over `cidr` (e.g. "127.0.0.1/8"),
// starting at basePort and allocating portsPerHost distinct ports before
// moving on to the next host address in the range.
func NewLoopbackResolver(cidr string, basePort, portsPerHost int) (*LoopbackResolver, error) {
	addr, err := sockaddr.NewIPv4Addr(cidr)
	if err != nil {
		return nil, fmt.Errorf("addressing: invalid loopback range %q: %w", cidr, err)
	}
	if portsPerHost <= 0 {
		portsPerHost = 1000
	}
	return &LoopbackResolver{
		base:         addr,
		basePort:     basePort,
		portsPerHost: portsPerHost,
		inUse:        make(map[string]struct{}),
	}, nil
}

// DefaultLoopbackResolver walks 127.0.0.1 upward starting at the standard
// Cassandra native-protocol port, 9042.
func DefaultLoopbackResolver() *LoopbackResolver {
	r, err := NewLoopbackResolver("127.0.0.1/8", 9042, 1000)
	if err != nil {
		// 127.0.0.1/8 is always a valid CIDR; this can't happen.
		panic(err)
	}
	return r
}

// Next returns the next unused address in the configured range, preferring
// a previously-released one.
func (r *LoopbackResolver) Next() (net.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.released); n > 0 {
		addr := r.released[n-1]
		r.released = r.released[:n-1]
		r.inUse[addr.String()] = struct{}{}
		return addr, nil
	}

	for {
		hostIdx := r.next / r.portsPerHost
		port := r.basePort + r.next%r.portsPerHost
		r.next++

		ipAddr, err := r.base.NthAddress(hostIdx)
		if err != nil {
			return nil, fmt.Errorf("addressing: loopback range exhausted: %w", err)
		}
		ip := net.ParseIP(ipAddr.String())
		if ip == nil {
			return nil, fmt.Errorf("addressing: could not parse %v as an IP", ipAddr)
		}
		addr := &net.TCPAddr{IP: ip, Port: port}
		key := addr.String()
		if _, taken := r.inUse[key]; taken {
			continue
		}
		r.inUse[key] = struct{}{}
		return addr, nil
	}
}

// Release returns an address to the pool so a future Next() may hand it back
// out.
func (r *LoopbackResolver) Release(addr net.Addr) {
	if addr == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := addr.String()
	if _, ok := r.inUse[key]; !ok {
		return
	}
	delete(r.inUse, key)
	if tcp, ok := addr.(*net.TCPAddr); ok {
		r.released = append(r.released, tcp)
	}
}
