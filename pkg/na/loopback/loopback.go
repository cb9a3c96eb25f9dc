// Package loopback implements pkg/na.Transport entirely in-process, with
// no real I/O. It exists so this module's own tests and its bundled CLI
// demo can exercise the framing engine and forward/respond controller
// without a real NA plugin; it is not meant to model any particular
// production transport.
package loopback

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/narpc/narpc/pkg/na"
)

type address string

func (a address) String() string { return string(a) }

var (
	registryMu sync.Mutex
	registry   = map[string]*Transport{}
)

// Transport is an in-memory na.Transport. Every Transport registers itself
// under name at construction so peers can Lookup each other by name.
type Transport struct {
	name string

	mu        sync.RWMutex
	receivers map[uint8]na.RequestHandler
}

// New creates and registers a loopback transport under name. Registering
// two transports under the same name replaces the previous one.
func New(name string) *Transport {
	t := &Transport{name: name, receivers: make(map[uint8]na.RequestHandler)}
	registryMu.Lock()
	registry[name] = t
	registryMu.Unlock()
	return t
}

func (t *Transport) Self() na.Address { return address(t.name) }

func (t *Transport) Lookup(name string) (na.Address, error) {
	registryMu.Lock()
	_, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("loopback: unknown peer %q", name)
	}
	return address(name), nil
}

func (t *Transport) PostReceive(ctxID uint8, handler na.RequestHandler) error {
	t.mu.Lock()
	t.receivers[ctxID] = handler
	t.mu.Unlock()
	return nil
}

// Forward hands payload to the target's posted receiver for ctxID,
// running the handler on a separate goroutine to preserve the
// asynchronous-completion contract the framing engine is written against.
func (t *Transport) Forward(addr na.Address, ctxID uint8, payload []byte, noResponse bool, onComplete func([]byte, error)) error {
	registryMu.Lock()
	peer, ok := registry[addr.String()]
	registryMu.Unlock()
	if !ok {
		return fmt.Errorf("loopback: unknown peer %q", addr.String())
	}

	go func() {
		peer.mu.RLock()
		handler := peer.receivers[ctxID]
		peer.mu.RUnlock()

		if handler == nil {
			if onComplete != nil {
				onComplete(nil, fmt.Errorf("loopback: no receiver posted on %q context %d", addr.String(), ctxID))
			}
			return
		}

		respondFn := func(respPayload []byte, respDone func(error)) {
			if onComplete != nil {
				onComplete(respPayload, nil)
			}
			if respDone != nil {
				respDone(nil)
			}
		}

		handler(t.Self(), payload, respondFn)

		if noResponse && onComplete != nil {
			onComplete(nil, nil)
		}
	}()
	return nil
}

// bulk region table: the loopback stand-in for real memory registration.
var (
	bulkMu      sync.Mutex
	bulkRegions = map[uint64][]byte{}
	bulkCounter atomic.Uint64
)

type bulkHandle struct {
	id   uint64
	data []byte
}

func (b *bulkHandle) Descriptor() na.BulkDescriptor {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[0:8], b.id)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(b.data)))
	return na.BulkDescriptor(buf)
}

func (b *bulkHandle) Free() {
	bulkMu.Lock()
	delete(bulkRegions, b.id)
	bulkMu.Unlock()
}

func (t *Transport) RegisterBulk(data []byte) na.BulkHandle {
	id := bulkCounter.Add(1)
	bulkMu.Lock()
	bulkRegions[id] = data
	bulkMu.Unlock()
	return &bulkHandle{id: id, data: data}
}

// Pull resolves desc against the global bulk-region table and copies the
// described bytes into into. from is unused (the loopback registry is
// process-wide rather than per-peer) but kept to match na.Transport.
func (t *Transport) Pull(from na.Address, desc na.BulkDescriptor, into []byte, onComplete func(error)) error {
	if len(desc) < 12 {
		return fmt.Errorf("loopback: malformed bulk descriptor")
	}
	id := binary.LittleEndian.Uint64(desc[0:8])
	size := binary.LittleEndian.Uint32(desc[8:12])

	go func() {
		bulkMu.Lock()
		data, ok := bulkRegions[id]
		bulkMu.Unlock()
		if !ok {
			onComplete(fmt.Errorf("loopback: bulk region %d not found", id))
			return
		}
		if uint32(len(into)) < size {
			onComplete(fmt.Errorf("loopback: pull target too small: have %d want %d", len(into), size))
			return
		}
		copy(into, data[:size])
		onComplete(nil)
	}()
	return nil
}
