/*
 * Flowpath - A Software Dataplane
 *
 * Copyright (C) 2015 Flowgrammable.org. All rights reserved.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package port

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
)

var (
	logger = logging.MustGetLogger("port")

	ErrUnknown       = errors.New("unknown port")
	ErrDuplicateName = errors.New("duplicate port name")
	ErrUnsupported   = errors.New("unsupported port type")
	ErrTxQueueFull   = errors.New("transmit queue is full")
	ErrDown          = errors.New("port is down")
)

// Reserved ids of the two synthetic ports.
const (
	FloodID uint32 = 0xfffffffb
	DropID  uint32 = 0xffffffff
)

// recvTimeout bounds how long a blocking receive may hide a shutdown
// request from the worker loop.
const recvTimeout = 1 * time.Millisecond

// Type discriminates the concrete port variants.
type Type int

const (
	TypeUDP Type = iota
	TypeTCP
	TypeDrop
	TypeFlood
)

func (r Type) String() string {
	switch r {
	case TypeUDP:
		return "UDP"
	case TypeTCP:
		return "TCP"
	case TypeDrop:
		return "DROP"
	case TypeFlood:
		return "FLOOD"
	default:
		return "UNKNOWN"
	}
}

// ParseType maps a config string to a port type.
func ParseType(s string) (Type, error) {
	switch s {
	case "udp", "UDP":
		return TypeUDP, nil
	case "tcp", "TCP":
		return TypeTCP, nil
	default:
		return 0, ErrUnsupported
	}
}

// State is the observable link and admin status of a port.
type State struct {
	AdminUp bool
	LinkUp  bool
}

// Stats are per-port packet counters. They are advisory.
type Stats struct {
	RxPackets uint64
	RxBytes   uint64
	RxDrops   uint64
	TxPackets uint64
	TxBytes   uint64
	TxDrops   uint64
}

// Packet is an outbound unit handed to a port's send path. Done must be
// called exactly once when the port is finished with the bytes; it
// returns the backing buffer to the pool. Flood shares one byte store
// across fan-out copies and releases it when the last copy completes.
type Packet struct {
	Data    []byte
	Ingress uint32
	done    func()
}

// NewPacket wraps outbound bytes with their release callback.
func NewPacket(data []byte, ingress uint32, done func()) Packet {
	return Packet{Data: data, Ingress: ingress, done: done}
}

// Done releases the packet's backing store.
func (r Packet) Done() {
	if r.done != nil {
		r.done()
	}
}

// share splits the packet into n copies over the same byte store. The
// original release fires when the last copy is done.
func share(p Packet, n int) []Packet {
	refs := int32(n)
	done := func() {
		if atomic.AddInt32(&refs, -1) == 0 {
			p.Done()
		}
	}
	out := make([]Packet, n)
	for i := range out {
		out[i] = Packet{Data: p.Data, Ingress: p.Ingress, done: done}
	}
	return out
}

// Port is the polymorphic capability set every port variant implements.
//
// Send takes ownership of the packet: whether it transmits, queues, or
// drops, the packet's Done fires eventually. Recv fills buf and returns
// the packet length; it blocks at most for the receive timeout, and a
// timeout is reported through an error satisfying net.Error.
type Port interface {
	ID() uint32
	Name() string
	Type() Type
	Open() error
	Close() error
	Send(Packet) error
	Recv(buf []byte) (int, error)
	State() State
	Stats() Stats
	CountRxDrop()
}

// IsTimeout reports whether a receive error is just the receive
// deadline expiring.
func IsTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// timeoutError is returned by synthetic and detached ports to make
// their Recv indistinguishable from an idle socket.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var errRecvTimeout net.Error = timeoutError{}

// base carries the identity, state, and counters shared by all port
// variants.
type base struct {
	id   uint32
	name string
	typ  Type

	mutex   sync.RWMutex
	adminUp bool
	linkUp  bool
	stats   Stats
}

func (r *base) ID() uint32 {
	return r.id
}

func (r *base) Name() string {
	return r.name
}

func (r *base) Type() Type {
	return r.typ
}

func (r *base) State() State {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return State{AdminUp: r.adminUp, LinkUp: r.linkUp}
}

func (r *base) Stats() Stats {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.stats
}

func (r *base) setAdmin(up bool) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.adminUp = up
}

func (r *base) setLink(up bool) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.linkUp = up
}

func (r *base) isUp() bool {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.adminUp && r.linkUp
}

func (r *base) countRx(bytes int) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.stats.RxPackets++
	r.stats.RxBytes += uint64(bytes)
}

func (r *base) CountRxDrop() {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.stats.RxDrops++
}

func (r *base) countTx(bytes int) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.stats.TxPackets++
	r.stats.TxBytes += uint64(bytes)
}

func (r *base) countTxDrop() {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.stats.TxDrops++
}

func (r *base) String() string {
	s := r.State()
	return fmt.Sprintf("Port ID=%v, Name=%v, Type=%v, AdminUp=%v, LinkUp=%v, Stats=%+v",
		r.id, r.name, r.typ, s.AdminUp, s.LinkUp, r.Stats())
}
