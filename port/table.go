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
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const (
	// defaultGracePeriod is how long a deallocated port id stays out
	// of circulation so in-flight contexts referencing it cannot land
	// on an unrelated recycled port.
	defaultGracePeriod = 30 * time.Second

	// DefaultTxQueueLen is the bounded transmit queue depth of ports
	// allocated without an explicit override.
	DefaultTxQueueLen = 1024

	graceCacheSize = 4096
)

// Table is the registry of ports by id and by name. It owns the two
// synthetic drop and flood singletons.
type Table struct {
	mutex       sync.RWMutex
	ports       map[uint32]Port
	names       map[string]uint32
	nextID      uint32
	freed       []uint32   // deallocated ids, oldest first
	grace       *lru.Cache // port id -> time.Time of deallocation
	gracePeriod time.Duration
	txQueueLen  int

	drop  *DropPort
	flood *FloodPort
}

// NewTable builds a registry with the drop and flood singletons already
// registered under their reserved ids.
func NewTable(txQueueLen int) *Table {
	if txQueueLen <= 0 {
		txQueueLen = DefaultTxQueueLen
	}
	c, err := lru.New(graceCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to init the port id grace cache: %v", err))
	}

	t := &Table{
		ports:       make(map[uint32]Port),
		names:       make(map[string]uint32),
		nextID:      1,
		grace:       c,
		gracePeriod: defaultGracePeriod,
		txQueueLen:  txQueueLen,
	}
	t.drop = newDropPort()
	t.flood = newFloodPort(t)
	t.ports[DropID] = t.drop
	t.ports[FloodID] = t.flood
	t.names["drop"] = DropID
	t.names["flood"] = FloodID

	return t
}

// allocID hands out the next dense id, reusing deallocated ids only
// once their grace epoch has passed. Caller holds the write lock.
func (r *Table) allocID() uint32 {
	if len(r.freed) > 0 {
		id := r.freed[0]
		expired := true
		if v, ok := r.grace.Get(id); ok {
			expired = time.Since(v.(time.Time)) > r.gracePeriod
		}
		if expired {
			r.freed = r.freed[1:]
			r.grace.Remove(id)
			return id
		}
	}
	id := r.nextID
	r.nextID++
	return id
}

// Alloc constructs a port of the given type from its opaque args string
// and registers it. The port is returned closed; Open is the caller's
// responsibility.
func (r *Table) Alloc(typ Type, name, args string) (Port, error) {
	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.names[name]; ok {
		return nil, errors.Wrap(ErrDuplicateName, name)
	}

	id := r.allocID()
	var (
		p   Port
		err error
	)
	switch typ {
	case TypeUDP:
		p, err = newUDP(id, name, args, r.txQueueLen)
	case TypeTCP:
		p, err = newTCP(id, name, args, r.txQueueLen)
	default:
		err = errors.Wrap(ErrUnsupported, typ.String())
	}
	if err != nil {
		return nil, err
	}
	r.ports[id] = p
	r.names[name] = id
	logger.Debugf("allocated port: id=%v, name=%v, type=%v", id, name, typ)

	return p, nil
}

// Add registers an externally constructed port under the next free id.
// The constructor receives the id the registry assigned.
func (r *Table) Add(name string, ctor func(id uint32) Port) (Port, error) {
	if ctor == nil {
		panic("nil port constructor")
	}

	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.names[name]; ok {
		return nil, errors.Wrap(ErrDuplicateName, name)
	}
	id := r.allocID()
	p := ctor(id)
	if p == nil {
		panic("port constructor returned nil")
	}
	r.ports[id] = p
	r.names[name] = id

	return p, nil
}

// Dealloc closes and removes the port. Its id enters the grace epoch.
func (r *Table) Dealloc(id uint32) error {
	if id == DropID || id == FloodID {
		panic("dealloc of a synthetic port")
	}

	// Write lock
	r.mutex.Lock()
	p, ok := r.ports[id]
	if !ok {
		r.mutex.Unlock()
		return errors.Wrapf(ErrUnknown, "id=%v", id)
	}
	delete(r.ports, id)
	delete(r.names, p.Name())
	r.freed = append(r.freed, id)
	r.grace.Add(id, time.Now())
	r.mutex.Unlock()

	return p.Close()
}

// Find returns the port registered under id.
func (r *Table) Find(id uint32) (Port, error) {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.ports[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "id=%v", id)
	}
	return p, nil
}

// FindName returns the port registered under name.
func (r *Table) FindName(name string) (Port, error) {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, ok := r.names[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "name=%v", name)
	}
	return r.ports[id], nil
}

// DropPort returns the drop singleton.
func (r *Table) DropPort() *DropPort {
	return r.drop
}

// FloodPort returns the flood singleton.
func (r *Table) FloodPort() *FloodPort {
	return r.flood
}

// Ports returns all registered ports, synthetic ones included.
func (r *Table) Ports() []Port {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p)
	}
	return out
}

// transportPorts returns the non-synthetic ports, the flood fan-out
// set before state filtering.
func (r *Table) transportPorts() []Port {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]Port, 0, len(r.ports))
	for id, p := range r.ports {
		if id == DropID || id == FloodID {
			continue
		}
		out = append(out, p)
	}
	return out
}
