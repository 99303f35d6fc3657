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

package dataplane

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flowgrammable/flowpath/buffer"
	"github.com/flowgrammable/flowpath/pipeline"
	"github.com/flowgrammable/flowpath/port"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("dataplane")

	ErrDuplicateName = stderrors.New("name already in use")
	ErrUnknown       = stderrors.New("unknown name or id")
	ErrBadState      = stderrors.New("invalid lifecycle transition")
)

func badState(op string, s State) error {
	return errors.Wrap(ErrBadState, fmt.Sprintf("%v in state %v", op, s))
}

// Config is the tunable geometry of a dataplane. The spec's historical
// constants (2048-byte buffers, 4096-buffer pools, depth 16) are the
// defaults, not assumptions.
type Config struct {
	BufferCount  int
	BufferSize   int
	MetadataSize int
	GotoDepth    int
	TxQueueLen   int
}

// DefaultConfig returns the stock geometry.
func DefaultConfig() Config {
	return Config{
		BufferCount:  4096,
		BufferSize:   2048,
		MetadataSize: 256,
		GotoDepth:    16,
		TxQueueLen:   port.DefaultTxQueueLen,
	}
}

func (r Config) validate() error {
	if r.BufferCount <= 0 || r.BufferSize <= 0 || r.MetadataSize < 0 || r.GotoDepth <= 0 {
		return fmt.Errorf("invalid dataplane config: %+v", r)
	}
	return nil
}

// Dataplane owns flow tables, a buffer pool, references to its bound
// ports in the global port table, and exactly one application.
type Dataplane struct {
	name     string
	conf     Config
	registry *port.Table

	mutex   sync.RWMutex
	tables  map[int]*pipeline.Table
	ports   map[uint32]port.Port
	app     *Application
	workers []*worker
	wg      sync.WaitGroup

	// lifeMutex serializes Start and Stop without holding the state
	// mutex across application hooks, which are free to call back into
	// the dataplane.
	lifeMutex sync.Mutex
	started   bool

	pool *buffer.Pool

	loopDrops uint64 // packets dropped for exceeding the goto depth
}

func newDataplane(name string, app *Application, registry *port.Table, conf Config) *Dataplane {
	dp := &Dataplane{
		name:     name,
		conf:     conf,
		registry: registry,
		tables:   make(map[int]*pipeline.Table),
		ports:    make(map[uint32]port.Port),
		app:      app,
	}
	dp.pool = buffer.New(dp, conf.BufferCount, conf.BufferSize, conf.MetadataSize)

	return dp
}

func (r *Dataplane) Name() string {
	return r.name
}

func (r *Dataplane) Application() *Application {
	return r.app
}

func (r *Dataplane) Pool() *buffer.Pool {
	return r.pool
}

// Table returns the table registered under id, or nil. This satisfies
// the context's view of its owning dataplane.
func (r *Dataplane) Table(id int) *pipeline.Table {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.tables[id]
}

// Tables returns all tables of the dataplane.
func (r *Dataplane) Tables() []*pipeline.Table {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*pipeline.Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	return out
}

// CreateTable registers a new flow table. Only exact-match tables are
// supported; prefix and wildcard requests fail rather than being
// silently substituted.
func (r *Dataplane) CreateTable(id, size, keyWidth int, typ pipeline.TableType) (*pipeline.Table, error) {
	if typ != pipeline.TableExact {
		return nil, errors.Wrap(pipeline.ErrUnsupported, typ.String())
	}

	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.tables[id]; ok {
		return nil, errors.Wrapf(ErrDuplicateName, "table id=%v", id)
	}
	tbl := pipeline.NewTable(id, size, keyWidth)
	r.tables[id] = tbl
	logger.Debugf("dataplane %v: created table id=%v, size=%v, keyWidth=%v", r.name, id, size, keyWidth)

	return tbl, nil
}

// AddPort binds a port from the global table to this dataplane. A
// receive worker is spawned for it when the dataplane starts.
func (r *Dataplane) AddPort(p port.Port) {
	if p == nil {
		panic("nil port")
	}

	// Write lock
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.ports[p.ID()] = p
}

// Ports returns the ports bound to this dataplane.
func (r *Dataplane) Ports() []port.Port {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]port.Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p)
	}
	return out
}

func (r *Dataplane) findPort(id uint32) (port.Port, error) {
	// Read lock
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.ports[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "port id=%v", id)
	}
	return p, nil
}

// Load runs the application's load hook.
func (r *Dataplane) Load() error {
	return r.app.Load(r)
}

// Start opens every bound port, runs the application's start hook, and
// spawns one receive worker per port. A failed start leaves no workers
// behind and a following Stop is a no-op.
func (r *Dataplane) Start() error {
	r.lifeMutex.Lock()
	defer r.lifeMutex.Unlock()

	if r.started {
		return badState("start", StateRunning)
	}

	ports := r.Ports()
	opened := make([]port.Port, 0, len(ports))
	for _, p := range ports {
		if err := p.Open(); err != nil {
			for _, o := range opened {
				o.Close()
			}
			return errors.Wrap(err, fmt.Sprintf("starting dataplane %v", r.name))
		}
		opened = append(opened, p)
	}

	if err := r.app.Start(r); err != nil {
		for _, o := range opened {
			o.Close()
		}
		return err
	}

	r.mutex.Lock()
	for _, p := range ports {
		w := newWorker(r, p)
		r.workers = append(r.workers, w)
		r.wg.Add(1)
		go w.run(&r.wg)
	}
	r.mutex.Unlock()
	r.started = true
	logger.Infof("dataplane %v started with %v ports", r.name, len(ports))

	return nil
}

// Stop signals every worker, joins them, runs the application's stop
// hook, and closes the ports. Stopping a dataplane that never started
// defers to the application's Stop: a no-op while the application is
// READY, ErrBadState in any other state.
func (r *Dataplane) Stop() error {
	r.lifeMutex.Lock()
	defer r.lifeMutex.Unlock()

	if !r.started {
		// Covers the failed-start contract: stop after a failed start
		// must succeed without side effects.
		return r.app.Stop(r)
	}
	r.mutex.Lock()
	workers := r.workers
	r.workers = nil
	r.mutex.Unlock()
	r.started = false

	for _, w := range workers {
		w.stop()
	}
	r.wg.Wait()

	err := r.app.Stop(r)

	for _, p := range r.Ports() {
		if cerr := p.Close(); cerr != nil {
			logger.Errorf("failed to close port %v: %v", p.Name(), cerr)
		}
	}
	logger.Infof("dataplane %v stopped", r.name)

	return err
}

// Unload runs the application's unload hook.
func (r *Dataplane) Unload() error {
	return r.app.Unload(r)
}

func (r *Dataplane) countLoopDrop() {
	atomic.AddUint64(&r.loopDrops, 1)
}

// LoopDrops returns the number of packets dropped for exceeding the
// table dispatch depth.
func (r *Dataplane) LoopDrops() uint64 {
	return atomic.LoadUint64(&r.loopDrops)
}

func (r *Dataplane) String() string {
	v := fmt.Sprintf("Dataplane Name=%v, App=%v, State=%v, LoopDrops=%v, FreeBuffers=%v/%v\n",
		r.name, r.app.Name(), r.app.State(), r.LoopDrops(), r.pool.FreeCount(), r.pool.Capacity())
	for _, p := range r.Ports() {
		v += fmt.Sprintf("\t%v\n", p)
	}
	for _, t := range r.Tables() {
		s := t.Stats()
		v += fmt.Sprintf("\tTable ID=%v, KeyWidth=%v, Active=%v, Lookups=%v, Matches=%v\n",
			t.ID(), t.KeyWidth(), s.Active, s.Lookups, s.Matches)
	}

	return v
}
