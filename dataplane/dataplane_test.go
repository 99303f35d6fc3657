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
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/flowgrammable/flowpath/pipeline"
	"github.com/flowgrammable/flowpath/port"

	"github.com/pkg/errors"
)

// testTimeout is a net.Error so the worker treats an idle test port
// like an idle socket.
type testTimeout struct{}

func (testTimeout) Error() string   { return "i/o timeout" }
func (testTimeout) Timeout() bool   { return true }
func (testTimeout) Temporary() bool { return true }

var _ net.Error = testTimeout{}

// testPort is an in-memory transport: injected packets come out of
// Recv, sent packets are captured. With hold set, sent packets are kept
// un-released so the backing buffers stay in flight.
type testPort struct {
	id   uint32
	name string

	mutex   sync.Mutex
	rx      [][]byte
	sent    [][]byte
	held    []port.Packet
	hold    bool
	stats   port.Stats
	adminUp bool
	linkUp  bool
}

func newTestPort(id uint32, name string) *testPort {
	return &testPort{id: id, name: name, adminUp: true, linkUp: true}
}

func (r *testPort) ID() uint32      { return r.id }
func (r *testPort) Name() string    { return r.name }
func (r *testPort) Type() port.Type { return port.TypeUDP }
func (r *testPort) Open() error     { return nil }
func (r *testPort) Close() error    { return nil }

func (r *testPort) State() port.State {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return port.State{AdminUp: r.adminUp, LinkUp: r.linkUp}
}

func (r *testPort) Stats() port.Stats {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.stats
}

func (r *testPort) CountRxDrop() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.stats.RxDrops++
}

func (r *testPort) inject(data []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.rx = append(r.rx, data)
}

func (r *testPort) Recv(buf []byte) (int, error) {
	r.mutex.Lock()
	if len(r.rx) == 0 {
		r.mutex.Unlock()
		time.Sleep(time.Millisecond)
		return 0, testTimeout{}
	}
	data := r.rx[0]
	r.rx = r.rx[1:]
	n := copy(buf, data)
	r.stats.RxPackets++
	r.stats.RxBytes += uint64(n)
	r.mutex.Unlock()

	return n, nil
}

func (r *testPort) Send(p port.Packet) error {
	r.mutex.Lock()
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	r.sent = append(r.sent, data)
	r.stats.TxPackets++
	r.stats.TxBytes += uint64(len(data))
	hold := r.hold
	if hold {
		r.held = append(r.held, p)
	}
	r.mutex.Unlock()

	if !hold {
		p.Done()
	}
	return nil
}

func (r *testPort) sentPackets() [][]byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make([][]byte, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *testPort) releaseHeld() {
	r.mutex.Lock()
	held := r.held
	r.held = nil
	r.mutex.Unlock()

	for _, p := range held {
		p.Done()
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v", what)
}

// testConfig keeps the pool small so leaks show up as failures.
func testConfig() Config {
	conf := DefaultConfig()
	conf.BufferCount = 8
	conf.BufferSize = 256
	conf.MetadataSize = 32
	return conf
}

type testEnv struct {
	rt    *Runtime
	dp    *Dataplane
	ports []*testPort
}

// newTestEnv builds a runtime with n test ports bound to one dataplane
// running the given library.
func newTestEnv(t *testing.T, conf Config, lib Library, n int) *testEnv {
	t.Helper()

	rt, err := New(conf)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if err := rt.LoadApplication("test", lib); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	dp, err := rt.CreateDataplane("d", "test")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	env := &testEnv{rt: rt, dp: dp}
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		p, err := rt.Ports().Add(name, func(id uint32) port.Port { return newTestPort(id, name) })
		if err != nil {
			t.Fatalf("unexpected port add error: %v", err)
		}
		tp := p.(*testPort)
		env.ports = append(env.ports, tp)
		dp.AddPort(tp)
	}

	return env
}

func (r *testEnv) start(t *testing.T) {
	t.Helper()
	if err := r.dp.Load(); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := r.dp.Start(); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	t.Cleanup(func() {
		if err := r.dp.Stop(); err != nil {
			t.Fatalf("unexpected stop error: %v", err)
		}
	})
}

// A process function that unconditionally drops: no bytes leave any
// port, the ingress counts the packet, the drop port counts the drop,
// and the buffer comes back to the pool.
func TestScenarioDrop(t *testing.T) {
	lib := noopLibrary()
	lib.Process = func(ctx *pipeline.Context) error {
		Drop(ctx)
		return nil
	}
	env := newTestEnv(t, testConfig(), lib, 2)
	env.start(t)

	env.ports[0].inject(bytes.Repeat([]byte{0xAA}, 10))

	drop := env.rt.Ports().DropPort()
	waitUntil(t, "the drop counter", func() bool { return drop.Drops() == 1 })
	if n := env.ports[0].Stats().RxPackets; n != 1 {
		t.Fatalf("unexpected rx packets: expected=1, got=%v", n)
	}
	for _, p := range env.ports {
		if len(p.sentPackets()) != 0 {
			t.Fatalf("unexpected transmission on port %v", p.Name())
		}
	}
	waitUntil(t, "the buffer release", func() bool {
		return env.dp.Pool().FreeCount() == env.dp.Pool().Capacity()
	})
}

// An exact-match flow steering first-byte 0x42 to the second port.
func TestScenarioExactMatchOutput(t *testing.T) {
	var tbl *pipeline.Table
	var out uint32

	lib := noopLibrary()
	lib.Load = func(dp *Dataplane) error {
		var err error
		tbl, err = CreateTable(dp, 0, 16, 1, pipeline.TableExact)
		if err != nil {
			return err
		}
		AddMiss(tbl, func(_ *pipeline.Table, ctx *pipeline.Context) error {
			return Apply(ctx, pipeline.Drop{})
		})
		return AddFlow(tbl, []byte{0x42}, func(_ *pipeline.Table, ctx *pipeline.Context) error {
			return Apply(ctx, pipeline.Output{Port: out})
		})
	}
	lib.Process = func(ctx *pipeline.Context) error {
		BindHeader(ctx, 0)
		if _, err := BindField(ctx, 0, 0, 1); err != nil {
			Drop(ctx)
			return nil
		}
		return GotoTable(ctx, tbl, 0)
	}

	env := newTestEnv(t, testConfig(), lib, 2)
	out = env.ports[1].ID()
	env.start(t)

	payload := []byte{0x42, 0x01, 0x02, 0x03}
	env.ports[0].inject(payload)

	waitUntil(t, "delivery on p2", func() bool { return len(env.ports[1].sentPackets()) == 1 })
	sent := env.ports[1].sentPackets()[0]
	if !bytes.Equal(sent, payload) {
		t.Fatalf("unexpected payload: expected=%x, got=%x", payload, sent)
	}
	if n := env.ports[0].Stats().RxPackets; n != 1 {
		t.Fatalf("unexpected rx packets: expected=1, got=%v", n)
	}
	if n := env.ports[1].Stats().TxPackets; n != 1 {
		t.Fatalf("unexpected tx packets: expected=1, got=%v", n)
	}

	// A non-matching first byte takes the miss flow into the drop port
	// and p2 stays idle.
	drops := env.rt.Ports().DropPort().Drops()
	env.ports[0].inject([]byte{0x00, 0x01})
	waitUntil(t, "the miss drop", func() bool { return env.rt.Ports().DropPort().Drops() == drops+1 })
	if len(env.ports[1].sentPackets()) != 1 {
		t.Fatalf("p2 received the missed packet")
	}
}

// Two chained tables: byte 0 dispatches into the first, byte 1 into the
// second, which outputs to p2. Both tables record a lookup.
func TestScenarioGoto(t *testing.T) {
	var t1, t2 *pipeline.Table
	var out uint32

	lib := noopLibrary()
	lib.Load = func(dp *Dataplane) error {
		var err error
		if t1, err = CreateTable(dp, 1, 16, 1, pipeline.TableExact); err != nil {
			return err
		}
		if t2, err = CreateTable(dp, 2, 16, 1, pipeline.TableExact); err != nil {
			return err
		}
		if err := AddFlow(t2, []byte{0x02}, func(_ *pipeline.Table, ctx *pipeline.Context) error {
			return Apply(ctx, pipeline.Output{Port: out})
		}); err != nil {
			return err
		}
		return AddFlow(t1, []byte{0x01}, func(_ *pipeline.Table, ctx *pipeline.Context) error {
			return GotoTable(ctx, t2, 1)
		})
	}
	lib.Process = func(ctx *pipeline.Context) error {
		BindHeader(ctx, 0)
		if _, err := BindField(ctx, 0, 0, 1); err != nil {
			Drop(ctx)
			return nil
		}
		if _, err := BindField(ctx, 1, 1, 1); err != nil {
			Drop(ctx)
			return nil
		}
		return GotoTable(ctx, t1, 0)
	}

	env := newTestEnv(t, testConfig(), lib, 2)
	out = env.ports[1].ID()
	env.start(t)

	env.ports[0].inject([]byte{0x01, 0x02, 0xFF})

	waitUntil(t, "delivery on p2", func() bool { return len(env.ports[1].sentPackets()) == 1 })
	if s := t1.Stats(); s.Lookups != 1 {
		t.Fatalf("unexpected t1 lookups: %v", s.Lookups)
	}
	if s := t2.Stats(); s.Lookups != 1 {
		t.Fatalf("unexpected t2 lookups: %v", s.Lookups)
	}
}

// Flood: one copy on every other port, none on the ingress.
func TestScenarioFlood(t *testing.T) {
	lib := noopLibrary()
	lib.Process = func(ctx *pipeline.Context) error {
		Flood(ctx)
		return nil
	}
	env := newTestEnv(t, testConfig(), lib, 3)
	env.start(t)

	env.ports[0].inject([]byte{0xCA, 0xFE})

	waitUntil(t, "flood delivery", func() bool {
		return len(env.ports[1].sentPackets()) == 1 && len(env.ports[2].sentPackets()) == 1
	})
	if len(env.ports[0].sentPackets()) != 0 {
		t.Fatalf("flood delivered to the ingress port")
	}
	waitUntil(t, "the buffer release", func() bool {
		return env.dp.Pool().FreeCount() == env.dp.Pool().Capacity()
	})
}

// With a single buffer held in flight on the egress side, a second
// packet is accounted as a receive drop and processing continues.
func TestScenarioPoolExhaustion(t *testing.T) {
	var out uint32
	lib := noopLibrary()
	lib.Process = func(ctx *pipeline.Context) error {
		ctx.SetOutput(out)
		return nil
	}

	conf := testConfig()
	conf.BufferCount = 1
	env := newTestEnv(t, conf, lib, 2)
	out = env.ports[1].ID()
	env.ports[1].hold = true
	env.start(t)

	env.ports[0].inject([]byte{0x01})
	waitUntil(t, "first delivery", func() bool { return len(env.ports[1].sentPackets()) == 1 })

	env.ports[0].inject([]byte{0x02})
	waitUntil(t, "the rx drop", func() bool { return env.ports[0].Stats().RxDrops == 1 })

	env.ports[1].releaseHeld()
	waitUntil(t, "the buffer release", func() bool {
		return env.dp.Pool().FreeCount() == 1
	})

	// The pipeline keeps going once a buffer is free again.
	env.ports[0].inject([]byte{0x03})
	waitUntil(t, "recovery", func() bool { return len(env.ports[1].sentPackets()) >= 2 })
}

// A goto cycle drops the packet and increments the loop counter exactly
// once.
func TestScenarioPipelineLoop(t *testing.T) {
	var tbl *pipeline.Table
	lib := noopLibrary()
	lib.Load = func(dp *Dataplane) error {
		var err error
		tbl, err = CreateTable(dp, 0, 16, 1, pipeline.TableExact)
		if err != nil {
			return err
		}
		AddMiss(tbl, func(self *pipeline.Table, ctx *pipeline.Context) error {
			return GotoTable(ctx, self, 0)
		})
		return nil
	}
	lib.Process = func(ctx *pipeline.Context) error {
		BindHeader(ctx, 0)
		if _, err := BindField(ctx, 0, 0, 1); err != nil {
			Drop(ctx)
			return nil
		}
		return GotoTable(ctx, tbl, 0)
	}

	env := newTestEnv(t, testConfig(), lib, 1)
	env.start(t)

	env.ports[0].inject([]byte{0x00})
	waitUntil(t, "the loop drop", func() bool { return env.dp.LoopDrops() == 1 })
	waitUntil(t, "the buffer release", func() bool {
		return env.dp.Pool().FreeCount() == env.dp.Pool().Capacity()
	})
}

func TestRuntimeDuplicateDataplane(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if err := rt.LoadApplication("test", noopLibrary()); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if _, err := rt.CreateDataplane("d", "test"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := rt.CreateDataplane("d", "test"); errors.Cause(err) != ErrDuplicateName {
		t.Fatalf("unexpected error: expected=%v, got=%v", ErrDuplicateName, err)
	}
	if _, err := rt.CreateDataplane("d2", "nope"); errors.Cause(err) != ErrUnknown {
		t.Fatalf("unexpected error: expected=%v, got=%v", ErrUnknown, err)
	}
	if err := rt.DeleteDataplane("nope"); errors.Cause(err) != ErrUnknown {
		t.Fatalf("unexpected error: expected=%v, got=%v", ErrUnknown, err)
	}
	if err := rt.DeleteDataplane("d"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	// The name is free again.
	if _, err := rt.CreateDataplane("d", "test"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
}

func TestRuntimeDeleteStopsAndUnloads(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}

	unloaded := false
	lib := noopLibrary()
	lib.Unload = func(*Dataplane) error { unloaded = true; return nil }
	if err := rt.LoadApplication("test", lib); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	dp, err := rt.CreateDataplane("d", "test")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := dp.Load(); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := dp.Start(); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if err := rt.DeleteDataplane("d"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if !unloaded {
		t.Fatalf("delete did not unload the application")
	}
	if dp.Application().State() != StateInit {
		t.Fatalf("unexpected state after delete: %v", dp.Application().State())
	}
}

func TestCreateTableUnsupportedType(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if err := rt.LoadApplication("test", noopLibrary()); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	dp, err := rt.CreateDataplane("d", "test")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if _, err := CreateTable(dp, 0, 16, 4, pipeline.TablePrefix); errors.Cause(err) != pipeline.ErrUnsupported {
		t.Fatalf("unexpected error: expected=%v, got=%v", pipeline.ErrUnsupported, err)
	}
	if _, err := CreateTable(dp, 0, 16, 4, pipeline.TableWildcard); errors.Cause(err) != pipeline.ErrUnsupported {
		t.Fatalf("unexpected error: expected=%v, got=%v", pipeline.ErrUnsupported, err)
	}
	if _, err := CreateTable(dp, 0, 16, 4, pipeline.TableExact); err != nil {
		t.Fatalf("unexpected create table error: %v", err)
	}
	if _, err := CreateTable(dp, 0, 16, 4, pipeline.TableExact); errors.Cause(err) != ErrDuplicateName {
		t.Fatalf("unexpected error: expected=%v, got=%v", ErrDuplicateName, err)
	}
}
