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

package l2switch

import (
	"testing"

	"github.com/flowgrammable/flowpath/dataplane"
	"github.com/flowgrammable/flowpath/pipeline"
)

var (
	macA = []byte{0x00, 0x00, 0x5E, 0x00, 0x53, 0x01}
	macB = []byte{0x00, 0x00, 0x5E, 0x00, 0x53, 0x02}
)

// frame builds a minimal Ethernet frame.
func frame(dst, src []byte, payload ...byte) []byte {
	out := make([]byte, 0, 14+len(payload))
	out = append(out, dst...)
	out = append(out, src...)
	out = append(out, 0x08, 0x00)
	out = append(out, payload...)
	return out
}

func newTestDataplane(t *testing.T, lib dataplane.Library) *dataplane.Dataplane {
	t.Helper()

	conf := dataplane.DefaultConfig()
	conf.BufferCount = 8
	conf.BufferSize = 256
	conf.MetadataSize = 32

	rt, err := dataplane.New(conf)
	if err != nil {
		t.Fatalf("unexpected runtime error: %v", err)
	}
	if err := rt.LoadApplication("l2switch", lib); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	dp, err := rt.CreateDataplane("d", "l2switch")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := dp.Load(); err != nil {
		t.Fatalf("unexpected app load error: %v", err)
	}

	return dp
}

// process runs one frame through the application and returns its
// context for inspection.
func process(t *testing.T, dp *dataplane.Dataplane, data []byte, ingress uint32) *pipeline.Context {
	t.Helper()

	buf, err := dp.Pool().Alloc()
	if err != nil {
		t.Fatalf("unexpected alloc error: %v", err)
	}
	t.Cleanup(func() { dp.Pool().Dealloc(buf.ID()) })

	n := copy(buf.Data(), data)
	ctx := buf.Context()
	ctx.Reset(n, ingress, 16)
	if err := dp.Application().Process(ctx); err != nil {
		t.Fatalf("unexpected process error: %v", err)
	}

	return ctx
}

func TestUnknownDestinationFloods(t *testing.T) {
	lib := Library()
	dp := newTestDataplane(t, lib)

	ctx := process(t, dp, frame(macB, macA, 0xDE, 0xAD), 1)
	if d, _ := ctx.Decision(); d != pipeline.DecisionFlood {
		t.Fatalf("unexpected decision: expected=FLOOD, got=%v", d)
	}
}

func TestLearnedDestinationIsSwitched(t *testing.T) {
	lib := Library()
	dp := newTestDataplane(t, lib)

	// A talks on port 1; the switch learns A's address.
	process(t, dp, frame(macB, macA), 1)

	// B replies toward A from port 2: the frame must be switched to
	// port 1 instead of flooded.
	ctx := process(t, dp, frame(macA, macB), 2)
	if d, p := ctx.Decision(); d != pipeline.DecisionOutput || p != 1 {
		t.Fatalf("unexpected decision: expected=OUTPUT/1, got=%v/%v", d, p)
	}

	// And now A's reply to B is switched back to port 2.
	ctx = process(t, dp, frame(macB, macA), 1)
	if d, p := ctx.Decision(); d != pipeline.DecisionOutput || p != 2 {
		t.Fatalf("unexpected decision: expected=OUTPUT/2, got=%v/%v", d, p)
	}
}

func TestBroadcastFloods(t *testing.T) {
	lib := Library()
	dp := newTestDataplane(t, lib)

	ctx := process(t, dp, frame(broadcastMAC, macA), 1)
	if d, _ := ctx.Decision(); d != pipeline.DecisionFlood {
		t.Fatalf("unexpected decision: expected=FLOOD, got=%v", d)
	}
}

func TestShortFrameIsDropped(t *testing.T) {
	lib := Library()
	dp := newTestDataplane(t, lib)

	ctx := process(t, dp, []byte{0x01, 0x02, 0x03}, 1)
	if d, _ := ctx.Decision(); d != pipeline.DecisionDrop {
		t.Fatalf("unexpected decision: expected=DROP, got=%v", d)
	}
}

func TestLearningIsSuppressedByCache(t *testing.T) {
	lib := Library()
	dp := newTestDataplane(t, lib)

	process(t, dp, frame(macB, macA), 1)
	tbl := dp.Table(macTableID)
	if tbl == nil {
		t.Fatalf("the MAC table was not created")
	}
	before := tbl.Stats().Active
	learned := tbl.Find(pipeline.Key(macA))

	// The same station talking again must not reinstall the flow.
	process(t, dp, frame(macB, macA), 1)
	if after := tbl.Stats().Active; after != before {
		t.Fatalf("unexpected flow count: expected=%v, got=%v", before, after)
	}
	if got := tbl.Find(pipeline.Key(macA)); got != learned {
		t.Fatalf("the flow of a cached station was reinstalled")
	}
}
