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
	"sync"
	"sync/atomic"

	"github.com/flowgrammable/flowpath/buffer"
	"github.com/flowgrammable/flowpath/pipeline"
	"github.com/flowgrammable/flowpath/port"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

// worker is the receive loop of one bound port. Packets of a single
// port are processed strictly in order; there is no ordering across
// ports. Shutdown is cooperative: the running flag is checked between
// packets and in-flight work drains before the goroutine returns.
type worker struct {
	dp      *Dataplane
	port    port.Port
	running int32
	scratch []byte
}

func newWorker(dp *Dataplane, p port.Port) *worker {
	return &worker{
		dp:      dp,
		port:    p,
		running: 1,
		scratch: make([]byte, dp.conf.BufferSize),
	}
}

func (r *worker) stop() {
	atomic.StoreInt32(&r.running, 0)
}

func (r *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for atomic.LoadInt32(&r.running) == 1 {
		buf, err := r.dp.pool.Alloc()
		if err != nil {
			// Pool exhausted: consume the pending packet into scratch
			// and account it as a receive drop.
			n, rerr := r.port.Recv(r.scratch)
			if rerr == nil && n > 0 {
				r.port.CountRxDrop()
				logger.Debugf("port %v: dropped %v bytes, buffer pool exhausted", r.port.Name(), n)
			}
			continue
		}

		n, err := r.port.Recv(buf.Data())
		if err != nil {
			r.dp.pool.Dealloc(buf.ID())
			if !port.IsTimeout(err) {
				logger.Debugf("port %v receive error: %v", r.port.Name(), err)
			}
			continue
		}
		if n == 0 {
			r.dp.pool.Dealloc(buf.ID())
			continue
		}

		ctx := buf.Context()
		ctx.Reset(n, r.port.ID(), r.dp.conf.GotoDepth)

		if err := r.dp.app.Process(ctx); err != nil {
			if errors.Cause(err) == pipeline.ErrPipelineLoop {
				r.dp.countLoopDrop()
			}
			logger.Debugf("port %v: dropping packet, process failed: %v", r.port.Name(), err)
			r.drop(buf)
			continue
		}

		r.commit(buf)
	}
}

// commit executes the context's accumulated action list and resolves
// the output decision. Data-path failures are recovered locally by
// dropping the packet.
func (r *worker) commit(buf *buffer.Buffer) {
	ctx := buf.Context()
	if err := ctx.Commit(); err != nil {
		logger.Debugf("port %v: dropping packet, commit failed: %v (actions=%v)",
			r.port.Name(), err, spew.Sdump(ctx.Actions()))
		r.drop(buf)
		return
	}

	decision, out := ctx.Decision()
	pkt := r.packet(buf)
	switch decision {
	case pipeline.DecisionOutput:
		r.output(out, pkt)
	case pipeline.DecisionFlood:
		r.dp.registry.FloodPort().Send(pkt)
	case pipeline.DecisionDrop, pipeline.DecisionNone:
		r.dp.registry.DropPort().Send(pkt)
	}
}

func (r *worker) output(id uint32, pkt port.Packet) {
	switch id {
	case port.DropID:
		r.dp.registry.DropPort().Send(pkt)
		return
	case port.FloodID:
		r.dp.registry.FloodPort().Send(pkt)
		return
	}

	p, err := r.dp.findPort(id)
	if err != nil {
		logger.Debugf("port %v: output to unknown port %v, dropping", r.port.Name(), id)
		r.dp.registry.DropPort().Send(pkt)
		return
	}
	if err := p.Send(pkt); err != nil {
		logger.Debugf("send on port %v failed: %v", p.Name(), err)
	}
}

func (r *worker) packet(buf *buffer.Buffer) port.Packet {
	id := buf.ID()
	return port.NewPacket(buf.Context().Data(), r.port.ID(), func() {
		r.dp.pool.Dealloc(id)
	})
}

func (r *worker) drop(buf *buffer.Buffer) {
	r.dp.registry.DropPort().Send(r.packet(buf))
}
