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

// Package l2switch is a learning Ethernet switch. Source addresses are
// learned into an exact-match table keyed by MAC; unknown destinations
// and broadcasts are flooded.
package l2switch

import (
	"bytes"
	"fmt"

	"github.com/flowgrammable/flowpath/dataplane"
	"github.com/flowgrammable/flowpath/pipeline"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("l2switch")

	broadcastMAC = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

const (
	macTableID       = 0
	macTableCapacity = 8192

	headerEthernet = 0
	fieldDstMAC    = 0
	fieldSrcMAC    = 1

	macLen = 6
)

type l2switch struct {
	table *pipeline.Table
	cache *flowCache
}

// Library returns the learning switch application bundle.
func Library() dataplane.Library {
	s := &l2switch{cache: newFlowCache()}
	return dataplane.Library{
		Load:    s.load,
		Unload:  s.unload,
		Start:   s.start,
		Stop:    s.stop,
		Process: s.process,
	}
}

func (r *l2switch) load(dp *dataplane.Dataplane) error {
	tbl, err := dataplane.CreateTable(dp, macTableID, macTableCapacity, macLen, pipeline.TableExact)
	if err != nil {
		return errors.Wrap(err, "creating the MAC table")
	}
	// Unknown destination: flood.
	dataplane.AddMiss(tbl, func(_ *pipeline.Table, ctx *pipeline.Context) error {
		dataplane.Flood(ctx)
		return nil
	})
	r.table = tbl
	logger.Debugf("l2switch loaded on dataplane %v", dp.Name())

	return nil
}

func (r *l2switch) unload(dp *dataplane.Dataplane) error {
	return nil
}

func (r *l2switch) start(dp *dataplane.Dataplane) error {
	logger.Infof("l2switch started on dataplane %v", dp.Name())
	return nil
}

func (r *l2switch) stop(dp *dataplane.Dataplane) error {
	r.cache.purge()
	return nil
}

func (r *l2switch) process(ctx *pipeline.Context) error {
	packet := gopacket.NewPacket(ctx.Data(), layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		logger.Debugf("dropping a non-Ethernet packet of %v bytes from port %v", ctx.Length(), ctx.Ingress())
		dataplane.Drop(ctx)
		return nil
	}
	eth := ethLayer.(*layers.Ethernet)
	logger.Debugf("PACKET_IN.. Ingress=%v, SrcMAC=%v, DstMAC=%v", ctx.Ingress(), eth.SrcMAC, eth.DstMAC)

	dataplane.BindHeader(ctx, headerEthernet)
	if _, err := dataplane.BindField(ctx, fieldDstMAC, 0, macLen); err != nil {
		dataplane.Drop(ctx)
		return nil
	}
	src, err := dataplane.BindField(ctx, fieldSrcMAC, macLen, macLen)
	if err != nil {
		dataplane.Drop(ctx)
		return nil
	}

	r.learn(src, ctx.Ingress())

	if bytes.Equal(eth.DstMAC, broadcastMAC) {
		dataplane.Flood(ctx)
		return nil
	}

	return dataplane.GotoTable(ctx, r.table, fieldDstMAC)
}

// learn installs a flow steering the learned source address to its
// ingress port. Repeated installs of the same pair are suppressed by
// the flow cache.
func (r *l2switch) learn(src []byte, ingress uint32) {
	if r.cache.exist(src, ingress) {
		return
	}

	out := ingress
	key := make([]byte, macLen)
	copy(key, src)
	err := dataplane.AddFlow(r.table, key, func(_ *pipeline.Table, ctx *pipeline.Context) error {
		return dataplane.Apply(ctx, pipeline.Output{Port: out})
	})
	if err != nil {
		logger.Errorf("failed to install a flow for %v: %v", fmtMAC(src), err)
		return
	}
	r.cache.add(src, ingress)
	logger.Debugf("learned %v on port %v", fmtMAC(src), ingress)
}

func fmtMAC(b []byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}
