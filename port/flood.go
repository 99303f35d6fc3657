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

// FloodPort is the synthetic port whose send replicates the packet to
// every admin-up, link-up transport port except the one it arrived on.
// Excluding the ingress port is mandatory; it is what keeps a flooded
// packet from reflecting forever.
type FloodPort struct {
	base
	table *Table
}

func newFloodPort(table *Table) *FloodPort {
	p := &FloodPort{
		base:  base{id: FloodID, name: "flood", typ: TypeFlood},
		table: table,
	}
	p.adminUp = true
	p.linkUp = true
	return p
}

func (r *FloodPort) Open() error {
	return nil
}

func (r *FloodPort) Close() error {
	return nil
}

// Send fans the packet out over a shared-immutable view of its bytes.
// The backing buffer is released when the last target is done with it.
func (r *FloodPort) Send(p Packet) error {
	var targets []Port
	for _, t := range r.table.transportPorts() {
		if t.ID() == p.Ingress {
			continue
		}
		if s := t.State(); !s.AdminUp || !s.LinkUp {
			continue
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		p.Done()
		return nil
	}

	copies := share(p, len(targets))
	for i, t := range targets {
		r.countTx(len(p.Data))
		if err := t.Send(copies[i]); err != nil {
			logger.Debugf("flood to port %v failed: %v", t.Name(), err)
		}
	}

	return nil
}

func (r *FloodPort) Recv(buf []byte) (int, error) {
	return 0, errRecvTimeout
}
