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

// DropPort is the synthetic port whose send discards the packet,
// counts it, and releases the buffer.
type DropPort struct {
	base
}

func newDropPort() *DropPort {
	p := &DropPort{base: base{id: DropID, name: "drop", typ: TypeDrop}}
	p.adminUp = true
	p.linkUp = true
	return p
}

func (r *DropPort) Open() error {
	return nil
}

func (r *DropPort) Close() error {
	return nil
}

func (r *DropPort) Send(p Packet) error {
	r.countTxDrop()
	p.Done()
	return nil
}

// Drops returns the number of packets discarded through this port.
func (r *DropPort) Drops() uint64 {
	return r.Stats().TxDrops
}

func (r *DropPort) Recv(buf []byte) (int, error) {
	return 0, errRecvTimeout
}
