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
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// UDPArgs are the parsed construction arguments of a UDP port:
// "src_ip:src_port,dst_ip:dst_port". The source is the local datagram
// socket; the destination is where egress datagrams go.
type UDPArgs struct {
	Src *net.UDPAddr
	Dst *net.UDPAddr
}

// ParseUDPArgs parses the opaque args string of a UDP port.
func ParseUDPArgs(args string) (UDPArgs, error) {
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		return UDPArgs{}, errors.Errorf("invalid UDP port args %q: want \"src_ip:src_port,dst_ip:dst_port\"", args)
	}
	src, err := net.ResolveUDPAddr("udp", parts[0])
	if err != nil {
		return UDPArgs{}, errors.Wrap(err, "resolving UDP source address")
	}
	dst, err := net.ResolveUDPAddr("udp", parts[1])
	if err != nil {
		return UDPArgs{}, errors.Wrap(err, "resolving UDP destination address")
	}

	return UDPArgs{Src: src, Dst: dst}, nil
}

// UDP is a datagram port. Each received datagram is one packet.
type UDP struct {
	base
	args UDPArgs

	connMutex sync.RWMutex
	conn      *net.UDPConn

	tx     chan Packet
	closed chan struct{}
	wg     sync.WaitGroup
}

func newUDP(id uint32, name, args string, txQueueLen int) (*UDP, error) {
	parsed, err := ParseUDPArgs(args)
	if err != nil {
		return nil, err
	}

	return &UDP{
		base: base{id: id, name: name, typ: TypeUDP},
		args: parsed,
		tx:   make(chan Packet, txQueueLen),
	}, nil
}

// LocalAddr returns the bound socket address. Only valid while open.
func (r *UDP) LocalAddr() *net.UDPAddr {
	r.connMutex.RLock()
	defer r.connMutex.RUnlock()

	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Open binds the local socket, flips the port up, and starts the
// transmit drain.
func (r *UDP) Open() error {
	conn, err := net.ListenUDP("udp", r.args.Src)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("opening UDP port %v", r.name))
	}

	r.connMutex.Lock()
	r.conn = conn
	r.connMutex.Unlock()

	r.closed = make(chan struct{})
	r.setAdmin(true)
	// A bound datagram socket has no carrier to probe.
	r.setLink(true)

	r.wg.Add(1)
	go r.transmit()
	logger.Infof("opened UDP port %v (id=%v) on %v -> %v", r.name, r.id, conn.LocalAddr(), r.args.Dst)

	return nil
}

// Close flips the port down, closes the socket, and joins the transmit
// drain. Queued packets that were not sent are released.
func (r *UDP) Close() error {
	r.setAdmin(false)
	r.setLink(false)

	r.connMutex.Lock()
	conn := r.conn
	r.conn = nil
	r.connMutex.Unlock()

	if conn == nil {
		return nil
	}
	close(r.closed)
	err := conn.Close()
	r.wg.Wait()
	r.drainTx()
	logger.Infof("closed UDP port %v (id=%v)", r.name, r.id)

	return errors.Wrap(err, "closing UDP socket")
}

func (r *UDP) drainTx() {
	for {
		select {
		case p := <-r.tx:
			r.countTxDrop()
			p.Done()
		default:
			return
		}
	}
}

// Send enqueues the packet for transmission, dropping tail-first when
// the queue is full so the caller never blocks.
func (r *UDP) Send(p Packet) error {
	if !r.isUp() {
		r.countTxDrop()
		p.Done()
		return ErrDown
	}
	select {
	case r.tx <- p:
		return nil
	default:
		r.countTxDrop()
		p.Done()
		return ErrTxQueueFull
	}
}

func (r *UDP) transmit() {
	defer r.wg.Done()

	for {
		select {
		case p := <-r.tx:
			r.connMutex.RLock()
			conn := r.conn
			r.connMutex.RUnlock()

			if conn == nil {
				r.countTxDrop()
				p.Done()
				continue
			}
			if _, err := conn.WriteToUDP(p.Data, r.args.Dst); err != nil {
				r.countTxDrop()
				logger.Debugf("UDP port %v transmit error: %v", r.name, err)
			} else {
				r.countTx(len(p.Data))
			}
			p.Done()
		case <-r.closed:
			return
		}
	}
}

// Recv reads one datagram into buf. The read deadline bounds the block
// so the worker can observe shutdown between packets.
func (r *UDP) Recv(buf []byte) (int, error) {
	r.connMutex.RLock()
	conn := r.conn
	r.connMutex.RUnlock()

	if conn == nil {
		time.Sleep(recvTimeout)
		return 0, errRecvTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
		return 0, errors.Wrap(err, "setting UDP read deadline")
	}
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return 0, err
	}
	r.countRx(n)

	return n, nil
}
