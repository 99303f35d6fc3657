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
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// TCP is a stream port emulating a point-to-point link. The args string
// is a local bind address "host:port"; the link comes up when a peer
// connects and goes back down when the peer disconnects. A newly
// accepted connection replaces the previous one.
type TCP struct {
	base
	laddr string

	connMutex sync.RWMutex
	listener  net.Listener
	conn      net.Conn

	tx     chan Packet
	closed chan struct{}
	wg     sync.WaitGroup
}

func newTCP(id uint32, name, args string, txQueueLen int) (*TCP, error) {
	if _, _, err := net.SplitHostPort(args); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("invalid TCP port args %q", args))
	}

	return &TCP{
		base:  base{id: id, name: name, typ: TypeTCP},
		laddr: args,
		tx:    make(chan Packet, txQueueLen),
	}, nil
}

// Open starts listening and accepting. The port is administratively up
// immediately; the link stays down until a peer attaches.
func (r *TCP) Open() error {
	ln, err := net.Listen("tcp", r.laddr)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("opening TCP port %v", r.name))
	}

	r.connMutex.Lock()
	r.listener = ln
	r.connMutex.Unlock()

	r.closed = make(chan struct{})
	r.setAdmin(true)

	r.wg.Add(2)
	go r.accept()
	go r.transmit()
	logger.Infof("opened TCP port %v (id=%v) on %v", r.name, r.id, ln.Addr())

	return nil
}

func (r *TCP) Close() error {
	r.setAdmin(false)

	r.connMutex.Lock()
	ln := r.listener
	conn := r.conn
	r.listener = nil
	r.conn = nil
	r.connMutex.Unlock()

	if ln == nil {
		return nil
	}
	close(r.closed)
	err := ln.Close()
	if conn != nil {
		conn.Close()
	}
	r.setLink(false)
	r.wg.Wait()
	r.drainTx()
	logger.Infof("closed TCP port %v (id=%v)", r.name, r.id)

	return errors.Wrap(err, "closing TCP listener")
}

func (r *TCP) drainTx() {
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

// accept attaches incoming connections one at a time. Attaching flips
// the link up; a replaced connection is closed.
func (r *TCP) accept() {
	defer r.wg.Done()

	for {
		r.connMutex.RLock()
		ln := r.listener
		r.connMutex.RUnlock()
		if ln == nil {
			return
		}

		conn, err := ln.Accept()
		select {
		case <-r.closed:
			if err == nil {
				conn.Close()
			}
			return
		default:
		}
		if err != nil {
			logger.Errorf("TCP port %v accept error: %v", r.name, err)
			continue
		}

		r.attach(conn)
		logger.Infof("TCP port %v attached to peer %v", r.name, conn.RemoteAddr())
	}
}

func (r *TCP) attach(conn net.Conn) {
	r.connMutex.Lock()
	old := r.conn
	r.conn = conn
	r.connMutex.Unlock()

	if old != nil {
		old.Close()
	}
	r.setLink(true)
}

// detach drops the current connection and flips the link down.
func (r *TCP) detach(conn net.Conn) {
	r.connMutex.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.connMutex.Unlock()

	conn.Close()
	r.setLink(false)
}

func (r *TCP) peer() net.Conn {
	r.connMutex.RLock()
	defer r.connMutex.RUnlock()

	return r.conn
}

func (r *TCP) Send(p Packet) error {
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

func (r *TCP) transmit() {
	defer r.wg.Done()

	for {
		select {
		case p := <-r.tx:
			conn := r.peer()
			if conn == nil {
				r.countTxDrop()
				p.Done()
				continue
			}
			if _, err := conn.Write(p.Data); err != nil {
				r.countTxDrop()
				logger.Debugf("TCP port %v transmit error: %v", r.name, err)
				r.detach(conn)
			} else {
				r.countTx(len(p.Data))
			}
			p.Done()
		case <-r.closed:
			return
		}
	}
}

// Recv reads one chunk of the peer stream into buf. Stream framing is
// the application's concern; the port treats whatever one read returns
// as a packet.
func (r *TCP) Recv(buf []byte) (int, error) {
	conn := r.peer()
	if conn == nil {
		time.Sleep(recvTimeout)
		return 0, errRecvTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(recvTimeout)); err != nil {
		return 0, errors.Wrap(err, "setting TCP read deadline")
	}
	n, err := conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			logger.Infof("TCP port %v peer disconnected", r.name)
			r.detach(conn)
			return 0, errRecvTimeout
		}
		return n, err
	}
	r.countRx(n)

	return n, nil
}
