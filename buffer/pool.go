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

package buffer

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/flowgrammable/flowpath/pipeline"
)

var (
	ErrExhausted = errors.New("buffer pool is exhausted")
)

// Buffer is one pre-constructed packet buffer: a pool index, the byte
// store, and the context for the packet occupying it. While in flight a
// buffer is exclusively owned by the worker processing it.
type Buffer struct {
	id   int
	data []byte
	ctx  pipeline.Context
}

func (r *Buffer) ID() int {
	return r.id
}

// Data returns the full backing store, sized for the largest packet the
// pool was configured for.
func (r *Buffer) Data() []byte {
	return r.data
}

func (r *Buffer) Context() *pipeline.Context {
	return &r.ctx
}

// intHeap is the free list, a min-heap of buffer indices.
type intHeap []int

func (h intHeap) Len() int            { return len(h) }
func (h intHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Pool is a fixed-capacity store of packet buffers. Alloc hands out the
// lowest free index; there is no allocation of packet memory after the
// pool is built.
type Pool struct {
	mutex   sync.Mutex
	buffers []*Buffer
	free    intHeap
	inUse   []bool
}

// New builds a pool of count buffers, each with capacity bytes of
// packet store and metaSize bytes of context scratch, all bound to the
// given dataplane.
func New(dp pipeline.Dataplane, count, capacity, metaSize int) *Pool {
	if count <= 0 || capacity <= 0 || metaSize < 0 {
		panic(fmt.Sprintf("invalid pool geometry: count=%v, capacity=%v, metaSize=%v", count, capacity, metaSize))
	}

	p := &Pool{
		buffers: make([]*Buffer, count),
		free:    make(intHeap, count),
		inUse:   make([]bool, count),
	}
	for i := 0; i < count; i++ {
		data := make([]byte, capacity)
		p.buffers[i] = &Buffer{
			id:   i,
			data: data,
			ctx:  pipeline.NewContext(dp, data, make([]byte, metaSize)),
		}
		p.free[i] = i
	}
	heap.Init(&p.free)

	return p
}

// Alloc returns the buffer at the lowest free index. It fails with
// ErrExhausted when the pool is empty; the caller must drop the packet
// rather than block.
func (r *Pool) Alloc() (*Buffer, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.free.Len() == 0 {
		return nil, ErrExhausted
	}
	id := heap.Pop(&r.free).(int)
	r.inUse[id] = true

	return r.buffers[id], nil
}

// Dealloc returns the index to the free list. Deallocating an index
// that is not currently allocated is a programmer error.
func (r *Pool) Dealloc(id int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if id < 0 || id >= len(r.buffers) {
		panic(fmt.Sprintf("dealloc of invalid buffer index %v", id))
	}
	if !r.inUse[id] {
		panic(fmt.Sprintf("dealloc of free buffer index %v", id))
	}
	r.inUse[id] = false
	heap.Push(&r.free, id)
}

// Buffer returns the buffer at the given index.
func (r *Pool) Buffer(id int) *Buffer {
	return r.buffers[id]
}

func (r *Pool) Capacity() int {
	return len(r.buffers)
}

// FreeCount returns the number of buffers currently on the free list.
func (r *Pool) FreeCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.free.Len()
}
