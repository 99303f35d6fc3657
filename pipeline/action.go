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

package pipeline

// Action is one element of the closed set of packet actions. Applying
// an action mutates the context; writing one appends it to the context's
// action list for execution at commit time.
//
//	action ::= getfield <field>
//	           setfield <field> <value>
//	           copyfield <field> <offset>
//	           output <port>
//	           queue <queue>
//	           group <group>
//	           drop
type Action interface {
	isAction()
}

// GetField validates that the field is addressable. The value itself is
// read through Context.Field.
type GetField struct {
	Field Field
}

// SetField copies Value into the bytes the field refers to. The value
// length must equal the field length.
type SetField struct {
	Field Field
	Value []byte
}

// CopyField copies the field's bytes to Offset in the other address
// space. Both ends must be in bounds.
type CopyField struct {
	Field  Field
	Offset uint16
}

// Output selects the given port for egress.
type Output struct {
	Port uint32
}

// Queue names the transmit queue for the packet.
type Queue struct {
	Queue uint32
}

// Group is reserved. The group id is recorded on the context and
// otherwise unused.
type Group struct {
	Group uint32
}

// Drop marks the packet to be discarded.
type Drop struct{}

func (GetField) isAction()  {}
func (SetField) isAction()  {}
func (CopyField) isAction() {}
func (Output) isAction()    {}
func (Queue) isAction()     {}
func (Group) isAction()     {}
func (Drop) isAction()      {}

// ApplyAction executes a single action against the context.
func (r *Context) ApplyAction(a Action) error {
	switch v := a.(type) {
	case GetField:
		_, err := r.resolve(v.Field)
		return err
	case SetField:
		dst, err := r.resolve(v.Field)
		if err != nil {
			return err
		}
		if len(v.Value) != int(v.Field.Length) {
			return ErrOutOfBounds
		}
		copy(dst, v.Value)
		return nil
	case CopyField:
		src, err := r.resolve(v.Field)
		if err != nil {
			return err
		}
		dst, err := r.resolve(Field{
			Space:  r.other(v.Field.Space),
			Offset: v.Offset,
			Length: v.Field.Length,
		})
		if err != nil {
			return err
		}
		copy(dst, src)
		return nil
	case Output:
		r.SetOutput(v.Port)
		return nil
	case Queue:
		r.queueID = v.Queue
		return nil
	case Group:
		r.groupID = v.Group
		return nil
	case Drop:
		r.SetDrop()
		return nil
	default:
		panic("unexpected action type")
	}
}

// WriteAction appends the action to the context's action list.
func (r *Context) WriteAction(a Action) {
	r.actions = append(r.actions, a)
}

// ClearActions empties the action list.
func (r *Context) ClearActions() {
	r.actions = r.actions[:0]
}

// Actions returns the accumulated action list in insertion order.
func (r *Context) Actions() []Action {
	return r.actions
}
