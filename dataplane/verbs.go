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

// The runtime verbs: the contract application routines program against.
// Thin typed wrappers over the context, table, and dataplane surfaces
// so an application reads like the pipeline it installs.

import (
	"github.com/flowgrammable/flowpath/pipeline"
	"github.com/flowgrammable/flowpath/port"
)

// Drop marks the packet to be discarded.
func Drop(ctx *pipeline.Context) {
	ctx.SetDrop()
}

// Flood marks the packet for replication to every up port except its
// ingress.
func Flood(ctx *pipeline.Context) {
	ctx.SetFlood()
}

// Apply executes an action against the context immediately.
func Apply(ctx *pipeline.Context, a pipeline.Action) error {
	return ctx.ApplyAction(a)
}

// Write appends an action to the context's action list for execution at
// commit time.
func Write(ctx *pipeline.Context, a pipeline.Action) {
	ctx.WriteAction(a)
}

// Clear empties the context's action list.
func Clear(ctx *pipeline.Context) {
	ctx.ClearActions()
}

// GotoTable gathers a key from the named bound fields and dispatches
// the context into the table.
func GotoTable(ctx *pipeline.Context, tbl *pipeline.Table, fieldIDs ...int) error {
	return pipeline.GotoTable(ctx, tbl, fieldIDs...)
}

// GetPort resolves a port by name in the dataplane's registry.
func GetPort(dp *Dataplane, name string) (port.Port, error) {
	return dp.registry.FindName(name)
}

// Output selects the given port for egress.
func Output(ctx *pipeline.Context, p port.Port) {
	ctx.SetOutput(p.ID())
}

// CreateTable registers a new flow table on the dataplane.
func CreateTable(dp *Dataplane, id, size, keyWidth int, typ pipeline.TableType) (*pipeline.Table, error) {
	return dp.CreateTable(id, size, keyWidth, typ)
}

// AddFlow installs a flow under the given raw key bytes.
func AddFlow(tbl *pipeline.Table, key []byte, fn pipeline.Routine) error {
	k, err := pipeline.KeyOf(key, tbl.KeyWidth())
	if err != nil {
		return err
	}
	return tbl.Insert(k, pipeline.NewFlow(fn))
}

// AddMiss installs the table's miss flow.
func AddMiss(tbl *pipeline.Table, fn pipeline.Routine) {
	tbl.InsertMiss(pipeline.NewFlow(fn))
}

// DelFlow removes the flow under the given raw key bytes.
func DelFlow(tbl *pipeline.Table, key []byte) error {
	k, err := pipeline.KeyOf(key, tbl.KeyWidth())
	if err != nil {
		return err
	}
	tbl.Erase(k)
	return nil
}

// AdvanceHeader moves the context's header base n bytes forward.
func AdvanceHeader(ctx *pipeline.Context, n uint16) error {
	return ctx.Advance(n)
}

// BindHeader records the current header base under id.
func BindHeader(ctx *pipeline.Context, id int) {
	ctx.BindHeader(id)
}

// BindField binds a field id to offset bytes past the current header
// base and returns a mutable view of the bound bytes.
func BindField(ctx *pipeline.Context, id int, offset, length uint16) ([]byte, error) {
	if err := ctx.BindField(id, offset, length); err != nil {
		return nil, err
	}
	b, err := ctx.FieldBinding(id)
	if err != nil {
		return nil, err
	}
	return ctx.Field(b)
}
