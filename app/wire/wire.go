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

// Package wire is a two-port patch panel: whatever arrives on one port
// leaves on the other, through the written action list.
package wire

import (
	"fmt"

	"github.com/flowgrammable/flowpath/dataplane"
	"github.com/flowgrammable/flowpath/pipeline"
	"github.com/flowgrammable/flowpath/port"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var (
	logger = logging.MustGetLogger("wire")
)

type wire struct {
	aName, bName string
	a, b         port.Port
}

// Library returns a wire application bundle patching the two named
// ports together.
func Library(a, b string) dataplane.Library {
	w := &wire{aName: a, bName: b}
	return dataplane.Library{
		Load:    w.load,
		Unload:  w.unload,
		Start:   w.start,
		Stop:    w.stop,
		Process: w.process,
	}
}

func (r *wire) load(dp *dataplane.Dataplane) error {
	var err error
	if r.a, err = dataplane.GetPort(dp, r.aName); err != nil {
		return errors.Wrap(err, fmt.Sprintf("resolving wire endpoint %v", r.aName))
	}
	if r.b, err = dataplane.GetPort(dp, r.bName); err != nil {
		return errors.Wrap(err, fmt.Sprintf("resolving wire endpoint %v", r.bName))
	}
	logger.Debugf("wire loaded: %v <-> %v", r.aName, r.bName)

	return nil
}

func (r *wire) unload(dp *dataplane.Dataplane) error {
	return nil
}

func (r *wire) start(dp *dataplane.Dataplane) error {
	logger.Infof("wire started: %v <-> %v", r.aName, r.bName)
	return nil
}

func (r *wire) stop(dp *dataplane.Dataplane) error {
	return nil
}

func (r *wire) process(ctx *pipeline.Context) error {
	var out port.Port
	switch ctx.Ingress() {
	case r.a.ID():
		out = r.b
	case r.b.ID():
		out = r.a
	default:
		// Not one of our endpoints.
		dataplane.Drop(ctx)
		return nil
	}
	dataplane.Write(ctx, pipeline.Output{Port: out.ID()})

	return nil
}
