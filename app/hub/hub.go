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

// Package hub is the simplest possible application: every packet is
// flooded to every other port.
package hub

import (
	"github.com/flowgrammable/flowpath/dataplane"
	"github.com/flowgrammable/flowpath/pipeline"

	"github.com/op/go-logging"
)

var (
	logger = logging.MustGetLogger("hub")
)

// Library returns the hub application bundle.
func Library() dataplane.Library {
	return dataplane.Library{
		Load: func(dp *dataplane.Dataplane) error {
			logger.Debugf("hub loaded on dataplane %v", dp.Name())
			return nil
		},
		Unload: func(dp *dataplane.Dataplane) error {
			return nil
		},
		Start: func(dp *dataplane.Dataplane) error {
			logger.Infof("hub started on dataplane %v", dp.Name())
			return nil
		},
		Stop: func(dp *dataplane.Dataplane) error {
			return nil
		},
		Process: func(ctx *pipeline.Context) error {
			dataplane.Flood(ctx)
			return nil
		},
	}
}
