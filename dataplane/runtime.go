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

import (
	"fmt"
	"sync"

	"github.com/flowgrammable/flowpath/port"

	"github.com/pkg/errors"
)

// Runtime owns the process-wide tables: loaded application libraries,
// dataplanes by name, and the port registry. It replaces what would
// otherwise be scattered package globals; everything that needs one
// receives a reference.
type Runtime struct {
	conf  Config
	ports *port.Table

	mutex      sync.Mutex
	libraries  map[string]Library
	dataplanes map[string]*Dataplane
}

// New builds an empty runtime with the given dataplane geometry.
func New(conf Config) (*Runtime, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &Runtime{
		conf:       conf,
		ports:      port.NewTable(conf.TxQueueLen),
		libraries:  make(map[string]Library),
		dataplanes: make(map[string]*Dataplane),
	}, nil
}

// Ports returns the global port table.
func (r *Runtime) Ports() *port.Table {
	return r.ports
}

// LoadApplication registers an application library under a name.
// Loading the same name twice fails.
func (r *Runtime) LoadApplication(name string, lib Library) error {
	if err := lib.validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.libraries[name]; ok {
		return errors.Wrap(ErrDuplicateName, fmt.Sprintf("application %v", name))
	}
	r.libraries[name] = lib
	logger.Debugf("loaded application library %v", name)

	return nil
}

// UnloadApplication removes a registered library. It fails while any
// dataplane still uses it.
func (r *Runtime) UnloadApplication(name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.libraries[name]; !ok {
		return errors.Wrap(ErrUnknown, fmt.Sprintf("application %v", name))
	}
	for _, dp := range r.dataplanes {
		if dp.app.Name() == name {
			return errors.Wrap(ErrBadState, fmt.Sprintf("application %v is bound to dataplane %v", name, dp.Name()))
		}
	}
	delete(r.libraries, name)

	return nil
}

// CreateDataplane builds a dataplane bound to the named application
// library. The name must be unused.
func (r *Runtime) CreateDataplane(name, appName string) (*Dataplane, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.dataplanes[name]; ok {
		return nil, errors.Wrap(ErrDuplicateName, fmt.Sprintf("dataplane %v", name))
	}
	lib, ok := r.libraries[appName]
	if !ok {
		return nil, errors.Wrap(ErrUnknown, fmt.Sprintf("application %v", appName))
	}
	app, err := NewApplication(appName, lib)
	if err != nil {
		return nil, err
	}
	dp := newDataplane(name, app, r.ports, r.conf)
	r.dataplanes[name] = dp
	logger.Infof("created dataplane %v with application %v", name, appName)

	return dp, nil
}

// DeleteDataplane stops and unloads the dataplane's application as far
// as its lifecycle state requires, then removes the dataplane.
func (r *Runtime) DeleteDataplane(name string) error {
	r.mutex.Lock()
	dp, ok := r.dataplanes[name]
	if !ok {
		r.mutex.Unlock()
		return errors.Wrap(ErrUnknown, fmt.Sprintf("dataplane %v", name))
	}
	delete(r.dataplanes, name)
	r.mutex.Unlock()

	if dp.app.State() == StateRunning {
		if err := dp.Stop(); err != nil {
			return err
		}
	}
	switch dp.app.State() {
	case StateReady, StateStopped:
		if err := dp.Unload(); err != nil {
			return err
		}
	}
	logger.Infof("deleted dataplane %v", name)

	return nil
}

// Dataplane returns the dataplane registered under name.
func (r *Runtime) Dataplane(name string) (*Dataplane, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	dp, ok := r.dataplanes[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknown, fmt.Sprintf("dataplane %v", name))
	}
	return dp, nil
}

// Dataplanes returns all registered dataplanes.
func (r *Runtime) Dataplanes() []*Dataplane {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make([]*Dataplane, 0, len(r.dataplanes))
	for _, dp := range r.dataplanes {
		out = append(out, dp)
	}
	return out
}

func (r *Runtime) String() string {
	var v string
	for _, dp := range r.Dataplanes() {
		v += dp.String()
	}
	return v
}
