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

	"github.com/flowgrammable/flowpath/pipeline"
)

// State is the application lifecycle state.
type State int

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateStopped
)

func (r State) String() string {
	switch r {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Library is the bundle of routines an application exposes. Dynamic
// loading is out of scope; libraries are produced by registered
// in-process constructors and hold the same five entry points the
// loader would have resolved.
type Library struct {
	Load    func(*Dataplane) error
	Unload  func(*Dataplane) error
	Start   func(*Dataplane) error
	Stop    func(*Dataplane) error
	Process func(*pipeline.Context) error
}

func (r Library) validate() error {
	if r.Load == nil || r.Unload == nil || r.Start == nil || r.Stop == nil || r.Process == nil {
		return fmt.Errorf("library is missing one of the five entry points")
	}
	return nil
}

// AppFault reports that an application routine failed.
type AppFault struct {
	App  string
	Hook string
	Err  error
}

func (r *AppFault) Error() string {
	return fmt.Sprintf("application %v fault in %v: %v", r.App, r.Hook, r.Err)
}

func (r *AppFault) Cause() error {
	return r.Err
}

func (r *AppFault) Unwrap() error {
	return r.Err
}

// Application binds a library to a lifecycle:
// INIT -load-> READY -start-> RUNNING -stop-> STOPPED -unload-> INIT.
type Application struct {
	mutex sync.Mutex
	name  string
	lib   Library
	state State
}

// NewApplication wraps a validated library.
func NewApplication(name string, lib Library) (*Application, error) {
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return &Application{name: name, lib: lib, state: StateInit}, nil
}

func (r *Application) Name() string {
	return r.name
}

func (r *Application) State() State {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.state
}

func (r *Application) fault(hook string, err error) error {
	return &AppFault{App: r.name, Hook: hook, Err: err}
}

// Load runs the library's load hook. On failure the application stays
// in INIT.
func (r *Application) Load(dp *Dataplane) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state != StateInit {
		return badState("load", r.state)
	}
	if err := r.lib.Load(dp); err != nil {
		return r.fault("load", err)
	}
	r.state = StateReady

	return nil
}

// Start runs the library's start hook. On failure the application stays
// in READY so that a following Stop is a no-op.
func (r *Application) Start(dp *Dataplane) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state != StateReady {
		return badState("start", r.state)
	}
	if err := r.lib.Start(dp); err != nil {
		return r.fault("start", err)
	}
	r.state = StateRunning

	return nil
}

// Stop runs the library's stop hook. Stopping an application that never
// started (a failed or skipped start) is a no-op.
func (r *Application) Stop(dp *Dataplane) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch r.state {
	case StateRunning:
	case StateReady:
		return nil
	default:
		return badState("stop", r.state)
	}
	if err := r.lib.Stop(dp); err != nil {
		return r.fault("stop", err)
	}
	r.state = StateStopped

	return nil
}

// Unload runs the library's unload hook. An application that was loaded
// but never started may be unloaded directly from READY.
func (r *Application) Unload(dp *Dataplane) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.state != StateStopped && r.state != StateReady {
		return badState("unload", r.state)
	}
	if err := r.lib.Unload(dp); err != nil {
		return r.fault("unload", err)
	}
	r.state = StateInit

	return nil
}

// Process invokes the per-packet entry point. It runs on the port
// worker threads with no serialization across packets; flow tables are
// the only shared mutable state the application may rely on.
func (r *Application) Process(ctx *pipeline.Context) error {
	return r.lib.Process(ctx)
}
