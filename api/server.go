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

// Package api serves the read-only stats surface of a runtime: port
// counters, table counters, and dataplane status.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/flowgrammable/flowpath/dataplane"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/op/go-logging"
)

var (
	logger = logging.MustGetLogger("api")
)

type Server struct {
	Port uint16
	TLS  struct {
		Cert string // Path for a TLS certification file.
		Key  string // Path for a TLS private key file.
	}
	Runtime *dataplane.Runtime
}

type PortInfo struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	AdminUp bool   `json:"admin_up"`
	LinkUp  bool   `json:"link_up"`
	RxPkts  uint64 `json:"rx_pkts"`
	RxBytes uint64 `json:"rx_bytes"`
	RxDrops uint64 `json:"rx_drops"`
	TxPkts  uint64 `json:"tx_pkts"`
	TxBytes uint64 `json:"tx_bytes"`
	TxDrops uint64 `json:"tx_drops"`
}

type TableInfo struct {
	ID       int    `json:"id"`
	KeyWidth int    `json:"key_width"`
	Capacity int    `json:"capacity"`
	Active   int    `json:"active"`
	Lookups  uint64 `json:"lookups"`
	Matches  uint64 `json:"matches"`
}

type DataplaneInfo struct {
	Name        string      `json:"name"`
	Application string      `json:"application"`
	State       string      `json:"state"`
	LoopDrops   uint64      `json:"loop_drops"`
	FreeBuffers int         `json:"free_buffers"`
	Tables      []TableInfo `json:"tables"`
}

func (r *Server) validate() error {
	if r.Runtime == nil {
		return errors.New("nil runtime")
	}

	return nil
}

func (r *Server) Serve() error {
	if err := r.validate(); err != nil {
		return err
	}

	api := rest.NewApi()
	// Middleware to set the CORS header.
	api.Use(rest.MiddlewareSimple(func(handler rest.HandlerFunc) rest.HandlerFunc {
		return func(writer rest.ResponseWriter, request *rest.Request) {
			writer.Header().Set("Access-Control-Allow-Origin", "*")
			handler(writer, request)
		}
	}))
	router, err := rest.MakeRouter(
		rest.Get("/api/v1/ports", r.listPorts),
		rest.Get("/api/v1/dataplanes", r.listDataplanes),
		rest.Get("/api/v1/dataplanes/:name", r.showDataplane),
	)
	if err != nil {
		return err
	}
	api.SetApp(router)

	// Listen on all interfaces.
	addr := fmt.Sprintf(":%v", r.Port)
	if r.TLS.Cert != "" && r.TLS.Key != "" {
		err = http.ListenAndServeTLS(addr, r.TLS.Cert, r.TLS.Key, api.MakeHandler())
	} else {
		err = http.ListenAndServe(addr, api.MakeHandler())
	}

	return err
}

func (r *Server) listPorts(w rest.ResponseWriter, req *rest.Request) {
	out := make([]PortInfo, 0)
	for _, p := range r.Runtime.Ports().Ports() {
		s := p.State()
		c := p.Stats()
		out = append(out, PortInfo{
			ID:      p.ID(),
			Name:    p.Name(),
			Type:    p.Type().String(),
			AdminUp: s.AdminUp,
			LinkUp:  s.LinkUp,
			RxPkts:  c.RxPackets,
			RxBytes: c.RxBytes,
			RxDrops: c.RxDrops,
			TxPkts:  c.TxPackets,
			TxBytes: c.TxBytes,
			TxDrops: c.TxDrops,
		})
	}
	w.WriteJson(Response{Status: StatusOkay, Data: out})
}

func dataplaneInfo(dp *dataplane.Dataplane) DataplaneInfo {
	tables := make([]TableInfo, 0)
	for _, t := range dp.Tables() {
		s := t.Stats()
		tables = append(tables, TableInfo{
			ID:       t.ID(),
			KeyWidth: t.KeyWidth(),
			Capacity: t.Capacity(),
			Active:   s.Active,
			Lookups:  s.Lookups,
			Matches:  s.Matches,
		})
	}

	return DataplaneInfo{
		Name:        dp.Name(),
		Application: dp.Application().Name(),
		State:       dp.Application().State().String(),
		LoopDrops:   dp.LoopDrops(),
		FreeBuffers: dp.Pool().FreeCount(),
		Tables:      tables,
	}
}

func (r *Server) listDataplanes(w rest.ResponseWriter, req *rest.Request) {
	out := make([]DataplaneInfo, 0)
	for _, dp := range r.Runtime.Dataplanes() {
		out = append(out, dataplaneInfo(dp))
	}
	w.WriteJson(Response{Status: StatusOkay, Data: out})
}

func (r *Server) showDataplane(w rest.ResponseWriter, req *rest.Request) {
	name := req.PathParam("name")
	dp, err := r.Runtime.Dataplane(name)
	if err != nil {
		logger.Debugf("unknown dataplane requested: %v", name)
		w.WriteJson(Response{Status: StatusNotFound, Message: fmt.Sprintf("unknown dataplane: %v", name)})
		return
	}
	w.WriteJson(Response{Status: StatusOkay, Data: dataplaneInfo(dp)})
}
