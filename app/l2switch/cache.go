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

package l2switch

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const cacheExpiration = 5 * time.Second

// flowCache suppresses repeated installs of the same MAC-to-port flow.
// Flows are re-installed once the cache entry expires, which also
// refreshes a station that moved between ports.
type flowCache struct {
	cache *lru.Cache
}

func newFlowCache() *flowCache {
	c, err := lru.New(8192)
	if err != nil {
		panic(fmt.Sprintf("failed to init the LRU flow cache: %v", err))
	}

	return &flowCache{cache: c}
}

func (r *flowCache) key(mac []byte, port uint32) string {
	return fmt.Sprintf("%v/%v", fmtMAC(mac), port)
}

func (r *flowCache) exist(mac []byte, port uint32) bool {
	v, ok := r.cache.Get(r.key(mac, port))
	if !ok {
		return false
	}
	// Timeout?
	if time.Since(v.(time.Time)) > cacheExpiration {
		return false
	}

	return true
}

func (r *flowCache) add(mac []byte, port uint32) {
	// Update if the key already exists.
	r.cache.Add(r.key(mac, port), time.Now())
}

func (r *flowCache) purge() {
	r.cache.Purge()
}
