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

// Key is a fixed-width byte sequence used for exact-match lookup. A key
// is always an owned copy, never a view into packet memory, so a flow
// keyed by one packet may outlive it.
type Key string

// KeyOf copies raw bytes into a key of exactly width bytes.
func KeyOf(b []byte, width int) (Key, error) {
	if len(b) != width {
		return "", ErrKeyShapeMismatch
	}
	return Key(b), nil
}

// Gather builds a key of exactly width bytes by concatenating, in the
// given order, the current values of the bound fields.
func Gather(ctx *Context, width int, fieldIDs []int) (Key, error) {
	buf := make([]byte, 0, width)
	for _, id := range fieldIDs {
		b, err := ctx.FieldBinding(id)
		if err != nil {
			return "", err
		}
		v, err := ctx.Field(b)
		if err != nil {
			return "", err
		}
		if len(buf)+len(v) > width {
			return "", ErrKeyShapeMismatch
		}
		buf = append(buf, v...)
	}
	if len(buf) != width {
		return "", ErrKeyShapeMismatch
	}
	return Key(buf), nil
}
