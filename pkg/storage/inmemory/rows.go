// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

type rows[T any] interface {
	get(key int64) (T, bool)
	each(fn func(T))
}

type committedRows[T any] map[int64]T

func (r committedRows[T]) get(key int64) (T, bool) {
	v, ok := r[key]
	return v, ok
}

func (r committedRows[T]) each(fn func(T)) {
	for _, v := range r {
		fn(v)
	}
}

// overlayRows holds the uncommitted writes and deletes of a transaction on top of the committed rows.
type overlayRows[T any] struct {
	base    map[int64]T
	written map[int64]T
	deleted map[int64]struct{}
}

func newOverlay[T any](base map[int64]T) *overlayRows[T] {
	return &overlayRows[T]{
		base:    base,
		written: map[int64]T{},
		deleted: map[int64]struct{}{},
	}
}

func (o *overlayRows[T]) get(key int64) (T, bool) {
	if _, ok := o.deleted[key]; ok {
		var zero T
		return zero, false
	}
	if v, ok := o.written[key]; ok {
		return v, true
	}
	v, ok := o.base[key]
	return v, ok
}

func (o *overlayRows[T]) each(fn func(T)) {
	for key, v := range o.base {
		if _, ok := o.deleted[key]; ok {
			continue
		}
		if _, ok := o.written[key]; ok {
			continue
		}
		fn(v)
	}
	for _, v := range o.written {
		fn(v)
	}
}

func (o *overlayRows[T]) put(key int64, v T) {
	delete(o.deleted, key)
	o.written[key] = v
}

func (o *overlayRows[T]) remove(key int64) {
	delete(o.written, key)
	o.deleted[key] = struct{}{}
}

func (o *overlayRows[T]) apply() {
	for key := range o.deleted {
		delete(o.base, key)
	}
	for key, v := range o.written {
		o.base[key] = v
	}
}
