/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package kmutex provides named mutexes so independent keys never contend.
package kmutex

import "sync"

// Kmutex hands out one mutex per key.
type Kmutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Kmutex.
func New() *Kmutex {
	return &Kmutex{locks: map[string]*entry{}}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *Kmutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]

	if !ok {
		e = &entry{}
		k.locks[key] = e
	}

	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key and frees it once unreferenced.
func (k *Kmutex) Unlock(key string) {
	k.mu.Lock()

	e, ok := k.locks[key]
	if ok {
		e.refs--

		if e.refs == 0 {
			delete(k.locks, key)
		}
	}

	k.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
