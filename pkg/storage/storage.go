/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package storage defines the key/value storage contract shared by the
// mediator's stores. Backends must be safe for concurrent use.
package storage

import "errors"

// ErrDataNotFound is returned when a key has no value in the store.
var ErrDataNotFound = errors.New("data not found")

// ErrStoreClosed is returned on use of a store whose provider was closed.
var ErrStoreClosed = errors.New("store closed")

// ErrTransient marks a backend failure that may clear on retry, such as a
// contended database file. Backends return it only after exhausting their
// own retry budget.
var ErrTransient = errors.New("transient storage failure")

// Provider opens named stores.
type Provider interface {
	// OpenStore opens (or returns a cached) store with the given name.
	// Store names are case-insensitive.
	OpenStore(name string) (Store, error)

	// Close releases all stores opened by this provider.
	Close() error
}

// Store is a flat key/value namespace.
type Store interface {
	// Put stores value under key, overwriting any prior value.
	Put(key string, value []byte) error

	// Get returns the value for key, or ErrDataNotFound.
	Get(key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns all keys with the given prefix, in unspecified order.
	Keys(prefix string) ([]string, error)
}
