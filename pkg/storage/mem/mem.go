/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mem provides an in-memory storage provider, suitable for tests and
// single-process deployments without durability requirements.
package mem

import (
	"strings"
	"sync"

	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
)

// Provider is an in-memory implementation of storage.Provider.
type Provider struct {
	stores map[string]*store
	lock   sync.Mutex
	closed bool
}

// NewProvider returns a new in-memory Provider.
func NewProvider() *Provider {
	return &Provider{stores: map[string]*store{}}
}

// OpenStore opens a named in-memory store, creating it if absent.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return nil, storage.ErrStoreClosed
	}

	name = strings.ToLower(name)

	s, ok := p.stores[name]
	if !ok {
		s = &store{values: map[string][]byte{}}
		p.stores[name] = s
	}

	return s, nil
}

// Close drops all stores.
func (p *Provider) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.stores = map[string]*store{}
	p.closed = true

	return nil
}

type store struct {
	values map[string][]byte
	lock   sync.RWMutex
}

func (s *store) Put(key string, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.values[key] = cp

	return nil
}

func (s *store) Get(key string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrDataNotFound
	}

	cp := make([]byte, len(v))
	copy(cp, v)

	return cp, nil
}

func (s *store) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.values, key)

	return nil
}

func (s *store) Keys(prefix string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var keys []string

	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	return keys, nil
}
