/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sqlite provides a storage provider persisted in a single SQLite
// database file (pure-Go driver). Each named store maps to one table.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
)

var validStoreName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Provider is a SQLite-backed implementation of storage.Provider.
type Provider struct {
	db     *sql.DB
	stores map[string]*store
	lock   sync.Mutex
}

// NewProvider opens (creating if needed) the database at path.
func NewProvider(path string) (*Provider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite provider: open %s: %w", path, err)
	}

	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent store mutations.
	db.SetMaxOpenConns(1)

	return &Provider{db: db, stores: map[string]*store{}}, nil
}

// OpenStore opens a named store, creating its table if absent.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	name = strings.ToLower(name)
	if !validStoreName.MatchString(name) {
		return nil, fmt.Errorf("sqlite provider: invalid store name %q", name)
	}

	if s, ok := p.stores[name]; ok {
		return s, nil
	}

	_, err := p.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v BLOB NOT NULL)`, name))
	if err != nil {
		return nil, fmt.Errorf("sqlite provider: create table %s: %w", name, err)
	}

	s := &store{db: p.db, table: name}
	p.stores[name] = s

	return s, nil
}

// Close closes the underlying database.
func (p *Provider) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.stores = map[string]*store{}

	return p.db.Close()
}

type store struct {
	db    *sql.DB
	table string
}

// isBusy reports whether the error is file-lock contention, the only sqlite
// failure worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs op, retrying briefly on lock contention. Contention that
// outlives the retry budget is reported as storage.ErrTransient.
func withRetry(op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(25*time.Millisecond), 4)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil || isBusy(err) {
			return err
		}

		return backoff.Permanent(err)
	}, policy)

	if isBusy(err) {
		return fmt.Errorf("%w: %v", storage.ErrTransient, err)
	}

	return err
}

func (s *store) Put(key string, value []byte) error {
	err := withRetry(func() error {
		_, err := s.db.Exec(fmt.Sprintf(
			`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, s.table),
			key, value)

		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite store %s: put: %w", s.table, err)
	}

	return nil
}

func (s *store) Get(key string) ([]byte, error) {
	var v []byte

	err := withRetry(func() error {
		return s.db.QueryRow(fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, s.table), key).Scan(&v)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDataNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("sqlite store %s: get: %w", s.table, err)
	}

	return v, nil
}

func (s *store) Delete(key string) error {
	err := withRetry(func() error {
		_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, s.table), key)
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite store %s: delete: %w", s.table, err)
	}

	return nil
}

func (s *store) Keys(prefix string) ([]string, error) {
	var keys []string

	err := withRetry(func() error {
		rows, err := s.db.Query(fmt.Sprintf(`SELECT k FROM %s WHERE k LIKE ? ESCAPE '\'`, s.table),
			escapeLike(prefix)+"%")
		if err != nil {
			return err
		}

		defer rows.Close() //nolint:errcheck

		keys = keys[:0]

		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return err
			}

			keys = append(keys, k)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store %s: keys: %w", s.table, err)
	}

	return keys, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
