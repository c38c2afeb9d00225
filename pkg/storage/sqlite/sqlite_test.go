/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
)

func newProvider(t *testing.T) (*Provider, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	p, err := NewProvider(path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() }) //nolint:errcheck

	return p, path
}

func TestPutGetDelete(t *testing.T) {
	p, _ := newProvider(t)

	s, err := p.OpenStore("things")
	require.NoError(t, err)

	require.NoError(t, s.Put("a", []byte("one")))
	require.NoError(t, s.Put("a", []byte("two")))

	v, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), v)

	require.NoError(t, s.Delete("a"))

	_, err = s.Get("a")
	require.ErrorIs(t, err, storage.ErrDataNotFound)

	// deleting a missing key is not an error
	require.NoError(t, s.Delete("a"))
}

func TestKeysByPrefix(t *testing.T) {
	p, _ := newProvider(t)

	s, err := p.OpenStore("things")
	require.NoError(t, err)

	require.NoError(t, s.Put("inbox_alice", []byte("1")))
	require.NoError(t, s.Put("inbox_bob", []byte("2")))
	require.NoError(t, s.Put("other", []byte("3")))

	keys, err := s.Keys("inbox_")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"inbox_alice", "inbox_bob"}, keys)

	// LIKE wildcards in the prefix are literal
	keys, err = s.Keys("inbox%")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestStoresAreIsolated(t *testing.T) {
	p, _ := newProvider(t)

	a, err := p.OpenStore("alpha")
	require.NoError(t, err)

	b, err := p.OpenStore("beta")
	require.NoError(t, err)

	require.NoError(t, a.Put("k", []byte("v")))

	_, err = b.Get("k")
	require.ErrorIs(t, err, storage.ErrDataNotFound)
}

func TestBusyErrorsRetryThenReportTransient(t *testing.T) {
	calls := 0

	err := withRetry(func() error {
		calls++
		return errors.New("database is locked (5) (SQLITE_BUSY)")
	})
	require.ErrorIs(t, err, storage.ErrTransient)
	require.Equal(t, 5, calls, "busy errors retry before giving up")

	err = withRetry(func() error {
		return errors.New("no such table: things")
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, storage.ErrTransient)

	require.NoError(t, withRetry(func() error { return nil }))
}

func TestRejectsBadStoreName(t *testing.T) {
	p, _ := newProvider(t)

	_, err := p.OpenStore("no;drop")
	require.Error(t, err)
}

func TestDataSurvivesReopen(t *testing.T) {
	p, path := newProvider(t)

	s, err := p.OpenStore("things")
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, p.Close())

	p2, err := NewProvider(path)
	require.NoError(t, err)

	defer p2.Close() //nolint:errcheck

	s2, err := p2.OpenStore("things")
	require.NoError(t, err)

	v, err := s2.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
