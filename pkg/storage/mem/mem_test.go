/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
)

func TestPutGetDelete(t *testing.T) {
	p := NewProvider()

	s, err := p.OpenStore("Mailbox")
	require.NoError(t, err)

	_, err = s.Get("missing")
	require.ErrorIs(t, err, storage.ErrDataNotFound)

	require.NoError(t, s.Put("a", []byte("one")))

	v, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	require.NoError(t, s.Delete("a"))
	_, err = s.Get("a")
	require.ErrorIs(t, err, storage.ErrDataNotFound)
}

func TestStoreNameCaseInsensitive(t *testing.T) {
	p := NewProvider()

	s1, err := p.OpenStore("connections")
	require.NoError(t, err)
	require.NoError(t, s1.Put("k", []byte("v")))

	s2, err := p.OpenStore("Connections")
	require.NoError(t, err)

	v, err := s2.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestKeysPrefix(t *testing.T) {
	p := NewProvider()

	s, err := p.OpenStore("idx")
	require.NoError(t, err)

	require.NoError(t, s.Put("conn_a", []byte("1")))
	require.NoError(t, s.Put("conn_b", []byte("2")))
	require.NoError(t, s.Put("other", []byte("3")))

	keys, err := s.Keys("conn_")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"conn_a", "conn_b"}, keys)
}

func TestClosedProvider(t *testing.T) {
	p := NewProvider()
	require.NoError(t, p.Close())

	_, err := p.OpenStore("x")
	require.ErrorIs(t, err, storage.ErrStoreClosed)
}
