/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package secrets

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/crypto"
	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage/mem"
)

func newEdJWK(t *testing.T) (*jwk.JWK, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &jwk.JWK{
		Kty: jwk.KtyOKP,
		Crv: jwk.CrvEd25519,
		X:   base64.RawURLEncoding.EncodeToString(pub),
		D:   base64.RawURLEncoding.EncodeToString(priv.Seed()),
	}, pub
}

func TestImportAndFind(t *testing.T) {
	st, err := NewStore(mem.NewProvider())
	require.NoError(t, err)

	key, pub := newEdJWK(t)
	require.NoError(t, st.Import("did:peer:2abc#key-1", key))

	sec, err := st.FindSecret(context.Background(), "did:peer:2abc#key-1")
	require.NoError(t, err)
	require.Equal(t, "did:peer:2abc#key-1", sec.KeyID())
	require.Equal(t, jwk.CrvEd25519, sec.Curve())

	sig, err := sec.SignEdDSA([]byte("data"))
	require.NoError(t, err)
	require.True(t, ed25519.Verify(pub, []byte("data"), sig))

	_, err = st.FindSecret(context.Background(), "did:peer:2abc#missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindSecretsFilters(t *testing.T) {
	st, err := NewStore(mem.NewProvider())
	require.NoError(t, err)

	key, _ := newEdJWK(t)
	require.NoError(t, st.Import("kid-1", key))

	found, err := st.FindSecrets(context.Background(), []string{"kid-0", "kid-1", "kid-2"})
	require.NoError(t, err)
	require.Equal(t, []string{"kid-1"}, found)
}

func TestDeriveECDH(t *testing.T) {
	pubA, privA, err := crypto.GenerateX25519()
	require.NoError(t, err)

	pubB, privB, err := crypto.GenerateX25519()
	require.NoError(t, err)

	sec, err := NewSecret("kid-x", jwk.CrvX25519, privA, pubA)
	require.NoError(t, err)

	z, err := sec.DeriveECDH(pubB)
	require.NoError(t, err)

	want, err := crypto.SharedSecret(privB, pubA)
	require.NoError(t, err)
	require.Equal(t, want, z)

	// signing with a key-agreement key is rejected
	_, err = sec.SignEdDSA([]byte("x"))
	require.Error(t, err)
}

func TestImportRequiresPrivate(t *testing.T) {
	st, err := NewStore(mem.NewProvider())
	require.NoError(t, err)

	err = st.Import("kid", &jwk.JWK{Kty: jwk.KtyOKP, Crv: jwk.CrvEd25519, X: "AA"})
	require.Error(t, err)
}
