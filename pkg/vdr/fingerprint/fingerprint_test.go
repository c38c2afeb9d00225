/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fingerprint

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDIDKeyRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	didKey, keyID := CreateDIDKey(pub)
	require.True(t, strings.HasPrefix(didKey, "did:key:z6Mk"))
	require.True(t, strings.HasPrefix(keyID, didKey+"#"))

	methodID := strings.TrimPrefix(didKey, "did:key:")

	raw, code, err := PubKeyFromFingerprint(methodID)
	require.NoError(t, err)
	require.EqualValues(t, ED25519PubKeyMultiCodec, code)
	require.Equal(t, []byte(pub), raw)
}

func TestX25519Fingerprint(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	didKey, _ := CreateDIDKeyX25519(key)
	require.True(t, strings.HasPrefix(didKey, "did:key:z6LS"))

	raw, code, err := PubKeyFromFingerprint(strings.TrimPrefix(didKey, "did:key:"))
	require.NoError(t, err)
	require.EqualValues(t, X25519PubKeyMultiCodec, code)
	require.Equal(t, key, raw)
}

func TestPublicEd25519toCurve25519(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	curvePub, err := PublicEd25519toCurve25519(pub)
	require.NoError(t, err)
	require.Len(t, curvePub, 32)

	_, err = PublicEd25519toCurve25519([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestPubKeyFromFingerprintErrors(t *testing.T) {
	_, _, err := PubKeyFromFingerprint("not-multibase")
	require.Error(t, err)

	_, _, err = PubKeyFromFingerprint("uABCD")
	require.Error(t, err)
}
