/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestA256CBCHS512RoundTrip(t *testing.T) {
	cek, err := GenerateCEK()
	require.NoError(t, err)
	require.Len(t, cek, A256CBCHS512KeySize)

	aad := []byte("protected-header")
	pt := []byte(`{"hello":"world"}`)

	iv, ct, tag, err := EncryptA256CBCHS512(cek, pt, aad)
	require.NoError(t, err)
	require.Len(t, iv, 16)
	require.Len(t, tag, 32)
	require.Zero(t, len(ct)%16, "CBC ciphertext must be block aligned")

	out, err := DecryptA256CBCHS512(cek, iv, ct, tag, aad)
	require.NoError(t, err)
	require.Equal(t, pt, out)
}

func TestA256CBCHS512RejectsOversizedTag(t *testing.T) {
	cek, err := GenerateCEK()
	require.NoError(t, err)

	iv, ct, tag, err := EncryptA256CBCHS512(cek, []byte("payload"), []byte("aad"))
	require.NoError(t, err)

	// a tag carrying trailing ciphertext is not a valid A256CBC-HS512 tag
	_, err = DecryptA256CBCHS512(cek, iv, ct[:len(ct)-16], append(ct[len(ct)-16:], tag...), []byte("aad"))
	require.Error(t, err)
}

func TestA256CBCHS512RejectsTamperedAAD(t *testing.T) {
	cek, err := GenerateCEK()
	require.NoError(t, err)

	iv, ct, tag, err := EncryptA256CBCHS512(cek, []byte("payload"), []byte("aad"))
	require.NoError(t, err)

	_, err = DecryptA256CBCHS512(cek, iv, ct, tag, []byte("other-aad"))
	require.Error(t, err)
}

func TestSharedSecretAgreement(t *testing.T) {
	pubA, privA, err := GenerateX25519()
	require.NoError(t, err)

	pubB, privB, err := GenerateX25519()
	require.NoError(t, err)

	zAB, err := SharedSecret(privA, pubB)
	require.NoError(t, err)

	zBA, err := SharedSecret(privB, pubA)
	require.NoError(t, err)

	require.Equal(t, zAB, zBA)
}

func TestDeriveECDHESKeyDeterministic(t *testing.T) {
	z := make([]byte, 32)

	k1 := DeriveECDHESKey(z, "ECDH-ES+A256KW", []byte("apu"), []byte("apv"), 32)
	k2 := DeriveECDHESKey(z, "ECDH-ES+A256KW", []byte("apu"), []byte("apv"), 32)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 32)

	k3 := DeriveECDHESKey(z, "ECDH-ES+A256KW", []byte("apu"), []byte("other"), 32)
	require.NotEqual(t, k1, k3)
}

func TestDeriveECDH1PUKeyBindsTag(t *testing.T) {
	ze := make([]byte, 32)
	zs := make([]byte, 32)
	zs[0] = 1

	k1 := DeriveECDH1PUKey(ze, zs, "ECDH-1PU+A256KW", nil, nil, []byte("tag-1"), 32)
	k2 := DeriveECDH1PUKey(ze, zs, "ECDH-1PU+A256KW", nil, nil, []byte("tag-2"), 32)
	require.NotEqual(t, k1, k2)
}

func TestKeyWrapRoundTrip(t *testing.T) {
	kek := make([]byte, 32)
	cek, err := GenerateCEK()
	require.NoError(t, err)

	wrapped, err := WrapKey(kek, cek)
	require.NoError(t, err)
	require.NotEqual(t, cek, wrapped)

	out, err := UnwrapKey(kek, wrapped)
	require.NoError(t, err)
	require.Equal(t, cek, out)

	badKek := make([]byte, 32)
	badKek[5] = 0xff
	_, err = UnwrapKey(badKek, wrapped)
	require.Error(t, err)
}
