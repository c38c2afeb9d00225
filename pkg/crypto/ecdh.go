/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	josecipher "github.com/go-jose/go-jose/v3/cipher"
	"golang.org/x/crypto/curve25519"
)

// X25519KeySize is the byte length of X25519 public and private keys.
const X25519KeySize = 32

// GenerateX25519 creates an ephemeral X25519 key pair.
func GenerateX25519() (pub, priv []byte, err error) {
	priv = make([]byte, X25519KeySize)
	if _, err = rand.Read(priv); err != nil {
		return nil, nil, fmt.Errorf("x25519 keygen: %w", err)
	}

	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("x25519 keygen: %w", err)
	}

	return pub, priv, nil
}

// SharedSecret computes the X25519 shared secret Z between a private and a
// public key.
func SharedSecret(priv, pub []byte) ([]byte, error) {
	z, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("x25519 shared secret: %w", err)
	}

	return z, nil
}

// DeriveECDHESKey runs the RFC 7518 concat KDF over Z for ECDH-ES key
// wrapping, producing a KEK of keySize bytes.
func DeriveECDHESKey(z []byte, alg string, apu, apv []byte, keySize int) []byte {
	return kdf(z, alg, apu, apv, nil, keySize, false)
}

// DeriveECDH1PUKey runs the concat KDF over Ze||Zs for ECDH-1PU key
// wrapping. tag is the content-encryption authentication tag, bound into
// SuppPubInfo as required in key-wrapping mode.
func DeriveECDH1PUKey(ze, zs []byte, alg string, apu, apv, tag []byte, keySize int) []byte {
	z := append(append([]byte{}, ze...), zs...)
	return kdf(z, alg, apu, apv, tag, keySize, true)
}

func kdf(z []byte, alg string, apu, apv, tag []byte, keySize int, useTag bool) []byte {
	algID := lengthPrefix([]byte(alg))
	ptyUInfo := lengthPrefix(apu)
	ptyVInfo := lengthPrefix(apv)

	supPubInfo := make([]byte, 4)
	binary.BigEndian.PutUint32(supPubInfo, uint32(keySize)*8)

	if useTag {
		// ECDH-1PU in key-wrapping mode binds the AEAD tag into the KDF
		// (draft-madden-jose-ecdh-1pu-04, section 2.3).
		supPubInfo = append(supPubInfo, lengthPrefix(tag)...)
	}

	reader := josecipher.NewConcatKDF(crypto.SHA256, z, algID, ptyUInfo, ptyVInfo, supPubInfo, []byte{})

	kek := make([]byte, keySize)

	_, err := reader.Read(kek)
	if err != nil { // the KDF reader cannot fail
		panic(err)
	}

	return kek
}

// lengthPrefix prepends a 32-bit big-endian length, as the concat KDF
// requires for each OtherInfo field.
func lengthPrefix(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)

	return out
}
