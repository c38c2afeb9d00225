/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package crypto holds the synchronous primitives used by the envelope
// engine: A256CBC-HS512 content encryption, X25519 key agreement and the
// concat KDFs for ECDH-ES and ECDH-1PU key wrapping.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	josecipher "github.com/go-jose/go-jose/v3/cipher"
)

// A256CBCHS512KeySize is the composite CEK size for A256CBC-HS512
// (32-byte HMAC-SHA-512 half + 32-byte AES-256 half).
const A256CBCHS512KeySize = 64

const (
	cbcIVSize = 16
	// cbcTagSize is the truncated HMAC-SHA-512 tag length. The AEAD's
	// Overhead() is larger (it budgets for padding too) and must not be
	// used to locate the tag.
	cbcTagSize = 32
)

// EncryptA256CBCHS512 encrypts plaintext under the composite cek with the
// given additional authenticated data, returning iv, ciphertext and tag.
func EncryptA256CBCHS512(cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	aead, err := newCBCHMAC(cek)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, cbcIVSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("aes_cbc_hmac: generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, aad)

	ciphertext = sealed[:len(sealed)-cbcTagSize]
	tag = sealed[len(sealed)-cbcTagSize:]

	return iv, ciphertext, tag, nil
}

// DecryptA256CBCHS512 reverses EncryptA256CBCHS512.
func DecryptA256CBCHS512(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := newCBCHMAC(cek)
	if err != nil {
		return nil, err
	}

	if len(iv) != cbcIVSize {
		return nil, errors.New("aes_cbc_hmac: bad iv size")
	}

	if len(tag) != cbcTagSize {
		return nil, errors.New("aes_cbc_hmac: bad tag size")
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("aes_cbc_hmac: failed to decrypt: %w", err)
	}

	return plaintext, nil
}

func newCBCHMAC(cek []byte) (cipher.AEAD, error) {
	if len(cek) != A256CBCHS512KeySize {
		return nil, fmt.Errorf("aes_cbc_hmac: invalid cek size %d", len(cek))
	}

	aead, err := josecipher.NewCBCHMAC(cek, aes.NewCipher)
	if err != nil {
		return nil, fmt.Errorf("aes_cbc_hmac: %w", err)
	}

	return aead, nil
}

// GenerateCEK returns a fresh random A256CBC-HS512 content encryption key.
func GenerateCEK() ([]byte, error) {
	cek := make([]byte, A256CBCHS512KeySize)
	if _, err := rand.Read(cek); err != nil {
		return nil, fmt.Errorf("generate cek: %w", err)
	}

	return cek, nil
}
