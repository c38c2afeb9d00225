/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package fingerprint creates and parses multicodec key fingerprints as used
// by did:key and multikey verification methods.
package fingerprint

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/teserakt-io/golang-ed25519/extra25519"
)

// Multicodec codes for the supported key types.
// Source: https://github.com/multiformats/multicodec/blob/master/table.csv.
const (
	X25519PubKeyMultiCodec  = 0xec
	ED25519PubKeyMultiCodec = 0xed
)

// CreateDIDKey creates a did:key DID and its key ID from a raw Ed25519
// public key, per https://w3c-ccg.github.io/did-method-key/#format.
func CreateDIDKey(pubKey []byte) (string, string) {
	return createDIDKey(ED25519PubKeyMultiCodec, pubKey)
}

// CreateDIDKeyX25519 creates a did:key DID and key ID from a raw X25519
// public key.
func CreateDIDKeyX25519(pubKey []byte) (string, string) {
	return createDIDKey(X25519PubKeyMultiCodec, pubKey)
}

func createDIDKey(code uint64, pubKey []byte) (string, string) {
	methodID := KeyFingerprint(code, pubKey)
	didKey := fmt.Sprintf("did:key:%s", methodID)
	keyID := fmt.Sprintf("%s#%s", didKey, methodID)

	return didKey, keyID
}

// KeyFingerprint returns the base58-btc multibase fingerprint of a raw
// public key under the given multicodec code.
func KeyFingerprint(code uint64, pubKeyValue []byte) string {
	multicodecValue := multicodec(code)
	buf := make([]byte, len(multicodecValue)+len(pubKeyValue))
	copy(buf, multicodecValue)
	copy(buf[len(multicodecValue):], pubKeyValue)

	fp, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil { // only fails on unknown encoding
		panic(err)
	}

	return fp
}

func multicodec(code uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, code)

	return buf[:n]
}

// PubKeyFromFingerprint extracts the raw public key and its multicodec code
// from a multibase fingerprint.
func PubKeyFromFingerprint(fingerprint string) ([]byte, uint64, error) {
	enc, data, err := multibase.Decode(fingerprint)
	if err != nil {
		return nil, 0, fmt.Errorf("pubKeyFromFingerprint: %w", err)
	}

	if enc != multibase.Base58BTC {
		return nil, 0, fmt.Errorf("pubKeyFromFingerprint: not base58-btc encoded: %s", fingerprint)
	}

	code, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, 0, errors.New("pubKeyFromFingerprint: invalid multicodec prefix")
	}

	return data[n:], code, nil
}

// PublicEd25519toCurve25519 converts an Ed25519 public key to the
// corresponding Curve25519 (X25519) public key.
func PublicEd25519toCurve25519(pub []byte) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%d-byte key size is invalid", len(pub))
	}

	pkOut := new([32]byte)
	pkIn := new([32]byte)
	copy(pkIn[:], pub)

	if !extra25519.PublicKeyToCurve25519(pkOut, pkIn) {
		return nil, errors.New("error converting public key")
	}

	return pkOut[:], nil
}
