/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jwk models the minimal OKP JSON Web Key subset used on the wire:
// Ed25519 signing keys and X25519 key-agreement keys.
package jwk

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Key types and curves recognized by the mediator.
const (
	KtyOKP = "OKP"

	CrvEd25519 = "Ed25519"
	CrvX25519  = "X25519"
)

// JWK is an OKP JSON Web Key. D is present only for private keys.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// FromPublicKey builds a public JWK from raw key bytes.
func FromPublicKey(crv string, raw []byte) *JWK {
	return &JWK{
		Kty: KtyOKP,
		Crv: crv,
		X:   base64.RawURLEncoding.EncodeToString(raw),
	}
}

// PublicBytes returns the raw public key bytes.
func (k *JWK) PublicBytes() ([]byte, error) {
	if k.Kty != KtyOKP {
		return nil, fmt.Errorf("jwk: unsupported kty %q", k.Kty)
	}

	b, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("jwk: decode x: %w", err)
	}

	if len(b) != 32 {
		return nil, fmt.Errorf("jwk: unexpected key length %d", len(b))
	}

	return b, nil
}

// PrivateBytes returns the raw private key bytes, or an error for a
// public-only key.
func (k *JWK) PrivateBytes() ([]byte, error) {
	if k.D == "" {
		return nil, errors.New("jwk: no private component")
	}

	b, err := base64.RawURLEncoding.DecodeString(k.D)
	if err != nil {
		return nil, fmt.Errorf("jwk: decode d: %w", err)
	}

	return b, nil
}
