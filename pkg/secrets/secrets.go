/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package secrets provides lookup of the mediator's own private keys. Keys
// are returned as opaque handles exposing only the cryptographic operations
// the envelope engine needs; raw private material never leaves the package.
package secrets

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/openmediation/didcomm-mediator-go/pkg/crypto"
	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
)

// ErrNotFound is returned when no secret exists for a key ID.
var ErrNotFound = errors.New("secret not found")

// Provider looks up secrets by key ID (DID URL).
type Provider interface {
	// FindSecret returns the secret for kid, or ErrNotFound.
	FindSecret(ctx context.Context, kid string) (*Secret, error)

	// FindSecrets filters kids down to those with a local secret,
	// preserving order.
	FindSecrets(ctx context.Context, kids []string) ([]string, error)
}

// Secret is an opaque private-key handle.
type Secret struct {
	kid  string
	crv  string
	priv []byte
	pub  []byte
}

// NewSecret builds a secret handle from raw key material. priv is the
// 32-byte X25519 scalar or the 32-byte Ed25519 seed.
func NewSecret(kid, crv string, priv, pub []byte) (*Secret, error) {
	if len(priv) != 32 || len(pub) != 32 {
		return nil, fmt.Errorf("secret %s: key material must be 32 bytes", kid)
	}

	switch crv {
	case jwk.CrvEd25519, jwk.CrvX25519:
	default:
		return nil, fmt.Errorf("secret %s: unsupported curve %q", kid, crv)
	}

	return &Secret{
		kid:  kid,
		crv:  crv,
		priv: append([]byte{}, priv...),
		pub:  append([]byte{}, pub...),
	}, nil
}

// KeyID returns the secret's key ID.
func (s *Secret) KeyID() string { return s.kid }

// Curve returns the secret's curve name.
func (s *Secret) Curve() string { return s.crv }

// PublicBytes returns the raw public key.
func (s *Secret) PublicBytes() []byte {
	return append([]byte{}, s.pub...)
}

// SignEdDSA signs data with the Ed25519 key.
func (s *Secret) SignEdDSA(data []byte) ([]byte, error) {
	if s.crv != jwk.CrvEd25519 {
		return nil, fmt.Errorf("secret %s: not a signing key", s.kid)
	}

	key := ed25519.NewKeyFromSeed(s.priv)

	return ed25519.Sign(key, data), nil
}

// DeriveECDH computes the X25519 shared secret with a peer public key.
func (s *Secret) DeriveECDH(peerPub []byte) ([]byte, error) {
	if s.crv != jwk.CrvX25519 {
		return nil, fmt.Errorf("secret %s: not a key-agreement key", s.kid)
	}

	return crypto.SharedSecret(s.priv, peerPub)
}
