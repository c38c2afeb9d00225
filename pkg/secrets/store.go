/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openmediation/didcomm-mediator-go/pkg/doc/jwk"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
)

// StoreName is the storage namespace holding key records.
const StoreName = "secrets"

// Store is a storage-backed Provider holding private keys as JWK records.
type Store struct {
	store storage.Store
}

// NewStore opens the secrets store on the given provider.
func NewStore(provider storage.Provider) (*Store, error) {
	s, err := provider.OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("secrets: open store: %w", err)
	}

	return &Store{store: s}, nil
}

// Import stores a private JWK under kid.
func (st *Store) Import(kid string, key *jwk.JWK) error {
	if key.D == "" {
		return fmt.Errorf("secrets: import %s: missing private component", kid)
	}

	rec := *key
	rec.Kid = kid

	b, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("secrets: import %s: %w", kid, err)
	}

	return st.store.Put(kid, b)
}

// FindSecret implements Provider.
func (st *Store) FindSecret(_ context.Context, kid string) (*Secret, error) {
	b, err := st.store.Get(kid)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, kid)
	}

	if err != nil {
		return nil, fmt.Errorf("secrets: lookup %s: %w", kid, err)
	}

	var rec jwk.JWK
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("secrets: decode record %s: %w", kid, err)
	}

	priv, err := rec.PrivateBytes()
	if err != nil {
		return nil, fmt.Errorf("secrets: record %s: %w", kid, err)
	}

	pub, err := rec.PublicBytes()
	if err != nil {
		return nil, fmt.Errorf("secrets: record %s: %w", kid, err)
	}

	return NewSecret(kid, rec.Crv, priv, pub)
}

// FindSecrets implements Provider.
func (st *Store) FindSecrets(ctx context.Context, kids []string) ([]string, error) {
	var found []string

	for _, kid := range kids {
		_, err := st.FindSecret(ctx, kid)
		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		found = append(found, kid)
	}

	return found, nil
}
