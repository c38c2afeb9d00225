/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/aes"
	"fmt"

	josecipher "github.com/go-jose/go-jose/v3/cipher"
)

// WrapKey wraps cek under kek with AES-KW (RFC 3394).
func WrapKey(kek, cek []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("key wrap: %w", err)
	}

	wrapped, err := josecipher.KeyWrap(block, cek)
	if err != nil {
		return nil, fmt.Errorf("key wrap: %w", err)
	}

	return wrapped, nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("key unwrap: %w", err)
	}

	cek, err := josecipher.KeyUnwrap(block, wrapped)
	if err != nil {
		return nil, fmt.Errorf("key unwrap: %w", err)
	}

	return cek, nil
}
