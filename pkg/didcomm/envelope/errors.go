/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envelope

import "errors"

// Unpack failure classes. None of these may be reported back over DIDComm;
// the transport returns a generic failure status (the reply target cannot be
// authenticated).
var (
	// ErrMalformed means the envelope could not be parsed.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnsupportedAlgorithm means alg/enc is outside the configured set.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	// ErrRecipientKeyNotLocal means no recipient kid matches a local secret.
	ErrRecipientKeyNotLocal = errors.New("recipient key not local")
	// ErrDecryptionFailed means key unwrap or content decryption failed.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrSignatureInvalid means an embedded JWS failed verification.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrSenderResolutionFailed means the sender's keys could not be resolved.
	ErrSenderResolutionFailed = errors.New("sender resolution failed")
)
