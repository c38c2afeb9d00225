/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package problemreport

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
)

func TestNewThreadsToParent(t *testing.T) {
	parent := message.New("https://didcomm.org/trust-ping/2.0/ping")

	pr := New(CodeMalformedRequest, "bad recipient_did", parent)
	require.Equal(t, TypeProblemReport, pr.Type)
	require.Equal(t, parent.ID, pr.PThID)
	require.Equal(t, CodeMalformedRequest, pr.Body["code"])
	require.Equal(t, "bad recipient_did", pr.Body["comment"])
}

func TestNewWithoutParent(t *testing.T) {
	pr := New(CodeDisplaced, "", nil)
	require.Empty(t, pr.PThID)
	require.NotContains(t, pr.Body, "comment")
}

func TestFromErrorCodes(t *testing.T) {
	parent := message.New("https://didcomm.org/trust-ping/2.0/ping")

	for want, err := range map[string]error{
		CodeUnknownConnection:  fmt.Errorf("lookup: %w", connection.ErrNotFound),
		CodeResolutionTimeout:  fmt.Errorf("resolve: %w", vdr.ErrTransient),
		CodeStorageUnavailable: fmt.Errorf("save: %w", storage.ErrTransient),
		CodeInternal:           fmt.Errorf("disk on fire"),
	} {
		pr := FromError(err, parent)
		require.Equal(t, want, pr.Body["code"])
		require.NotContains(t, pr.Body, "comment", "internal detail must not leak")
	}
}
