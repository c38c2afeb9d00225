/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package problemreport builds report-problem messages and maps internal
// failures to their stable wire codes.
package problemreport

import (
	"errors"

	"github.com/openmediation/didcomm-mediator-go/pkg/didcomm/message"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
	"github.com/openmediation/didcomm-mediator-go/pkg/store/connection"
	"github.com/openmediation/didcomm-mediator-go/pkg/vdr"
)

// TypeProblemReport is the report-problem 2.0 message type.
const TypeProblemReport = "https://didcomm.org/report-problem/2.0/problem-report"

// Stable problem codes sent on the wire.
const (
	CodeUnknownMessageType = "e.p.msg.unknown-type"
	CodeUnauthenticated    = "e.p.req.unauthenticated"
	CodeUnknownConnection  = "e.p.req.unknown-connection"
	CodeInvalidRotation    = "e.p.did.invalid-rotation"
	CodeResolutionTimeout  = "e.p.did.resolution-timeout"
	CodeStorageUnavailable = "e.p.me.res.storage-unavailable"
	CodeDisplaced          = "e.p.me.res.displaced"
	CodeMalformedRequest   = "e.p.req.malformed"
	CodeNotAddressedHere   = "e.p.req.not-addressed"
	CodeInternal           = "e.p.me.internal"
)

// Body is the report-problem message body.
type Body struct {
	Code       string `json:"code"`
	Comment    string `json:"comment,omitempty"`
	EscalateTo string `json:"escalate_to,omitempty"`
}

// New builds a problem-report threaded to the offending message.
func New(code, comment string, parent *message.Message) *message.Message {
	pr := message.New(TypeProblemReport)

	if parent != nil {
		pr.PThID = parent.ThreadID()
	}

	pr.Body = map[string]interface{}{"code": code}
	if comment != "" {
		pr.Body["comment"] = comment
	}

	return pr
}

// FromError maps an internal failure to a problem-report for the sender of
// parent. The comment carries the code only; internal detail stays in logs.
func FromError(err error, parent *message.Message) *message.Message {
	return New(codeFor(err), "", parent)
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, connection.ErrNotFound):
		return CodeUnknownConnection
	case errors.Is(err, vdr.ErrTransient):
		return CodeResolutionTimeout
	case errors.Is(err, storage.ErrTransient):
		return CodeStorageUnavailable
	default:
		return CodeInternal
	}
}
