/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Attachment is a DIDComm v2 message attachment.
type Attachment struct {
	ID          string         `json:"id,omitempty"`
	Description string         `json:"description,omitempty"`
	MediaType   string         `json:"media_type,omitempty"`
	Data        AttachmentData `json:"data"`
}

// AttachmentData carries the attachment content in one of its forms.
type AttachmentData struct {
	Base64 string          `json:"base64,omitempty"`
	JSON   json.RawMessage `json:"json,omitempty"`
}

// NewJSONAttachment wraps raw JSON bytes as an attachment.
func NewJSONAttachment(id string, content []byte) Attachment {
	return Attachment{
		ID:   id,
		Data: AttachmentData{JSON: json.RawMessage(content)},
	}
}

// Fetch returns the attachment content bytes regardless of encoding form.
func (d *AttachmentData) Fetch() ([]byte, error) {
	if d.JSON != nil {
		return d.JSON, nil
	}

	if d.Base64 != "" {
		b, err := base64.StdEncoding.DecodeString(d.Base64)
		if err != nil {
			// didcomm attachments appear in both padded and raw-url forms
			b, err = base64.RawURLEncoding.DecodeString(d.Base64)
			if err != nil {
				return nil, fmt.Errorf("fetch attachment: %w", err)
			}
		}

		return b, nil
	}

	return nil, errors.New("fetch attachment: no data")
}
