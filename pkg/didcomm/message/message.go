/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package message models DIDComm v2 plaintext messages and attachments.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Message is a DIDComm v2 plaintext message.
type Message struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	From        string                 `json:"from,omitempty"`
	To          []string               `json:"to,omitempty"`
	ThID        string                 `json:"thid,omitempty"`
	PThID       string                 `json:"pthid,omitempty"`
	CreatedTime int64                  `json:"created_time,omitempty"`
	ExpiresTime int64                  `json:"expires_time,omitempty"`
	FromPrior   string                 `json:"from_prior,omitempty"`
	ReturnRoute string                 `json:"return_route,omitempty"`
	Body        map[string]interface{} `json:"body"`
	Attachments []Attachment           `json:"attachments,omitempty"`
}

// New creates a message of the given type with a fresh id and creation time.
func New(msgType string) *Message {
	return &Message{
		ID:          uuid.New().String(),
		Type:        msgType,
		CreatedTime: time.Now().Unix(),
		Body:        map[string]interface{}{},
	}
}

// NewReply creates a response message threaded to the request.
func NewReply(msgType string, request *Message) *Message {
	m := New(msgType)
	m.ThID = request.ThreadID()

	return m
}

// Parse decodes plaintext message bytes.
func Parse(data []byte) (*Message, error) {
	var m Message

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	if m.ID == "" || m.Type == "" {
		return nil, fmt.Errorf("parse message: missing id or type")
	}

	return &m, nil
}

// Bytes serializes the message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ThreadID returns the thread id, falling back to the message id.
func (m *Message) ThreadID() string {
	if m.ThID != "" {
		return m.ThID
	}

	return m.ID
}

// DecodeBody decodes the free-form body into a typed struct, honoring json
// field tags.
func (m *Message) DecodeBody(out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}

	if err := dec.Decode(m.Body); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}

	return nil
}

// SetBody replaces the body with the JSON object form of v.
func (m *Message) SetBody(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("set body: %w", err)
	}

	body := map[string]interface{}{}
	if err := json.Unmarshal(b, &body); err != nil {
		return fmt.Errorf("set body: %w", err)
	}

	m.Body = body

	return nil
}

// AddressedTo reports whether the message lists did among its recipients.
func (m *Message) AddressedTo(did string) bool {
	for _, to := range m.To {
		if to == did {
			return true
		}
	}

	return false
}
