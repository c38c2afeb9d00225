/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection persists mediation connections and the global keylist
// index. One connection exists per mediated client DID; a recipient DID may
// appear in at most one connection's keylist across the whole store.
package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/internal/kmutex"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
)

var logger = log.New("mediator/store/connection")

const (
	connStoreName    = "connections"
	keylistStoreName = "keylist"
)

// Store operation failures.
var (
	// ErrNotFound means no connection exists for the client DID.
	ErrNotFound = errors.New("connection not found")
	// ErrAlreadyExists means the client DID already has a connection.
	ErrAlreadyExists = errors.New("connection already exists")
	// ErrUnknownRecipient means no keylist contains the recipient DID.
	ErrUnknownRecipient = errors.New("unknown recipient")
)

// Record is a mediation connection.
type Record struct {
	ClientDID   string    `json:"client_did"`
	MediatorDID string    `json:"mediator_did"`
	RoutingDID  string    `json:"routing_did"`
	AuthKID     string    `json:"auth_kid,omitempty"`
	Keylist     []string  `json:"keylist"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasKey reports whether recipientDID is in the record's keylist.
func (r *Record) HasKey(recipientDID string) bool {
	for _, k := range r.Keylist {
		if k == recipientDID {
			return true
		}
	}

	return false
}

// Update actions and per-item results for keylist mutation.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"

	ResultSuccess     = "success"
	ResultNoChange    = "no_change"
	ResultClientError = "client_error"
	ResultServerError = "server_error"
)

// KeylistUpdate is one requested keylist mutation.
type KeylistUpdate struct {
	RecipientDID string `json:"recipient_did"`
	Action       string `json:"action"`
}

// KeylistUpdateResult echoes one update with its outcome.
type KeylistUpdateResult struct {
	RecipientDID string `json:"recipient_did"`
	Action       string `json:"action"`
	Result       string `json:"result"`
}

// Store is the connection and routing store. Mutations for the same client
// DID are serialized; independent clients never contend.
type Store struct {
	conns storage.Store
	keys  storage.Store
	locks *kmutex.Kmutex
}

// New opens the connection store over the storage provider.
func New(provider storage.Provider) (*Store, error) {
	conns, err := provider.OpenStore(connStoreName)
	if err != nil {
		return nil, fmt.Errorf("open connection store: %w", err)
	}

	keys, err := provider.OpenStore(keylistStoreName)
	if err != nil {
		return nil, fmt.Errorf("open keylist store: %w", err)
	}

	return &Store{conns: conns, keys: keys, locks: kmutex.New()}, nil
}

// Create persists a new connection for clientDID.
func (s *Store) Create(clientDID, mediatorDID, routingDID, authKID string) (*Record, error) {
	s.locks.Lock(clientDID)
	defer s.locks.Unlock(clientDID)

	if _, err := s.conns.Get(clientDID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, clientDID)
	} else if !errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	now := time.Now().UTC()
	rec := &Record{
		ClientDID:   clientDID,
		MediatorDID: mediatorDID,
		RoutingDID:  routingDID,
		AuthKID:     authKID,
		Keylist:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.save(rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// Get returns the connection for clientDID.
func (s *Store) Get(clientDID string) (*Record, error) {
	raw, err := s.conns.Get(clientDID)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clientDID)
	} else if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	return &rec, nil
}

// UpdateKeylist applies the updates for clientDID atomically and returns one
// result per input item, in input order. Adds conflict when the recipient DID
// already belongs to another connection.
func (s *Store) UpdateKeylist(clientDID string, updates []KeylistUpdate) ([]KeylistUpdateResult, error) {
	s.locks.Lock(clientDID)
	defer s.locks.Unlock(clientDID)

	rec, err := s.Get(clientDID)
	if err != nil {
		return nil, err
	}

	results := make([]KeylistUpdateResult, 0, len(updates))
	pending := map[string]bool{}

	for _, k := range rec.Keylist {
		pending[k] = true
	}

	for _, u := range updates {
		res := KeylistUpdateResult{RecipientDID: u.RecipientDID, Action: u.Action}

		switch u.Action {
		case ActionAdd:
			switch {
			case pending[u.RecipientDID]:
				res.Result = ResultNoChange
			case s.keyOwnedElsewhere(u.RecipientDID, clientDID):
				res.Result = ResultClientError
			default:
				pending[u.RecipientDID] = true
				res.Result = ResultSuccess
			}
		case ActionRemove:
			if pending[u.RecipientDID] {
				delete(pending, u.RecipientDID)
				res.Result = ResultSuccess
			} else {
				res.Result = ResultNoChange
			}
		default:
			res.Result = ResultClientError
		}

		results = append(results, res)
	}

	newKeylist := make([]string, 0, len(pending))
	for k := range pending {
		newKeylist = append(newKeylist, k)
	}

	sort.Strings(newKeylist)

	if err := s.applyKeylist(rec, newKeylist); err != nil {
		return nil, err
	}

	return results, nil
}

// keyOwnedElsewhere reports whether the recipient DID is indexed to a
// different connection.
func (s *Store) keyOwnedElsewhere(recipientDID, clientDID string) bool {
	owner, err := s.keys.Get(recipientDID)
	if err != nil {
		return false
	}

	return string(owner) != clientDID
}

// applyKeylist persists the record with its new keylist and reconciles the
// global index.
func (s *Store) applyKeylist(rec *Record, newKeylist []string) error {
	old := map[string]bool{}
	for _, k := range rec.Keylist {
		old[k] = true
	}

	for _, k := range newKeylist {
		if !old[k] {
			if err := s.keys.Put(k, []byte(rec.ClientDID)); err != nil {
				return fmt.Errorf("index keylist entry: %w", err)
			}
		}

		delete(old, k)
	}

	for k := range old {
		if err := s.keys.Delete(k); err != nil {
			return fmt.Errorf("unindex keylist entry: %w", err)
		}
	}

	rec.Keylist = newKeylist
	rec.UpdatedAt = time.Now().UTC()

	return s.save(rec)
}

// RouteForKey returns the connection whose keylist contains recipientDID.
func (s *Store) RouteForKey(recipientDID string) (*Record, error) {
	owner, err := s.keys.Get(recipientDID)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, recipientDID)
	} else if err != nil {
		return nil, fmt.Errorf("route lookup: %w", err)
	}

	return s.Get(string(owner))
}

// WithRoute runs fn with the connection owning recipientDID while holding
// that client's lock, so a concurrent terminate or rotation cannot interleave
// with fn. Ownership is re-checked under the lock; if it moved, the lookup
// retries against the new owner.
func (s *Store) WithRoute(recipientDID string, fn func(*Record) error) error {
	for {
		rec, err := s.RouteForKey(recipientDID)
		if err != nil {
			return err
		}

		s.locks.Lock(rec.ClientDID)

		cur, err := s.RouteForKey(recipientDID)
		if err == nil && cur.ClientDID == rec.ClientDID {
			err = fn(cur)
			s.locks.Unlock(rec.ClientDID)

			return err
		}

		s.locks.Unlock(rec.ClientDID)

		if err != nil {
			return err
		}
	}
}

// Rotate moves the connection from oldDID to newDID, reindexing keylist
// ownership. Mailbox items are keyed by recipient DID and are unaffected.
func (s *Store) Rotate(oldDID, newDID string) (*Record, error) {
	if newDID == "" {
		return nil, fmt.Errorf("rotate connection: empty new DID")
	}

	s.locks.Lock(oldDID)
	defer s.locks.Unlock(oldDID)

	rec, err := s.Get(oldDID)
	if err != nil {
		return nil, err
	}

	if _, err := s.conns.Get(newDID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, newDID)
	} else if !errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("rotate connection: %w", err)
	}

	rec.ClientDID = newDID
	rec.UpdatedAt = time.Now().UTC()

	if err := s.save(rec); err != nil {
		return nil, err
	}

	for _, k := range rec.Keylist {
		if err := s.keys.Put(k, []byte(newDID)); err != nil {
			return nil, fmt.Errorf("rotate keylist entry: %w", err)
		}
	}

	if err := s.conns.Delete(oldDID); err != nil {
		return nil, fmt.Errorf("rotate connection: %w", err)
	}

	logger.Infof("rotated connection %s to %s", oldDID, newDID)

	return rec, nil
}

// Terminate deletes the connection and its keylist index entries, returning
// the keylist so the caller can purge the recipients' mailboxes.
func (s *Store) Terminate(clientDID string) ([]string, error) {
	s.locks.Lock(clientDID)
	defer s.locks.Unlock(clientDID)

	rec, err := s.Get(clientDID)
	if err != nil {
		return nil, err
	}

	for _, k := range rec.Keylist {
		if err := s.keys.Delete(k); err != nil {
			return nil, fmt.Errorf("terminate connection: %w", err)
		}
	}

	if err := s.conns.Delete(clientDID); err != nil {
		return nil, fmt.Errorf("terminate connection: %w", err)
	}

	return rec.Keylist, nil
}

func (s *Store) save(rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	if err := s.conns.Put(rec.ClientDID, raw); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	return nil
}
