/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mailbox persists per-recipient FIFO queues of opaque encrypted
// attachments awaiting pickup. Items are retained until explicitly
// acknowledged; quota overflow evicts oldest first.
package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/internal/kmutex"
	"github.com/openmediation/didcomm-mediator-go/pkg/storage"
)

var logger = log.New("mediator/store/mailbox")

const storeName = "mailbox"

const (
	// DefaultSoftCap is the per-recipient item limit.
	DefaultSoftCap = 1000
	// DefaultHardByteCap is the per-recipient byte budget.
	DefaultHardByteCap = 16 << 20
)

// Item is one queued encrypted attachment.
type Item struct {
	ID         string    `json:"id"`
	Bytes      []byte    `json:"bytes"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// inbox is the persisted per-recipient queue, oldest first.
type inbox struct {
	RecipientDID string `json:"recipient_did"`
	Items        []Item `json:"items"`
}

// Stats summarizes a mailbox for pickup status messages.
type Stats struct {
	Count          int
	TotalBytes     int64
	OldestReceived time.Time
	NewestReceived time.Time
}

// LongestWaitedSeconds is the age of the oldest item.
func (s Stats) LongestWaitedSeconds(now time.Time) int64 {
	if s.Count == 0 {
		return 0
	}

	return int64(now.Sub(s.OldestReceived).Seconds())
}

// Option configures the store.
type Option func(*Store)

// WithSoftCap sets the per-recipient item limit.
func WithSoftCap(n int) Option {
	return func(s *Store) { s.softCap = n }
}

// WithHardByteCap sets the per-recipient byte budget.
func WithHardByteCap(n int64) Option {
	return func(s *Store) { s.byteCap = n }
}

// Store is the mailbox store. Operations on the same recipient are
// serialized; independent recipients never contend.
type Store struct {
	store   storage.Store
	locks   *kmutex.Kmutex
	softCap int
	byteCap int64
	dropped uint64
}

// New opens the mailbox store over the storage provider.
func New(provider storage.Provider, opts ...Option) (*Store, error) {
	store, err := provider.OpenStore(storeName)
	if err != nil {
		return nil, fmt.Errorf("open mailbox store: %w", err)
	}

	s := &Store{
		store:   store,
		locks:   kmutex.New(),
		softCap: DefaultSoftCap,
		byteCap: DefaultHardByteCap,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Enqueue appends blob to the recipient's queue and returns the item ID.
// Quota overflow evicts oldest items first and counts them as dropped.
func (s *Store) Enqueue(recipientDID string, blob []byte) (string, error) {
	s.locks.Lock(recipientDID)
	defer s.locks.Unlock(recipientDID)

	box, err := s.load(recipientDID)
	if err != nil {
		return "", err
	}

	item := Item{
		ID:         uuid.New().String(),
		Bytes:      blob,
		EnqueuedAt: time.Now().UTC(),
	}

	box.Items = append(box.Items, item)
	s.evict(box)

	if err := s.save(box); err != nil {
		return "", err
	}

	return item.ID, nil
}

// evict trims the queue to the configured caps, oldest first.
func (s *Store) evict(box *inbox) {
	for len(box.Items) > s.softCap {
		box.Items = box.Items[1:]
		atomic.AddUint64(&s.dropped, 1)
	}

	var total int64
	for _, it := range box.Items {
		total += int64(len(it.Bytes))
	}

	for total > s.byteCap && len(box.Items) > 1 {
		total -= int64(len(box.Items[0].Bytes))
		box.Items = box.Items[1:]
		atomic.AddUint64(&s.dropped, 1)
	}
}

// List returns up to limit items in FIFO order without removing them.
// limit <= 0 returns everything.
func (s *Store) List(recipientDID string, limit int) ([]Item, error) {
	s.locks.Lock(recipientDID)
	defer s.locks.Unlock(recipientDID)

	box, err := s.load(recipientDID)
	if err != nil {
		return nil, err
	}

	items := box.Items
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	out := make([]Item, len(items))
	copy(out, items)

	return out, nil
}

// Ack removes the identified items and returns how many were present.
func (s *Store) Ack(recipientDID string, ids []string) (int, error) {
	s.locks.Lock(recipientDID)
	defer s.locks.Unlock(recipientDID)

	box, err := s.load(recipientDID)
	if err != nil {
		return 0, err
	}

	acked := map[string]bool{}
	for _, id := range ids {
		acked[id] = true
	}

	kept := box.Items[:0]
	removed := 0

	for _, it := range box.Items {
		if acked[it.ID] {
			removed++
			continue
		}

		kept = append(kept, it)
	}

	box.Items = kept

	if removed > 0 {
		if err := s.save(box); err != nil {
			return 0, err
		}
	}

	return removed, nil
}

// Count returns the number of queued items for the recipient.
func (s *Store) Count(recipientDID string) (int, error) {
	stats, err := s.GetStats(recipientDID)
	if err != nil {
		return 0, err
	}

	return stats.Count, nil
}

// GetStats summarizes the recipient's mailbox.
func (s *Store) GetStats(recipientDID string) (Stats, error) {
	s.locks.Lock(recipientDID)
	defer s.locks.Unlock(recipientDID)

	box, err := s.load(recipientDID)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats

	stats.Count = len(box.Items)

	for _, it := range box.Items {
		stats.TotalBytes += int64(len(it.Bytes))
	}

	if stats.Count > 0 {
		stats.OldestReceived = box.Items[0].EnqueuedAt
		stats.NewestReceived = box.Items[len(box.Items)-1].EnqueuedAt
	}

	return stats, nil
}

// Purge deletes the recipient's entire mailbox.
func (s *Store) Purge(recipientDID string) error {
	s.locks.Lock(recipientDID)
	defer s.locks.Unlock(recipientDID)

	if err := s.store.Delete(key(recipientDID)); err != nil {
		return fmt.Errorf("purge mailbox: %w", err)
	}

	logger.Debugf("purged mailbox for %s", recipientDID)

	return nil
}

// Dropped returns the total number of quota-evicted items.
func (s *Store) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

func (s *Store) load(recipientDID string) (*inbox, error) {
	raw, err := s.store.Get(key(recipientDID))
	if errors.Is(err, storage.ErrDataNotFound) {
		return &inbox{RecipientDID: recipientDID}, nil
	} else if err != nil {
		return nil, fmt.Errorf("load mailbox: %w", err)
	}

	var box inbox
	if err := json.Unmarshal(raw, &box); err != nil {
		return nil, fmt.Errorf("load mailbox: %w", err)
	}

	return &box, nil
}

func (s *Store) save(box *inbox) error {
	if len(box.Items) == 0 {
		if err := s.store.Delete(key(box.RecipientDID)); err != nil {
			return fmt.Errorf("save mailbox: %w", err)
		}

		return nil
	}

	raw, err := json.Marshal(box)
	if err != nil {
		return fmt.Errorf("save mailbox: %w", err)
	}

	if err := s.store.Put(key(box.RecipientDID), raw); err != nil {
		return fmt.Errorf("save mailbox: %w", err)
	}

	return nil
}

func key(recipientDID string) string {
	return "inbox_" + recipientDID
}
