package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

// MemoryStore is an in-memory implementation of the SenderHistoryStore
// interface. It is the default for single-process deployments; history
// does not survive a restart.
type MemoryStore struct {
	senders map[string]*core.SenderHistory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		senders: make(map[string]*core.SenderHistory),
		logger:  logger,
	}
}

// GetHistory retrieves the accumulated history for a sender. The
// returned value is a copy; callers cannot mutate the store through it.
func (s *MemoryStore) GetHistory(_ context.Context, sender string) (*core.SenderHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.senders[strings.ToLower(sender)]
	if !ok {
		return nil, nil
	}

	history := *entry
	history.DisplayNames = append([]string(nil), entry.DisplayNames...)
	history.ReplyTos = append([]string(nil), entry.ReplyTos...)
	return &history, nil
}

// Record appends one observation. The entry only ever grows: counts
// increase, the name and reply-to sets accumulate, FirstSeen never
// moves forward.
func (s *MemoryStore) Record(_ context.Context, sender, displayName, replyTo string, timestamp time.Time) error {
	sender = strings.ToLower(sender)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.senders[sender]
	if !ok {
		entry = &core.SenderHistory{
			Sender:    sender,
			FirstSeen: timestamp,
		}
		s.senders[sender] = entry
	}

	entry.MessageCount++
	if timestamp.After(entry.LastSeen) {
		entry.LastSeen = timestamp
	}
	if timestamp.Before(entry.FirstSeen) {
		entry.FirstSeen = timestamp
	}
	if displayName != "" && !containsFold(entry.DisplayNames, displayName) {
		entry.DisplayNames = append(entry.DisplayNames, displayName)
	}
	if replyTo != "" && !containsFold(entry.ReplyTos, replyTo) {
		entry.ReplyTos = append(entry.ReplyTos, replyTo)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
