package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xxxsen/certquery/internal/cachestore"
	"github.com/xxxsen/certquery/internal/model"
)

// Longest assistant turn rendered into the prompt context.
const maxAssistantContextChars = 1500

// ConversationStore keeps multi-turn dialogue state in the blob store under
// a TTL envelope. A conversation read past its TTL is treated as absent and
// the backing record deleted. Saves cap the turn list, oldest first out.
type ConversationStore struct {
	cache    *cachestore.Cache
	ttlDays  int
	maxTurns int
	now      func() time.Time
}

func NewConversationStore(cache *cachestore.Cache, ttlDays, maxTurns int) *ConversationStore {
	if ttlDays <= 0 {
		ttlDays = 30
	}
	if maxTurns <= 0 {
		maxTurns = 40
	}
	return &ConversationStore{
		cache:    cache,
		ttlDays:  ttlDays,
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

func conversationKey(sessionID string) string {
	return cachestore.Key("conversation", sessionID)
}

func (s *ConversationStore) Get(ctx context.Context, sessionID string) (*model.StoredConversation, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil
	}
	var conv model.StoredConversation
	ok, err := s.cache.Get(ctx, conversationKey(sessionID), &conv)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (s *ConversationStore) Save(ctx context.Context, conv *model.StoredConversation) error {
	now := s.now().Unix()
	if conv.Ctime == 0 {
		conv.Ctime = now
	}
	conv.Mtime = now
	if len(conv.Turns) > s.maxTurns {
		conv.Turns = conv.Turns[len(conv.Turns)-s.maxTurns:]
	}
	return s.cache.Set(ctx, conversationKey(conv.SessionID), conv, s.ttlDays*24)
}

func (s *ConversationStore) Delete(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, conversationKey(sessionID))
}

func (s *ConversationStore) NewSessionID() string {
	return uuid.NewString()
}

// FormatForContext renders the most recent maxTurns turns as labeled blocks
// for the answer prompt. Long assistant turns are truncated to bound prompt
// size.
func FormatForContext(conv *model.StoredConversation, maxTurns int) string {
	if conv == nil || len(conv.Turns) == 0 {
		return ""
	}
	turns := conv.Turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	var sb strings.Builder
	for _, turn := range turns {
		label := "User"
		content := turn.Content
		if turn.Role == model.RoleAssistant {
			label = "Assistant"
			if len([]rune(content)) > maxAssistantContextChars {
				content = string([]rune(content)[:maxAssistantContextChars]) + " [...]"
			}
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", label, content)
	}
	return strings.TrimSpace(sb.String())
}
