package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/certquery/internal/blobstore"
	"github.com/xxxsen/certquery/internal/cachestore"
	"github.com/xxxsen/certquery/internal/model"
)

func newConvStore(t *testing.T) (*ConversationStore, blobstore.Store) {
	t.Helper()
	mem := blobstore.NewMemory()
	return NewConversationStore(cachestore.New(mem), 30, 4), mem
}

func TestConversationRoundTrip(t *testing.T) {
	s, _ := newConvStore(t)
	ctx := context.Background()

	id := s.NewSessionID()
	require.NotEmpty(t, id)
	require.NotEqual(t, id, s.NewSessionID())

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got)

	conv := &model.StoredConversation{
		SessionID: id,
		Turns: []model.ConversationTurn{
			{Role: model.RoleUser, Content: "what is part 25"},
			{Role: model.RoleAssistant, Content: "transport category airworthiness standards", Sources: []string{"14 CFR 25"}},
		},
	}
	require.NoError(t, s.Save(ctx, conv))
	require.NotZero(t, conv.Ctime)

	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Turns, 2)
	require.Equal(t, []string{"14 CFR 25"}, got.Turns[1].Sources)

	require.NoError(t, s.Delete(ctx, id))
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestConversationTurnCap(t *testing.T) {
	s, _ := newConvStore(t)
	ctx := context.Background()

	conv := &model.StoredConversation{SessionID: "cap"}
	for i := 0; i < 10; i++ {
		conv.Turns = append(conv.Turns, model.ConversationTurn{Role: model.RoleUser, Content: strings.Repeat("x", i+1)})
	}
	require.NoError(t, s.Save(ctx, conv))

	got, err := s.Get(ctx, "cap")
	require.NoError(t, err)
	require.Len(t, got.Turns, 4, "oldest turns evicted first")
	require.Equal(t, strings.Repeat("x", 7), got.Turns[0].Content)
}

func TestConversationExpiryIsLazyDelete(t *testing.T) {
	mem := blobstore.NewMemory()
	cache := cachestore.New(mem)
	s := NewConversationStore(cache, 1, 10)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(context.Background(), &model.StoredConversation{
		SessionID: "old",
		Turns:     []model.ConversationTurn{{Role: model.RoleUser, Content: "hi"}},
	}))

	got, err := s.Get(context.Background(), "old")
	require.NoError(t, err)
	require.NotNil(t, got)

	// advance past the 1 day ttl; read must miss and evict the record
	fakeCache := cachestore.New(mem)
	fakeCache.SetNow(func() time.Time { return now.Add(25 * time.Hour) })
	late := NewConversationStore(fakeCache, 1, 10)
	got, err = late.Get(context.Background(), "old")
	require.NoError(t, err)
	require.Nil(t, got)

	_, ok, err := mem.Get(context.Background(), "conversation:old")
	require.NoError(t, err)
	require.False(t, ok, "expired record deleted from backing store")
}

func TestFormatForContext(t *testing.T) {
	require.Empty(t, FormatForContext(nil, 6))

	conv := &model.StoredConversation{
		Turns: []model.ConversationTurn{
			{Role: model.RoleUser, Content: "q1"},
			{Role: model.RoleAssistant, Content: strings.Repeat("a", 2000)},
			{Role: model.RoleUser, Content: "q2"},
		},
	}
	got := FormatForContext(conv, 2)
	require.NotContains(t, got, "q1", "only the most recent turns render")
	require.Contains(t, got, "User: q2")
	require.Contains(t, got, "[...]", "long assistant turn truncated")
	require.Less(t, len(got), 1700)
}
