package convstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDurableReplaceMessagesIsDeleteThenInsert(t *testing.T) {
	d := convstore.NewInMemoryDurable()
	ctx := context.Background()
	now := time.Now()

	meta := convstore.ConversationMeta{ConversationID: "conv-1", UserClientID: "user-1", Title: convstore.DefaultTitle, Model: "gpt-5", CreatedAt: now, LastModified: now}
	require.NoError(t, d.CreateConversation(ctx, meta))

	require.NoError(t, d.ReplaceMessages(ctx, "conv-1", []convstore.Message{
		{SequenceNumber: 1, Role: convstore.RoleUser, Content: "first"},
		{SequenceNumber: 2, Role: convstore.RoleAssistant, Content: "second"},
	}))

	conv, err := d.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)

	require.NoError(t, d.ReplaceMessages(ctx, "conv-1", []convstore.Message{
		{SequenceNumber: 1, Role: convstore.RoleUser, Content: "replaced"},
	}))

	conv, err = d.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "replaced", conv.Messages[0].Content)
}

func TestInMemoryDurableCreateConversationRejectsDuplicateID(t *testing.T) {
	d := convstore.NewInMemoryDurable()
	ctx := context.Background()
	meta := convstore.ConversationMeta{ConversationID: "conv-1", UserClientID: "user-1"}
	require.NoError(t, d.CreateConversation(ctx, meta))

	err := d.CreateConversation(ctx, meta)
	require.Error(t, err)
	assert.Equal(t, chatmerr.KindPermanent, chatmerr.KindOf(err))
}

func TestInMemoryDurableListConversationsOrdersByLastModifiedDesc(t *testing.T) {
	d := convstore.NewInMemoryDurable()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, d.CreateConversation(ctx, convstore.ConversationMeta{ConversationID: "older", UserClientID: "user-1", LastModified: base}))
	require.NoError(t, d.CreateConversation(ctx, convstore.ConversationMeta{ConversationID: "newer", UserClientID: "user-1", LastModified: base.Add(time.Hour)}))
	require.NoError(t, d.CreateConversation(ctx, convstore.ConversationMeta{ConversationID: "other-user", UserClientID: "user-2", LastModified: base.Add(2 * time.Hour)}))

	metas, err := d.ListConversations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "newer", metas[0].ConversationID)
	assert.Equal(t, "older", metas[1].ConversationID)
}

func TestInMemoryCacheGetMessagesReturnsIndependentCopy(t *testing.T) {
	c := convstore.NewInMemoryCache()
	ctx := context.Background()

	c.PutMessages(ctx, "conv-1", []convstore.Message{{SequenceNumber: 1, Content: "original"}})

	got, hit := c.GetMessages(ctx, "conv-1")
	require.True(t, hit)
	got[0].Content = "mutated"

	got2, hit := c.GetMessages(ctx, "conv-1")
	require.True(t, hit)
	assert.Equal(t, "original", got2[0].Content)
}

func TestInMemoryCacheInvalidateRemovesBothMetaAndMessages(t *testing.T) {
	c := convstore.NewInMemoryCache()
	ctx := context.Background()

	c.PutMeta(ctx, "user-1", convstore.ConversationMeta{ConversationID: "conv-1", UserClientID: "user-1"})
	c.PutMessages(ctx, "conv-1", []convstore.Message{{SequenceNumber: 1}})

	c.Invalidate(ctx, "user-1", "conv-1")

	_, metaHit := c.GetMeta(ctx, "user-1", "conv-1")
	_, msgHit := c.GetMessages(ctx, "conv-1")
	assert.False(t, metaHit)
	assert.False(t, msgHit)
}

func TestInMemoryDurableSetEvaluationMessageNotFound(t *testing.T) {
	d := convstore.NewInMemoryDurable()
	ctx := context.Background()
	require.NoError(t, d.CreateConversation(ctx, convstore.ConversationMeta{ConversationID: "conv-1", UserClientID: "user-1"}))

	satisfied := true
	err := d.SetEvaluation(ctx, "conv-1", 1, &satisfied, nil)
	require.Error(t, err)
	assert.Equal(t, chatmerr.KindNotFound, chatmerr.KindOf(err))
}
