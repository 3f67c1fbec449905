package messaging

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/models"
	"messaging-service/internal/realtime"
)

func TestSendPublishesInsertedWithSeq(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)
	events := f.listen(t, realtime.MessagesTopic(conv.ID))

	for i := 1; i <= 3; i++ {
		f.send(t, conv.ID, "a", fmt.Sprintf("m%d", i))
	}
	for want := int64(1); want <= 3; want++ {
		ev := next(t, events)
		assert.Equal(t, models.EventMessageInserted, ev.Type)
		assert.Equal(t, want, ev.Seq)
		payload := ev.Payload.(models.MessageEvent)
		assert.Equal(t, fmt.Sprintf("m%d", want), *payload.Message.Content)
	}

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageAt)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)

	cases := map[string]SendInput{
		"blank text":   {ConversationID: conv.ID, SenderID: "a", Content: text("   ")},
		"no content":   {ConversationID: conv.ID, SenderID: "a"},
		"unknown kind": {ConversationID: conv.ID, SenderID: "a", Content: text("x"), Kind: "video"},
		"no sender":    {ConversationID: conv.ID, Content: text("x")},
		"bad reply":    {ConversationID: conv.ID, SenderID: "a", Content: text("x"), ReplyToMessageID: text("nope")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.msgs.Send(ctx, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	msg, err := f.msgs.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: "a", Kind: models.MessageFile, FileRef: text("s3://f"), FileName: text("f.pdf")})
	require.NoError(t, err)
	assert.Nil(t, msg.Content)
	assert.Equal(t, models.MessageFile, msg.Kind)

	_, err = f.msgs.Send(ctx, SendInput{ConversationID: "missing", SenderID: "a", Content: text("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplyMustStayInConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)
	two, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "c")
	require.NoError(t, err)

	target, err := f.msgs.Send(ctx, SendInput{ConversationID: one.ID, SenderID: "a", Content: text("hi")})
	require.NoError(t, err)

	_, err = f.msgs.Send(ctx, SendInput{ConversationID: two.ID, SenderID: "a", Content: text("re"), ReplyToMessageID: &target.ID})
	assert.ErrorIs(t, err, ErrValidation)

	reply, err := f.msgs.Send(ctx, SendInput{ConversationID: one.ID, SenderID: "b", Content: text("re"), ReplyToMessageID: &target.ID})
	require.NoError(t, err)
	assert.Equal(t, target.ID, *reply.ReplyToMessageID)
}

func TestNonParticipantCannotSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.CreateGroupConversation(ctx, CreateGroupInput{CreatorID: "a", Name: "g", MemberIDs: []string{"b"}})
	require.NoError(t, err)

	_, err = f.msgs.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: "stranger", Content: text("hi")})
	assert.ErrorIs(t, err, ErrPermission)

	require.NoError(t, f.dir.LeaveConversation(ctx, "b", conv.ID))
	_, err = f.msgs.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: "b", Content: text("hi")})
	assert.ErrorIs(t, err, ErrPermission)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.MessageSeq)
}

func TestFetchPageOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		f.send(t, conv.ID, "a", fmt.Sprintf("m%d", i))
	}

	newest, err := f.msgs.FetchPage(ctx, conv.ID, 0, 3)
	require.NoError(t, err)
	middle, err := f.msgs.FetchPage(ctx, conv.ID, 1, 3)
	require.NoError(t, err)
	oldest, err := f.msgs.FetchPage(ctx, conv.ID, 2, 3)
	require.NoError(t, err)
	beyond, err := f.msgs.FetchPage(ctx, conv.ID, 3, 3)
	require.NoError(t, err)

	contents := func(ms []models.Message) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, *m.Content)
		}
		return out
	}
	assert.Equal(t, []string{"m4", "m5", "m6"}, contents(newest))
	assert.Equal(t, []string{"m1", "m2", "m3"}, contents(middle))
	assert.Equal(t, []string{"m0"}, contents(oldest))
	assert.Empty(t, beyond)

	for _, page := range [][]models.Message{newest, middle, oldest} {
		for i := 1; i < len(page); i++ {
			assert.True(t, page[i-1].CreatedAt.Before(page[i].CreatedAt))
		}
	}

	for _, bad := range [][2]int{{-1, 10}, {0, 0}, {0, MaxPageSize + 1}} {
		_, err := f.msgs.FetchPage(ctx, conv.ID, bad[0], bad[1])
		assert.ErrorIs(t, err, ErrValidation)
	}
	_, err = f.msgs.FetchPage(ctx, "missing", 0, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchPageRejectsOffsetOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)
	f.send(t, conv.ID, "a", "only")

	_, err = f.msgs.FetchPage(ctx, conv.ID, math.MaxInt/MaxPageSize+1, MaxPageSize)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.msgs.FetchPage(ctx, conv.ID, math.MaxInt, 1)
	assert.ErrorIs(t, err, ErrValidation)

	last, err := f.msgs.FetchPage(ctx, conv.ID, math.MaxInt32/MaxPageSize, MaxPageSize)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestLastSeqFollowsCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)

	seq, err := f.msgs.LastSeq(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, seq)

	f.send(t, conv.ID, "a", "one")
	f.send(t, conv.ID, "b", "two")
	seq, err = f.msgs.LastSeq(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	_, err = f.msgs.LastSeq(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditAndDeleteLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)
	original, err := f.msgs.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: "a", Content: text("first")})
	require.NoError(t, err)
	events := f.listen(t, realtime.MessagesTopic(conv.ID))

	_, err = f.msgs.Edit(ctx, original.ID, "b", "hijack")
	assert.ErrorIs(t, err, ErrPermission)
	_, err = f.msgs.Edit(ctx, original.ID, "a", " ")
	assert.ErrorIs(t, err, ErrValidation)

	edited, err := f.msgs.Edit(ctx, original.ID, "a", "second")
	require.NoError(t, err)
	assert.Equal(t, "second", *edited.Content)
	assert.Equal(t, original.SenderID, edited.SenderID)
	assert.True(t, original.CreatedAt.Equal(edited.CreatedAt))
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, models.EventMessageEdited, next(t, events).Type)

	_, err = f.msgs.SoftDelete(ctx, original.ID, "b")
	assert.ErrorIs(t, err, ErrPermission)

	deleted, err := f.msgs.SoftDelete(ctx, original.ID, "a")
	require.NoError(t, err)
	assert.Nil(t, deleted.Content)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, models.EventMessageDeleted, next(t, events).Type)

	again, err := f.msgs.SoftDelete(ctx, original.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, deleted, again)
	quiet(t, events)

	_, err = f.msgs.Edit(ctx, original.ID, "a", "resurrect")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.msgs.SoftDelete(ctx, "missing", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchSkipsDeletedAndClampsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)

	f.send(t, conv.ID, "a", "lunch at noon")
	gone, err := f.msgs.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: "a", Content: text("lunch cancelled")})
	require.NoError(t, err)
	f.send(t, conv.ID, "b", "Lunch again?")
	_, err = f.msgs.SoftDelete(ctx, gone.ID, "a")
	require.NoError(t, err)

	found, err := f.msgs.Search(ctx, conv.ID, "lunch", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Lunch again?", *found[0].Content)

	limited, err := f.msgs.Search(ctx, conv.ID, "lunch", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = f.msgs.Search(ctx, conv.ID, "  ", 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)
	msg, err := f.msgs.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: "a", Content: text("hi")})
	require.NoError(t, err)
	events := f.listen(t, realtime.MessagesTopic(conv.ID))

	_, err = f.msgs.React(ctx, msg.ID, "b", "👍")
	require.NoError(t, err)
	_, err = f.msgs.React(ctx, msg.ID, "b", "👍")
	require.NoError(t, err)
	assert.Equal(t, models.EventReactionAdded, next(t, events).Type)
	quiet(t, events)

	_, err = f.msgs.React(ctx, msg.ID, "stranger", "👍")
	assert.ErrorIs(t, err, ErrPermission)
	_, err = f.msgs.React(ctx, msg.ID, "b", "")
	assert.ErrorIs(t, err, ErrValidation)

	rs, err := f.msgs.Reactions(ctx, msg.ID, "a")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "b", rs[0].UserID)

	require.NoError(t, f.msgs.Unreact(ctx, msg.ID, "b", "👍"))
	require.NoError(t, f.msgs.Unreact(ctx, msg.ID, "b", "👍"))
	assert.Equal(t, models.EventReactionRemoved, next(t, events).Type)
	quiet(t, events)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, realtime.Event) error {
	p.calls++
	return fmt.Errorf("relay: %w", ErrUnavailable)
}

func TestPublishFailureDoesNotUndoSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDirectConversation(ctx, "a", "b")
	require.NoError(t, err)

	pub := &failingPublisher{}
	store := NewMessageStore(f.store, f.store, f.perms, nil, pub, f.msgs.log)
	msg, err := store.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: "a", Content: text("durable")})
	require.NoError(t, err)
	assert.Equal(t, 2, pub.calls)

	page, err := f.msgs.FetchPage(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, msg.ID, page[0].ID)
}
