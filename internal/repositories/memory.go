package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/models"
)

// MemoryStore is an in-process implementation of every repository interface.
// Timestamps come from a strictly increasing clock so ordering by created_at
// matches commit order, as it does with clock_timestamp() in Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	clock func() time.Time
	last  time.Time

	conversations  map[string]models.Conversation
	direct         map[string]string
	participants   map[string]map[string]models.Participant
	messages       map[string]models.Message
	byConversation map[string][]string
	reactions      map[string][]models.Reaction
	presence       map[string]models.UserPresence
}

var (
	_ ConversationRepository = (*MemoryStore)(nil)
	_ ReceiptRepository      = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ PresenceRepository     = (*MemoryStore)(nil)
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.clock = clock }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clock:          time.Now,
		conversations:  make(map[string]models.Conversation),
		direct:         make(map[string]string),
		participants:   make(map[string]map[string]models.Participant),
		messages:       make(map[string]models.Message),
		byConversation: make(map[string][]string),
		reactions:      make(map[string][]models.Reaction),
		presence:       make(map[string]models.UserPresence),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now must be called with mu held for writing.
func (s *MemoryStore) now() time.Time {
	t := s.clock().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) addParticipant(conversationID, userID string, role models.Role, at time.Time) models.Participant {
	members, ok := s.participants[conversationID]
	if !ok {
		members = make(map[string]models.Participant)
		s.participants[conversationID] = members
	}
	p := models.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       at,
		IsActive:       true,
	}
	members[userID] = p
	return p
}

func (s *MemoryStore) GetOrCreateDirect(ctx context.Context, userA, userB string) (models.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.DirectKey(userA, userB)
	if id, ok := s.direct[key]; ok {
		return s.conversations[id], false, nil
	}

	at := s.now()
	conv := models.Conversation{
		ID:        uuid.NewString(),
		Kind:      models.ConversationDirect,
		IsPrivate: true,
		CreatedBy: userA,
		CreatedAt: at,
		UpdatedAt: at,
		DirectKey: &key,
	}
	s.conversations[conv.ID] = conv
	s.direct[key] = conv.ID
	s.addParticipant(conv.ID, userA, models.RoleMember, at)
	s.addParticipant(conv.ID, userB, models.RoleMember, at)
	return conv, true, nil
}

func (s *MemoryStore) FindDirect(ctx context.Context, userA, userB string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.direct[models.DirectKey(userA, userB)]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return s.conversations[id], nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, conv models.Conversation, memberIDs []string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	conv.Kind = models.ConversationGroup
	conv.CreatedAt = at
	conv.UpdatedAt = at
	conv.LastMessageAt = nil
	conv.DirectKey = nil
	conv.MessageSeq = 0
	s.conversations[conv.ID] = conv
	s.addParticipant(conv.ID, conv.CreatedBy, models.RoleAdmin, at)
	for _, id := range memberIDs {
		s.addParticipant(conv.ID, id, models.RoleMember, at)
	}
	return conv, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ConversationSummary, 0)
	for convID, members := range s.participants {
		p, ok := members[userID]
		if !ok || !p.IsActive {
			continue
		}
		summary := models.ConversationSummary{
			Conversation: s.conversations[convID],
			Role:         p.Role,
			UnreadCount:  s.unreadLocked(p),
		}
		if ids := s.byConversation[convID]; len(ids) > 0 {
			preview := s.messages[ids[len(ids)-1]].Preview()
			summary.LastMessage = &preview
		}
		out = append(out, summary)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return models.Participant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[conversationID][userID]
	if !ok {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, 0)
	for _, p := range s.participants[conversationID] {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *MemoryStore) UpsertParticipant(ctx context.Context, conversationID, userID string, role models.Role) (models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return models.Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return models.Participant{}, ErrConversationNotFound
	}
	p, ok := s.participants[conversationID][userID]
	if ok && p.IsActive {
		return p, nil
	}
	if !ok {
		return s.addParticipant(conversationID, userID, role, s.now()), nil
	}
	p.Role = role
	p.JoinedAt = s.now()
	p.LeftAt = nil
	p.IsActive = true
	s.participants[conversationID][userID] = p
	return p, nil
}

func (s *MemoryStore) DeactivateParticipant(ctx context.Context, conversationID, userID string) (models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return models.Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[conversationID][userID]
	if !ok || !p.IsActive {
		return models.Participant{}, ErrParticipantNotFound
	}
	at := s.now()
	p.IsActive = false
	p.LeftAt = &at
	s.participants[conversationID][userID] = p
	return p, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[conversationID][userID]
	if !ok || !p.IsActive {
		return time.Time{}, ErrNotParticipant
	}
	at := s.now()
	if p.LastReadAt == nil || at.After(*p.LastReadAt) {
		p.LastReadAt = &at
	}
	s.participants[conversationID][userID] = p
	return *p.LastReadAt, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[conversationID][userID]
	if !ok {
		return 0, ErrParticipantNotFound
	}
	return s.unreadLocked(p), nil
}

func (s *MemoryStore) unreadLocked(p models.Participant) int {
	count := 0
	for _, id := range s.byConversation[p.ConversationID] {
		m := s.messages[id]
		if m.SenderID == p.UserID {
			continue
		}
		if p.LastReadAt == nil || m.CreatedAt.After(*p.LastReadAt) {
			count++
		}
	}
	return count
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}
	if p, ok := s.participants[msg.ConversationID][msg.SenderID]; !ok || !p.IsActive {
		return models.Message{}, ErrNotParticipant
	}

	at := s.now()
	conv.MessageSeq++
	conv.LastMessageAt = &at
	conv.UpdatedAt = at
	s.conversations[conv.ID] = conv

	msg.Seq = conv.MessageSeq
	msg.CreatedAt = at
	msg.EditedAt = nil
	msg.DeletedAt = nil
	s.messages[msg.ID] = msg
	s.byConversation[conv.ID] = append(s.byConversation[conv.ID], msg.ID)
	return msg, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return m, nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		if m, ok := s.messages[id]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byConversation[conversationID]
	if offset < 0 || offset >= len(ids) {
		return []models.Message{}, nil
	}
	out := make([]models.Message, 0, min(limit, len(ids)-offset))
	// ids are stored oldest first
	for i := len(ids) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.messages[ids[i]])
	}
	return out, nil
}

func (s *MemoryStore) EditMessage(ctx context.Context, messageID, senderID, content string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	switch {
	case !ok:
		return models.Message{}, ErrMessageNotFound
	case m.SenderID != senderID:
		return models.Message{}, ErrNotSender
	case m.IsDeleted():
		return models.Message{}, ErrMessageDeleted
	}
	at := s.now()
	m.Content = &content
	m.EditedAt = &at
	s.messages[messageID] = m
	return m, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, messageID, senderID string) (models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	switch {
	case !ok:
		return models.Message{}, false, ErrMessageNotFound
	case m.SenderID != senderID:
		return models.Message{}, false, ErrNotSender
	case m.IsDeleted():
		return m, false, nil
	}
	at := s.now()
	m.Content = nil
	m.EditedAt = &at
	m.DeletedAt = &at
	s.messages[messageID] = m
	return m, true, nil
}

// SearchMessages matches every query term case-insensitively against live content.
func (s *MemoryStore) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byConversation[conversationID]
	out := make([]models.Message, 0)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[ids[i]]
		if m.IsDeleted() || m.Content == nil {
			continue
		}
		if containsAll(strings.ToLower(*m.Content), terms) {
			out = append(out, m)
		}
	}
	return out, nil
}

func containsAll(text string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Reaction{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[reaction.MessageID]; !ok {
		return models.Reaction{}, false, ErrMessageNotFound
	}
	for _, r := range s.reactions[reaction.MessageID] {
		if r.UserID == reaction.UserID && r.Emoji == reaction.Emoji {
			return r, false, nil
		}
	}
	reaction.CreatedAt = s.now()
	s.reactions[reaction.MessageID] = append(s.reactions[reaction.MessageID], reaction)
	return reaction, true, nil
}

func (s *MemoryStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.reactions[messageID]
	for i, r := range rs {
		if r.UserID == userID && r.Emoji == emoji {
			s.reactions[messageID] = append(rs[:i:i], rs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Reaction{}, s.reactions[messageID]...), nil
}

func (s *MemoryStore) UpsertPresence(ctx context.Context, p models.UserPresence) (models.UserPresence, error) {
	if err := ctx.Err(); err != nil {
		return models.UserPresence{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[p.UserID] = p
	return p, nil
}

func (s *MemoryStore) GetPresence(ctx context.Context, userID string) (models.UserPresence, error) {
	if err := ctx.Err(); err != nil {
		return models.UserPresence{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	if !ok {
		return models.UserPresence{}, ErrPresenceNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListOnline(ctx context.Context) ([]models.UserPresence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UserPresence, 0)
	for _, p := range s.presence {
		if p.IsOnline {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}
