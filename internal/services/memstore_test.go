package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oaa-dev/service-system-sub003/internal/models"
	"github.com/oaa-dev/service-system-sub003/internal/repository"
)

type participantKey struct {
	conversationID int64
	userID         int64
}

type memState struct {
	nextID        int64
	users         map[int64]models.PublicProfile
	conversations map[int64]models.Conversation
	participants  map[participantKey]models.Participant
	messages      map[int64]models.ChatMessage
}

func (s *memState) clone() *memState {
	out := &memState{
		nextID:        s.nextID,
		users:         make(map[int64]models.PublicProfile, len(s.users)),
		conversations: make(map[int64]models.Conversation, len(s.conversations)),
		participants:  make(map[participantKey]models.Participant, len(s.participants)),
		messages:      make(map[int64]models.ChatMessage, len(s.messages)),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.conversations {
		out.conversations[k] = v
	}
	for k, v := range s.participants {
		out.participants[k] = v
	}
	for k, v := range s.messages {
		out.messages[k] = v
	}
	return out
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memStore is a Store backed by maps. Transactions are serialized and roll
// back by discarding a copy of the state, which is enough to exercise the
// orchestration logic without Postgres. Because a whole transaction holds mu,
// row-level interleavings between transactions cannot happen here; those are
// covered by the Postgres tests in chat_service_integration_test.go.
type memStore struct {
	mu    sync.Mutex
	state *memState
	clock time.Time
	// ops lists the row-level writes in the order they were issued.
	ops []memOp

	// onCreate runs before a conversation insert inside the transaction. When
	// it returns true the insert reports repository.ErrDuplicate.
	onCreate func(st *memState, pair models.Pair, now time.Time) bool
	// commitErr makes the next InTx fail after fn succeeded.
	commitErr error
}

type memOp struct {
	name   string
	userID int64
}

const (
	opLockConversation  = "conversation.lock"
	opTouchConversation = "conversation.touch"
	opRestore           = "participant.restore"
	opIncrementUnread   = "participant.increment"
	opMarkRead          = "participant.mark_read"
	opRemove            = "participant.remove"
	opCreateMessage     = "message.create"
	opReadMessages      = "message.mark_read"
	opHideMessage       = "message.hide"
)

// record must be called from inside with, where mu is held.
func (r *memRepos) record(name string, userID int64) {
	r.store.ops = append(r.store.ops, memOp{name: name, userID: userID})
}

func (s *memStore) takeOps() []memOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.ops
	s.ops = nil
	return ops
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			users:         map[int64]models.PublicProfile{},
			conversations: map[int64]models.Conversation{},
			participants:  map[participantKey]models.Participant{},
			messages:      map[int64]models.ChatMessage{},
		},
		clock: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) addUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[id] = models.PublicProfile{ID: id, Name: name}
}

// tick must be called with mu held.
func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memStore) Repos() Repos {
	r := &memRepos{store: s}
	return Repos{Users: r, Conversations: r, Participants: r, Messages: memMessages{r}}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	r := &memRepos{store: s, tx: working, now: s.tick()}
	if err := fn(ctx, Repos{Users: r, Conversations: r, Participants: r, Messages: memMessages{r}}); err != nil {
		return err
	}
	if s.commitErr != nil {
		err := s.commitErr
		s.commitErr = nil
		return err
	}
	s.state = working
	return nil
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// actualUnread counts what the stored counter is supposed to equal.
func actualUnread(st *memState, p models.Participant) int {
	count := 0
	for _, m := range st.messages {
		if m.ConversationID != p.ConversationID || m.SenderID == p.UserID || m.ReadAt != nil {
			continue
		}
		if p.RestoredAt != nil && m.CreatedAt.Before(*p.RestoredAt) {
			continue
		}
		count++
	}
	return count
}

type memRepos struct {
	store *memStore
	tx    *memState
	now   time.Time
}

func (r *memRepos) with(fn func(st *memState, now time.Time)) {
	if r.tx != nil {
		fn(r.tx, r.now)
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	fn(r.store.state, r.store.tick())
}

func (r *memRepos) GetProfile(_ context.Context, id int64) (profile *models.PublicProfile, err error) {
	r.with(func(st *memState, _ time.Time) {
		p, ok := st.users[id]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		profile = &p
	})
	return profile, err
}

func findPair(st *memState, pair models.Pair) (models.Conversation, bool) {
	for _, c := range st.conversations {
		if c.UserLowID == pair.Low && c.UserHighID == pair.High {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func insertConversation(st *memState, pair models.Pair, now time.Time) models.Conversation {
	c := models.Conversation{
		ID:         st.id(),
		UserLowID:  pair.Low,
		UserHighID: pair.High,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	st.conversations[c.ID] = c
	for _, userID := range pair.Members() {
		st.participants[participantKey{c.ID, userID}] = models.Participant{
			ID:             st.id(),
			ConversationID: c.ID,
			UserID:         userID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	return c
}

func (r *memRepos) FindByPair(_ context.Context, pair models.Pair) (conversation *models.Conversation, err error) {
	r.with(func(st *memState, _ time.Time) {
		c, ok := findPair(st, pair)
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		conversation = &c
	})
	return conversation, err
}

func (r *memRepos) CreateWithParticipants(_ context.Context, pair models.Pair) (conversation *models.Conversation, err error) {
	r.with(func(st *memState, now time.Time) {
		if r.store.onCreate != nil && r.store.onCreate(st, pair, now) {
			err = repository.ErrDuplicate
			return
		}
		if _, ok := findPair(st, pair); ok {
			err = repository.ErrDuplicate
			return
		}
		c := insertConversation(st, pair, now)
		conversation = &c
	})
	return conversation, err
}

func (r *memRepos) LockByID(_ context.Context, id int64) (conversation *models.Conversation, err error) {
	r.with(func(st *memState, _ time.Time) {
		r.record(opLockConversation, 0)
		c, ok := st.conversations[id]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		conversation = &c
	})
	return conversation, err
}

func (r *memRepos) TouchLastMessage(_ context.Context, id int64, at time.Time) (err error) {
	r.with(func(st *memState, now time.Time) {
		r.record(opTouchConversation, 0)
		c, ok := st.conversations[id]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
			t := at
			c.LastMessageAt = &t
		}
		c.UpdatedAt = now
		st.conversations[id] = c
	})
	return err
}

func latestVisible(st *memState, conversationID int64) *models.ChatMessage {
	var latest *models.ChatMessage
	for _, m := range st.messages {
		if m.ConversationID != conversationID || m.DeletedAt != nil {
			continue
		}
		if latest == nil || newerThan(m, *latest) {
			m := m
			latest = &m
		}
	}
	return latest
}

func newerThan(a, b models.ChatMessage) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func viewFor(st *memState, c models.Conversation, p models.Participant) models.ConversationView {
	otherID, _ := c.Pair().Other(p.UserID)
	view := models.ConversationView{
		ConversationSummary: models.ConversationSummary{
			Conversation:  c,
			OtherUser:     st.users[otherID],
			LatestMessage: latestVisible(st, c.ID),
			UnreadCount:   p.UnreadCount,
		},
		LastReadAt: p.LastReadAt,
	}
	return view
}

func (r *memRepos) GetViewForUser(_ context.Context, conversationID int64, userID int64) (view *models.ConversationView, err error) {
	r.with(func(st *memState, _ time.Time) {
		p, ok := st.participants[participantKey{conversationID, userID}]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		v := viewFor(st, st.conversations[conversationID], p)
		view = &v
	})
	return view, err
}

func (r *memRepos) ListForUser(_ context.Context, userID int64, page models.Page) (summaries []models.ConversationSummary, total int, err error) {
	r.with(func(st *memState, _ time.Time) {
		all := make([]models.ConversationSummary, 0)
		for key, p := range st.participants {
			if key.userID != userID || p.State.IsRemoved() {
				continue
			}
			all = append(all, viewFor(st, st.conversations[key.conversationID], p).ConversationSummary)
		}
		sort.Slice(all, func(i, j int) bool {
			a, b := all[i].LastMessageAt, all[j].LastMessageAt
			switch {
			case a == nil && b == nil:
				return all[i].ID > all[j].ID
			case a == nil:
				return false
			case b == nil:
				return true
			case a.Equal(*b):
				return all[i].ID > all[j].ID
			default:
				return a.After(*b)
			}
		})
		total = len(all)
		summaries = paginate(all, page)
	})
	return summaries, total, err
}

func paginate[T any](items []T, page models.Page) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (r *memRepos) Get(_ context.Context, conversationID int64, userID int64) (participant *models.Participant, err error) {
	r.with(func(st *memState, _ time.Time) {
		p, ok := st.participants[participantKey{conversationID, userID}]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		participant = &p
	})
	return participant, err
}

func (r *memRepos) Restore(_ context.Context, conversationID int64, userID int64) (participant *models.Participant, err error) {
	r.with(func(st *memState, now time.Time) {
		r.record(opRestore, userID)
		key := participantKey{conversationID, userID}
		p, ok := st.participants[key]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		if p.State.IsRemoved() {
			t := now
			p.State = models.Active()
			p.RestoredAt = &t
			p.UnreadCount = 0
		}
		p.UpdatedAt = now
		st.participants[key] = p
		participant = &p
	})
	return participant, err
}

func (r *memRepos) IncrementUnread(_ context.Context, conversationID int64, userID int64) (unread int, err error) {
	r.with(func(st *memState, now time.Time) {
		r.record(opIncrementUnread, userID)
		key := participantKey{conversationID, userID}
		p, ok := st.participants[key]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		p.UnreadCount++
		p.UpdatedAt = now
		st.participants[key] = p
		unread = p.UnreadCount
	})
	return unread, err
}

func (r *memRepos) MarkRead(_ context.Context, conversationID int64, userID int64) (participant *models.Participant, err error) {
	r.with(func(st *memState, now time.Time) {
		r.record(opMarkRead, userID)
		key := participantKey{conversationID, userID}
		p, ok := st.participants[key]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		t := now
		p.UnreadCount = 0
		p.LastReadAt = &t
		p.UpdatedAt = now
		st.participants[key] = p
		participant = &p
	})
	return participant, err
}

func (r *memRepos) SoftDelete(_ context.Context, conversationID int64, userID int64) (err error) {
	r.with(func(st *memState, now time.Time) {
		r.record(opRemove, userID)
		key := participantKey{conversationID, userID}
		p, ok := st.participants[key]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		if !p.State.IsRemoved() {
			p.State = models.Removed(now)
		}
		p.UpdatedAt = now
		st.participants[key] = p
	})
	return err
}

func (r *memRepos) TotalUnread(_ context.Context, userID int64) (total int, err error) {
	r.with(func(st *memState, _ time.Time) {
		for key, p := range st.participants {
			if key.userID == userID && !p.State.IsRemoved() {
				total += p.UnreadCount
			}
		}
	})
	return total, err
}

func (r *memRepos) Create(_ context.Context, conversationID int64, senderID int64, body string) (message *models.ChatMessage, err error) {
	r.with(func(st *memState, now time.Time) {
		r.record(opCreateMessage, senderID)
		c, ok := st.conversations[conversationID]
		if !ok || !c.Pair().Has(senderID) {
			err = pgx.ErrNoRows
			return
		}
		m := models.ChatMessage{
			ID:             st.id(),
			ConversationID: conversationID,
			SenderID:       senderID,
			Body:           body,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		st.messages[m.ID] = m
		message = &m
	})
	return message, err
}

func (r *memRepos) messageByID(id int64) (message *models.ChatMessage, err error) {
	r.with(func(st *memState, _ time.Time) {
		m, ok := st.messages[id]
		if !ok {
			err = pgx.ErrNoRows
			return
		}
		message = &m
	})
	return message, err
}

func (r *memRepos) Latest(_ context.Context, conversationID int64) (message *models.ChatMessage, err error) {
	r.with(func(st *memState, _ time.Time) {
		message = latestVisible(st, conversationID)
		if message == nil {
			err = pgx.ErrNoRows
		}
	})
	return message, err
}

func sortNewestFirst(messages []models.ChatMessage) {
	sort.Slice(messages, func(i, j int) bool {
		return newerThan(messages[i], messages[j])
	})
}

func (r *memRepos) ListByConversation(_ context.Context, conversationID int64, page models.Page) (messages []models.ChatMessage, total int, err error) {
	r.with(func(st *memState, _ time.Time) {
		all := make([]models.ChatMessage, 0)
		for _, m := range st.messages {
			if m.ConversationID == conversationID && m.DeletedAt == nil {
				all = append(all, m)
			}
		}
		sortNewestFirst(all)
		total = len(all)
		messages = paginate(all, page)
	})
	return messages, total, err
}

func (r *memRepos) MarkConversationRead(_ context.Context, conversationID int64, readerID int64) (flipped int64, err error) {
	r.with(func(st *memState, now time.Time) {
		r.record(opReadMessages, readerID)
		for id, m := range st.messages {
			if m.ConversationID != conversationID || m.SenderID == readerID || m.ReadAt != nil {
				continue
			}
			t := now
			m.ReadAt = &t
			m.UpdatedAt = now
			st.messages[id] = m
			flipped++
		}
	})
	return flipped, err
}

func (r *memRepos) SearchForUser(_ context.Context, userID int64, query string, page models.Page) (messages []models.ChatMessage, total int, err error) {
	r.with(func(st *memState, _ time.Time) {
		needle := strings.ToLower(query)
		all := make([]models.ChatMessage, 0)
		for _, m := range st.messages {
			p, ok := st.participants[participantKey{m.ConversationID, userID}]
			if !ok || p.State.IsRemoved() || m.DeletedAt != nil {
				continue
			}
			if strings.Contains(strings.ToLower(m.Body), needle) {
				all = append(all, m)
			}
		}
		sortNewestFirst(all)
		total = len(all)
		messages = paginate(all, page)
	})
	return messages, total, err
}

// memMessages overrides the names memRepos already uses for conversations
// and participants.
type memMessages struct {
	*memRepos
}

func (m memMessages) GetByID(_ context.Context, id int64) (*models.ChatMessage, error) {
	return m.messageByID(id)
}

func (m memMessages) SoftDelete(_ context.Context, messageID int64, senderID int64) (changed bool, err error) {
	m.with(func(st *memState, now time.Time) {
		m.record(opHideMessage, senderID)
		msg, ok := st.messages[messageID]
		if !ok || msg.SenderID != senderID || msg.DeletedAt != nil {
			return
		}
		t := now
		msg.DeletedAt = &t
		msg.UpdatedAt = now
		st.messages[messageID] = msg
		changed = true
	})
	return changed, err
}
