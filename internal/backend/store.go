package backend

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrNotMember   = errors.New("not a participant")
	ErrEmptyBody   = errors.New("message body required")
	ErrUnknownKind = errors.New("unknown message kind")
)

// User is an authenticated identity known to the backend.
type User struct {
	ID   string
	Name string
	Role string
}

type conversation struct {
	id           string
	participants []models.Participant
	msgs         []models.Message // creation order, timestamps monotonic per conversation
	watermarks   map[string]time.Time
}

// Store is the backend's in-memory state: conversations, messages and
// per-participant read watermarks. Instead of flagging every message read
// individually, each participant carries a "read up to here" timestamp;
// unread counts and read-by sets fall out of comparing message timestamps
// against the watermarks.
type Store struct {
	mu       sync.RWMutex
	users    map[string]User
	convs    map[string]*conversation
	seenRefs map[string]models.Message
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]User),
		convs:    make(map[string]*conversation),
		seenRefs: make(map[string]models.Message),
	}
}

func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// CreateConversation registers a conversation between the given users and
// returns its ID. Pass an empty id to have one minted.
func (s *Store) CreateConversation(id string, users ...User) string {
	if id == "" {
		id = uuid.New().String()
	}
	parts := make([]models.Participant, 0, len(users))
	for _, u := range users {
		parts = append(parts, models.Participant{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id] = &conversation{
		id:           id,
		participants: parts,
		watermarks:   make(map[string]time.Time),
	}
	return id
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *Store) IsParticipant(conversationID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cv, ok := s.convs[conversationID]
	if !ok {
		return false
	}
	for _, p := range cv.participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the identities in a conversation.
func (s *Store) ParticipantIDs(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cv, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(cv.participants))
	for _, p := range cv.participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// AppendMessage persists a send. The client's correlation ref dedupes
// retries whose ack was lost: a ref seen before returns the previously
// minted message instead of creating a duplicate.
func (s *Store) AppendMessage(ref string, sender User, conversationID, body, kind string) (models.Message, bool, error) {
	if body == "" {
		return models.Message{}, false, ErrEmptyBody
	}
	if kind != models.KindText {
		return models.Message{}, false, ErrUnknownKind
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.seenRefs[ref]; ok {
		return prior, false, nil
	}
	cv, ok := s.convs[conversationID]
	if !ok {
		return models.Message{}, false, ErrNotFound
	}

	now := time.Now().UTC()
	if n := len(cv.msgs); n > 0 && !now.After(cv.msgs[n-1].CreatedAt) {
		// Keep per-conversation timestamps strictly increasing so the
		// client's total order matches arrival order.
		now = cv.msgs[n-1].CreatedAt.Add(time.Microsecond)
	}
	msg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderRole:     sender.Role,
		Body:           body,
		Kind:           kind,
		CreatedAt:      now,
	}
	cv.msgs = append(cv.msgs, msg)
	// The sender has read their own message.
	cv.watermarks[sender.ID] = now
	s.seenRefs[ref] = msg
	return msg, true, nil
}

// History returns one page of a conversation's messages. Page 1 is the
// newest page; within a page messages come back oldest first.
func (s *Store) History(conversationID string, page, pageSize int) ([]models.Message, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cv, ok := s.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	end := len(cv.msgs) - (page-1)*pageSize
	if end <= 0 {
		return []models.Message{}, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, end-start)
	copy(out, cv.msgs[start:end])
	for i := range out {
		out[i].ReadBy = readersOf(cv, out[i])
	}
	return out, nil
}

// MarkRead advances userID's watermark to now and returns the receipt
// timestamp.
func (s *Store) MarkRead(conversationID, userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.convs[conversationID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	now := time.Now().UTC()
	if cur, ok := cv.watermarks[userID]; !ok || now.After(cur) {
		cv.watermarks[userID] = now
	}
	return cv.watermarks[userID], nil
}

// ConversationsFor lists userID's conversations with per-conversation
// unread counts and last-message previews, most recent first.
func (s *Store) ConversationsFor(userID string) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Conversation{}
	for _, cv := range s.convs {
		if !isMember(cv, userID) {
			continue
		}
		item := models.Conversation{
			ID:           cv.id,
			Participants: append([]models.Participant(nil), cv.participants...),
			Unread:       unreadIn(cv, userID),
		}
		if n := len(cv.msgs); n > 0 {
			item.LastMessage = cv.msgs[n-1].Body
			item.LastMessageAt = cv.msgs[n-1].CreatedAt
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// TotalUnread sums unread counts across userID's conversations.
func (s *Store) TotalUnread(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, cv := range s.convs {
		if isMember(cv, userID) {
			total += unreadIn(cv, userID)
		}
	}
	return total
}

func isMember(cv *conversation, userID string) bool {
	for _, p := range cv.participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func unreadIn(cv *conversation, userID string) int {
	mark := cv.watermarks[userID]
	n := 0
	for _, m := range cv.msgs {
		if m.SenderID != userID && m.CreatedAt.After(mark) {
			n++
		}
	}
	return n
}

func readersOf(cv *conversation, m models.Message) []string {
	var readers []string
	for id, mark := range cv.watermarks {
		if !m.CreatedAt.After(mark) {
			readers = append(readers, id)
		}
	}
	sort.Strings(readers)
	return readers
}
