package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MegaGrindStone/chat-web-ui/internal/conversation"
	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const sessionCookieName = "session_id"

// sessionRegistry owns the conversation of every live session. A conversation is loaded from the store the first
// time its session is seen and then kept in memory; each session also gets its own request limiter.
type sessionRegistry struct {
	mu       sync.Mutex
	convs    map[string]*conversation.Conversation
	limiters map[string]*rate.Limiter

	store Store
	limit rate.Limit
	burst int
}

func newSessionRegistry(store Store, rl RateLimit) *sessionRegistry {
	limit := rate.Inf
	if rl.Requests > 0 {
		per := rl.Per
		if per <= 0 {
			per = time.Minute
		}
		limit = rate.Every(per / time.Duration(rl.Requests))
	}

	return &sessionRegistry{
		convs:    make(map[string]*conversation.Conversation),
		limiters: make(map[string]*rate.Limiter),
		store:    store,
		limit:    limit,
		burst:    rl.Requests,
	}
}

func (s *sessionRegistry) create(ctx context.Context) (string, *conversation.Conversation, error) {
	session := models.Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := s.store.AddSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("failed to add session: %w", err)
	}

	conv := conversation.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[session.ID] = conv

	return session.ID, conv, nil
}

func (s *sessionRegistry) load(ctx context.Context, id string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.convs[id]; ok {
		return conv, nil
	}

	messages, err := s.store.Messages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	conv := conversation.Restore(messages)
	s.convs[id] = conv

	return conv, nil
}

// allow consumes one request of the session's budget.
func (s *sessionRegistry) allow(id string) bool {
	s.mu.Lock()
	lim, ok := s.limiters[id]
	if !ok {
		lim = rate.NewLimiter(s.limit, s.burst)
		s.limiters[id] = lim
	}
	s.mu.Unlock()

	return lim.Allow()
}

// session returns the caller's session ID and conversation, starting a new session and setting its cookie when
// the request carries none.
func (m Main) session(w http.ResponseWriter, r *http.Request) (string, *conversation.Conversation, error) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			conv, err := m.sessions.load(r.Context(), c.Value)
			if err != nil {
				return "", nil, err
			}
			return c.Value, conv, nil
		}
	}

	id, conv, err := m.sessions.create(r.Context())
	if err != nil {
		return "", nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id, conv, nil
}
