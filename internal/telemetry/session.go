package telemetry

import (
	"context"

	"github.com/google/uuid"

	"github.com/bft-labs/predem/internal/domain"
)

// CurrentSession returns the open session, or the zero Session.
func (c *Collector) CurrentSession() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Open() {
		return domain.Session{}
	}
	return c.session
}

// StartSession opens a new session and records its start. An open session
// is ended first.
func (c *Collector) StartSession(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Open() {
		if err := c.endSessionLocked(ctx); err != nil {
			return domain.Session{}, err
		}
	}

	s := domain.Session{ID: uuid.NewString(), StartedAt: c.now()}
	c.session = s
	_, err := c.recordJSON(ctx, domain.KindSessionEvent, s.ID, domain.SessionEvent{
		SessionID: s.ID,
		Phase:     domain.SessionStarted,
		At:        s.StartedAt,
	})
	return s, err
}

// EndSession closes the open session and records its end. Without an open
// session it does nothing.
func (c *Collector) EndSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Open() {
		return nil
	}
	return c.endSessionLocked(ctx)
}

func (c *Collector) endSessionLocked(ctx context.Context) error {
	c.session.EndedAt = c.now()
	s := c.session
	_, err := c.recordJSON(ctx, domain.KindSessionEvent, s.ID, domain.SessionEvent{
		SessionID: s.ID,
		Phase:     domain.SessionEnded,
		At:        s.EndedAt,
		Duration:  s.EndedAt.Sub(s.StartedAt),
	})
	return err
}

// SetUser records a UserEvent when u differs from the last identity set.
func (c *Collector) SetUser(ctx context.Context, u domain.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.haveUser && c.user.Equal(u) {
		return nil
	}
	sessionID := ""
	if c.session.Open() {
		sessionID = c.session.ID
	}
	id, err := c.recordJSON(ctx, domain.KindUserEvent, sessionID, domain.UserEvent{
		User:      u,
		SessionID: sessionID,
		At:        c.now(),
	})
	if err != nil {
		return err
	}
	// A dropped event leaves the identity unset so a later call records it.
	if id != 0 {
		c.user, c.haveUser = u, true
	}
	return nil
}

// User returns the last identity recorded.
func (c *Collector) User() domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}
