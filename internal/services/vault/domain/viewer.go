package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ViewerSession records one actor's active observation of a guild's live
// view. Used only for idle detection, never for access control.
type ViewerSession struct {
	actorID  uuid.UUID
	guildID  uuid.UUID
	openedAt time.Time

	lastInteractionAt atomic.Int64
}

// NewViewerSession opens a session for the given actor and guild.
func NewViewerSession(actorID, guildID uuid.UUID) *ViewerSession {
	session := &ViewerSession{
		actorID:  actorID,
		guildID:  guildID,
		openedAt: time.Now().UTC(),
	}
	session.lastInteractionAt.Store(session.openedAt.UnixMilli())
	return session
}

// ActorID returns the observing actor.
func (v *ViewerSession) ActorID() uuid.UUID {
	return v.actorID
}

// GuildID returns the observed guild.
func (v *ViewerSession) GuildID() uuid.UUID {
	return v.guildID
}

// OpenedAt returns when the actor opened the view.
func (v *ViewerSession) OpenedAt() time.Time {
	return v.openedAt
}

// RecordInteraction stamps the session with the current time. Called on
// every observed mutation by the actor.
func (v *ViewerSession) RecordInteraction() {
	v.lastInteractionAt.Store(time.Now().UTC().UnixMilli())
}

// LastInteraction returns the time of the most recent interaction.
func (v *ViewerSession) LastInteraction() time.Time {
	return time.UnixMilli(v.lastInteractionAt.Load()).UTC()
}

// IsIdle reports whether the actor has been inactive longer than threshold.
func (v *ViewerSession) IsIdle(threshold time.Duration) bool {
	return time.Since(v.LastInteraction()) > threshold
}
