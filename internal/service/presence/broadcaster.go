package presence

import (
	"time"

	"signaling-backend/internal/domain"
	"signaling-backend/internal/transport"
)

// Broadcaster turns registry transitions into presence events
type Broadcaster struct {
	registry *Registry
	emitter  transport.Emitter
}

// NewBroadcaster creates a Broadcaster over the registry
func NewBroadcaster(registry *Registry, emitter transport.Emitter) *Broadcaster {
	return &Broadcaster{registry: registry, emitter: emitter}
}

// OnUserRegistered brings the new connection up to date and announces the
// user to everyone else. Must be called after Registry.Register.
func (b *Broadcaster) OnUserRegistered(userID, handle string) {
	b.emitter.Emit(handle, domain.EventOnlineUsersList, b.registry.ListOnlineUserIDs())

	for _, rec := range b.registry.OnlineRecords() {
		if rec.UserID == userID {
			continue
		}
		b.emitter.Emit(handle, domain.EventUserOnlineStatus, rec.Status())
	}

	rec, ok := b.registry.FindByUser(userID)
	if !ok {
		return
	}
	b.emitter.Broadcast(domain.EventUserOnlineStatus, rec.Status(), handle)
}

// OnUserDisconnected announces the user as offline to remaining connections
func (b *Broadcaster) OnUserDisconnected(userID string, lastSeen time.Time) {
	b.emitter.Broadcast(domain.EventUserOnlineStatus, domain.UserStatus{
		UserID:   userID,
		IsOnline: false,
		LastSeen: lastSeen,
	})
}

// OnOnlineListRequested replies with the current snapshot only
func (b *Broadcaster) OnOnlineListRequested(handle string) {
	b.emitter.Emit(handle, domain.EventOnlineUsersList, b.registry.ListOnlineUserIDs())
}
