// Package broadcast fans frames out to every joined session.
package broadcast

import (
	"github.com/nibblearena/gameserver/session"
)

// Registry supplies the current recipient set. Implemented by world.World.
type Registry interface {
	SessionsSnapshot() []*session.Session
}

// Broadcaster sends a frame to every session in the registry. The recipient
// list is snapshotted under the registry's lock; the sends themselves happen
// outside it, and Session.Send only enqueues, so a slow client never stalls
// the caller.
type Broadcaster struct {
	registry Registry
}

func New(registry Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Broadcast sends frame to every joined session except exclude (which may be
// nil). Returns the number of recipients.
func (b *Broadcaster) Broadcast(frame string, exclude *session.Session) int {
	recipients := b.registry.SessionsSnapshot()
	n := 0
	for _, s := range recipients {
		if s == exclude {
			continue
		}
		s.Send(frame)
		n++
	}
	return n
}
