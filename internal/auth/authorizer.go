package auth

import (
	"strings"
	"sync"

	"github.com/campusapps/roomcast/internal/realtime"
)

// Roster implements realtime.Authorizer from the claims of currently
// connected users. The transport binds a user's claims when their first
// connection authenticates and unbinds them when their last connection
// closes; joins in between are decided from the bound claims.
//
// Access rules by room kind:
//
//	global  anyone, including anonymous connections
//	event   any authenticated user; when the claims enumerate event scopes,
//	        the event must be among them
//	team    members of the team, or admins
//	admin   admins only
//	direct  the two participants named in the room id
type Roster struct {
	mu     sync.RWMutex
	claims map[realtime.Identity]*Claims
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{claims: make(map[realtime.Identity]*Claims)}
}

// Bind associates claims with an identity for the duration of its session.
func (r *Roster) Bind(identity realtime.Identity, claims *Claims) {
	if identity == "" || claims == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[identity] = claims
}

// Unbind drops the identity's claims once its last connection is gone.
func (r *Roster) Unbind(identity realtime.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, identity)
}

// CanJoin decides whether the identity may join the room.
func (r *Roster) CanJoin(identity realtime.Identity, room realtime.RoomID) bool {
	kind := room.Kind()
	if kind == realtime.KindGlobal {
		return true
	}
	if identity == "" {
		return false
	}

	r.mu.RLock()
	claims := r.claims[identity]
	r.mu.RUnlock()
	if claims == nil {
		return false
	}

	switch kind {
	case realtime.KindEvent:
		if len(claims.Events) == 0 {
			return true
		}
		return containsScope(claims.Events, strings.TrimPrefix(string(room), "event-"))
	case realtime.KindTeam:
		if claims.Role == RoleAdmin {
			return true
		}
		return containsScope(claims.Teams, strings.TrimPrefix(string(room), "team-"))
	case realtime.KindAdmin:
		return claims.Role == RoleAdmin
	case realtime.KindDirect:
		return directParticipant(string(room), string(identity))
	default:
		return false
	}
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// directParticipant checks that the identity is one of the two users named
// in a "direct:<a>:<b>" room id.
func directParticipant(room, identity string) bool {
	parts := strings.SplitN(room, ":", 3)
	if len(parts) != 3 {
		return false
	}
	return parts[1] == identity || parts[2] == identity
}
