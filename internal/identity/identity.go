// Package identity maps local usernames to ActivityPub identifiers and back.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/davecheney/fedi/internal/snowflake"
	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when a username or identifier does not
// have the expected shape.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// usernames are restricted to characters that never need escaping in a path
// segment, which keeps the username to identifier mapping injective.
var username = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,63}$`)

// Scheme derives identifiers for a single domain.
type Scheme struct {
	domain string
	prefix string
}

// New returns a Scheme minting identifiers of the form https://{domain}/{prefix}/{username}.
func New(domain, prefix string) *Scheme {
	return &Scheme{
		domain: domain,
		prefix: prefix,
	}
}

// Domain returns the domain this Scheme mints identifiers under.
func (s *Scheme) Domain() string {
	return s.domain
}

// ValidUsername reports whether name is a well formed local username.
func ValidUsername(name string) bool {
	return username.MatchString(name)
}

// Parse validates a route parameter and returns it as a username.
func (s *Scheme) Parse(param string) (string, error) {
	if !ValidUsername(param) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, param)
	}
	return param, nil
}

// ActorID returns the canonical actor identifier for name.
func (s *Scheme) ActorID(name string) string {
	return s.base() + "/" + s.prefix + "/" + name
}

// Username recovers the username from a canonical actor identifier.
func (s *Scheme) Username(id string) (string, error) {
	rest, ok := strings.CutPrefix(id, s.base()+"/"+s.prefix+"/")
	if !ok {
		return "", fmt.Errorf("%w: %q is not a local actor", ErrInvalidIdentifier, id)
	}
	return s.Parse(rest)
}

// IsLocal reports whether id was minted by this Scheme.
func (s *Scheme) IsLocal(id string) bool {
	return strings.HasPrefix(id, s.base()+"/")
}

// Inbox returns the inbox identifier for the actor.
func (s *Scheme) Inbox(actorID string) string { return actorID + "/inbox" }

// Outbox returns the outbox identifier for the actor.
func (s *Scheme) Outbox(actorID string) string { return actorID + "/outbox" }

// Followers returns the followers collection identifier for the actor.
func (s *Scheme) Followers(actorID string) string { return actorID + "/followers" }

// Following returns the following collection identifier for the actor.
func (s *Scheme) Following(actorID string) string { return actorID + "/following" }

// Liked returns the liked collection identifier for the actor.
func (s *Scheme) Liked(actorID string) string { return actorID + "/liked" }

// Likes returns the likes collection identifier for a local object or activity.
func (s *Scheme) Likes(id string) string { return id + "/likes" }

// Shares returns the shares collection identifier for a local object or activity.
func (s *Scheme) Shares(id string) string { return id + "/shares" }

// KeyID returns the public key identifier for the actor.
func (s *Scheme) KeyID(actorID string) string { return actorID + "#main-key" }

// Endpoints returns the endpoints identifier for the actor.
func (s *Scheme) Endpoints(actorID string) string { return actorID + "#endpoints" }

// NewObjectID mints a fresh object identifier.
func (s *Scheme) NewObjectID() string {
	return s.ObjectID(uuid.New())
}

// ObjectID returns the identifier of the object with the given id.
func (s *Scheme) ObjectID(id uuid.UUID) string {
	return s.base() + "/o/" + id.String()
}

// NewActivityID mints a fresh, time ordered, activity identifier.
func (s *Scheme) NewActivityID() string {
	return s.ActivityID(snowflake.Now())
}

// ActivityID returns the identifier of the activity with the given id.
func (s *Scheme) ActivityID(id snowflake.ID) string {
	return s.base() + "/s/" + id.String()
}

func (s *Scheme) base() string {
	return "https://" + s.domain
}
