// Package activitypub implements the ActivityPub inbox and outbox
// pipelines and their HTTP surface.
package activitypub

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidActivity is returned for documents missing required fields.
	ErrInvalidActivity = errors.New("invalid activity")
	// ErrUnresolvableActor is returned when the originating actor of an
	// activity is neither known locally nor fetchable.
	ErrUnresolvableActor = errors.New("unresolvable actor")
	// ErrUnknownActor is returned when publishing as an actor that is not local.
	ErrUnknownActor = errors.New("unknown actor")
)

// Public is the public address sentinel.
const Public = "https://www.w3.org/ns/activitystreams#Public"

// ActivityStreams is the JSON-LD context of every document we produce.
const ActivityStreams = "https://www.w3.org/ns/activitystreams"

// activityTypes are the types that are activities in their own right and
// so are not wrapped in a Create when published.
var activityTypes = map[string]bool{
	"Accept":   true,
	"Add":      true,
	"Announce": true,
	"Block":    true,
	"Create":   true,
	"Delete":   true,
	"Flag":     true,
	"Follow":   true,
	"Like":     true,
	"Reject":   true,
	"Remove":   true,
	"Undo":     true,
	"Update":   true,
}

// isPublic reports whether addr is one of the spellings of the public
// address sentinel.
func isPublic(addr string) bool {
	switch addr {
	case Public, "as:Public", "Public":
		return true
	default:
		return false
	}
}

// idOf returns the identifier of v, which is either an identifier or an
// embedded object.
func idOf(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any:
		return stringFromAny(v["id"])
	default:
		return ""
	}
}

// addresses returns the string entries of an addressing property, which
// may be a single value or an array.
func addresses(v any) []string {
	switch v := v.(type) {
	case string:
		return []string{v}
	case []any:
		var addrs []string
		for _, a := range v {
			if id := idOf(a); id != "" {
				addrs = append(addrs, id)
			}
		}
		return addrs
	case []string:
		return v
	default:
		return nil
	}
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

func mapFromAny(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// trimKeyID removes the #main-key suffix from the key id.
func trimKeyID(id string) string {
	if i := strings.Index(id, "#"); i != -1 {
		return id[:i]
	}
	return id
}

// clone returns a shallow copy of doc.
func clone(doc map[string]any) map[string]any {
	c := make(map[string]any, len(doc))
	for k, v := range doc {
		c[k] = v
	}
	return c
}
