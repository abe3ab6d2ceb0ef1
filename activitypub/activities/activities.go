// Package activities builds the activity documents local actors publish.
// The documents carry no id; one is assigned when they are published.
package activities

const (
	ACCEPT = "Accept"
	CREATE = "Create"
	FOLLOW = "Follow"
	LIKE   = "Like"
	NOTE   = "Note"
	REJECT = "Reject"
	UNDO   = "Undo"
)

// Follow returns a request from actor to follow object.
func Follow(actor, object string) map[string]any {
	return map[string]any{
		"type":   FOLLOW,
		"actor":  actor,
		"object": object,
		"to":     []any{object},
	}
}

// Unfollow undoes a follow of object. The follow is embedded so the
// recipient need not have stored it.
func Unfollow(actor, object string) map[string]any {
	return Undo(actor, Follow(actor, object), object)
}

// Like returns a like of object by actor.
func Like(actor, object string) map[string]any {
	return map[string]any{
		"type":   LIKE,
		"actor":  actor,
		"object": object,
	}
}

// Unlike undoes a like of object.
func Unlike(actor, object string) map[string]any {
	return Undo(actor, Like(actor, object))
}

// Undo returns an undo of activity, addressed to to.
func Undo(actor string, activity map[string]any, to ...string) map[string]any {
	undo := map[string]any{
		"type":   UNDO,
		"actor":  actor,
		"object": activity,
	}
	if len(to) > 0 {
		undo["to"] = addrs(to)
	}
	return undo
}

// Accept returns the acceptance of the follow with id follow sent by
// follower.
func Accept(actor, follow, follower string) map[string]any {
	return reply(ACCEPT, actor, follow, follower)
}

// Reject returns the rejection of the follow with id follow sent by
// follower.
func Reject(actor, follow, follower string) map[string]any {
	return reply(REJECT, actor, follow, follower)
}

// Note returns a bare note with content addressed to to.
func Note(content string, to ...string) map[string]any {
	note := map[string]any{
		"type":    NOTE,
		"content": content,
	}
	if len(to) > 0 {
		note["to"] = addrs(to)
	}
	return note
}

func reply(typ, actor, activity, to string) map[string]any {
	return map[string]any{
		"type":   typ,
		"actor":  actor,
		"object": activity,
		"to":     []any{to},
	}
}

func addrs(s []string) []any {
	a := make([]any, len(s))
	for i := range s {
		a[i] = s[i]
	}
	return a
}
