package activitypub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecheney/fedi/internal/algorithms"
	"github.com/davecheney/fedi/internal/snowflake"
	"github.com/davecheney/fedi/models"
)

// Publication is the result of publishing an activity. Delivery failures
// do not fail the publication; the activity is committed to the outbox
// before delivery starts.
type Publication struct {
	// Activity is the published activity as stored.
	Activity map[string]any
	// Delivered are the inboxes the activity was delivered to.
	Delivered []string
	// Failures are the recipients the activity could not be delivered to.
	Failures []*DeliveryFailure
}

// ID returns the identifier assigned to the published activity.
func (p *Publication) ID() string {
	return stringFromAny(p.Activity["id"])
}

// Err returns the delivery failures joined together, or nil.
func (p *Publication) Err() error {
	errs := make([]error, 0, len(p.Failures))
	for _, f := range p.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// DeliveryFailure records a recipient that could not be delivered to.
type DeliveryFailure struct {
	Recipient string
	Err       error
}

func (f *DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver to %s: %v", f.Recipient, f.Err)
}

func (f *DeliveryFailure) Unwrap() error {
	return f.Err
}

// Publish publishes doc as the local actor actorURI. A bare object is
// wrapped in a Create addressed to the public. The activity is assigned a
// fresh id and timestamp, stored, appended to the outbox, and then
// delivered to its recipients.
func (s *Service) Publish(ctx context.Context, actorURI string, doc map[string]any) (*Publication, error) {
	actor, err := models.NewActors(s.db.WithContext(ctx)).FindByURI(actorURI)
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, actorURI)
	case err != nil:
		return nil, err
	case !actor.Local:
		return nil, fmt.Errorf("%w: %s is not local", ErrUnknownActor, actorURI)
	}
	account, err := s.account(ctx, actor)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidActivity)
	}
	activity, err := s.envelope(actor, clone(doc))
	if err != nil {
		return nil, err
	}

	var audience []string
	err = s.collections.Mutate(ctx, actorURI, func(m *models.Mutation) error {
		objects := models.NewObjects(m.Tx())
		sid := snowflake.Now()
		now := sid.ToTime()
		id := s.scheme.ActivityID(sid)
		activity["id"] = id
		activity["published"] = now.Format(time.RFC3339)

		audience = addressees(activity)
		delete(activity, "bto")
		delete(activity, "bcc")

		if obj := mapFromAny(activity["object"]); obj != nil && activity["type"] == "Create" {
			obj = clone(obj)
			objID := idOf(obj)
			switch {
			case objID == "":
				objID = s.scheme.NewObjectID()
				obj["id"] = objID
			case !s.scheme.IsLocal(objID):
				return fmt.Errorf("%w: cannot create remote object %s", ErrInvalidActivity, objID)
			}
			obj["attributedTo"] = actorURI
			obj["likes"] = s.scheme.Likes(objID)
			obj["shares"] = s.scheme.Shares(objID)
			activity["likes"] = s.scheme.Likes(id)
			activity["shares"] = s.scheme.Shares(id)
			if _, ok := obj["published"]; !ok {
				obj["published"] = activity["published"]
			}
			delete(obj, "bto")
			delete(obj, "bcc")
			activity["object"] = obj
			stored, err := objects.Insert(objID, obj)
			if err != nil {
				return err
			}
			if !stored {
				return fmt.Errorf("%w: %s already exists", ErrInvalidActivity, objID)
			}
		}
		if _, err := objects.Insert(id, activity); err != nil {
			return err
		}
		if _, err := m.Append(models.Outbox, id); err != nil {
			return err
		}
		return s.outboxSideEffects(m, actor, activity)
	})
	if err != nil {
		return nil, err
	}
	pub := &Publication{Activity: activity}
	s.logger.Debug("outbox", "actor", actorURI, "activity", pub.ID(), "type", activity["type"], "state", "published")
	s.deliver(ctx, actor, account, audience, pub)
	return pub, nil
}

// envelope returns doc as an activity by actor, wrapping bare objects in
// a Create.
func (s *Service) envelope(actor *models.Actor, doc map[string]any) (map[string]any, error) {
	typ := stringFromAny(doc["type"])
	if activityTypes[typ] {
		if by := idOf(doc["actor"]); by != "" && by != actor.URI {
			return nil, fmt.Errorf("%w: actor %s does not match %s", ErrInvalidActivity, by, actor.URI)
		}
		if doc["object"] == nil {
			return nil, fmt.Errorf("%w: missing object", ErrInvalidActivity)
		}
		doc["actor"] = actor.URI
		doc["@context"] = ActivityStreams
		if _, ok := doc["to"]; !ok {
			// follows and their undos are addressed to the followee.
			switch inner := mapFromAny(doc["object"]); {
			case typ == "Follow":
				doc["to"] = []any{idOf(doc["object"])}
			case typ == "Undo" && inner != nil && inner["type"] == "Follow":
				doc["to"] = []any{idOf(inner["object"])}
			}
		}
		return doc, nil
	}
	if typ == "" {
		doc["type"] = "Note"
	}
	delete(doc, "@context")
	to := []string{Public}
	for _, addr := range addresses(doc["to"]) {
		if !isPublic(addr) {
			to = append(to, addr)
		}
	}
	doc["to"] = toAny(algorithms.Uniq(to))
	activity := map[string]any{
		"@context": ActivityStreams,
		"type":     "Create",
		"actor":    actor.URI,
		"object":   doc,
		"to":       doc["to"],
	}
	if cc := addresses(doc["cc"]); len(cc) > 0 {
		activity["cc"] = toAny(cc)
	}
	return activity, nil
}

// outboxSideEffects applies the collection changes implied by publishing
// activity.
func (s *Service) outboxSideEffects(m *models.Mutation, actor *models.Actor, activity map[string]any) error {
	switch activity["type"] {
	case "Like":
		_, err := m.Append(models.Liked, idOf(activity["object"]))
		return err
	case "Undo":
		inner := mapFromAny(activity["object"])
		if inner == nil {
			var err error
			inner, err = models.NewObjects(m.Tx()).Get(idOf(activity["object"]))
			if err != nil {
				return fmt.Errorf("%w: undo of unknown activity: %v", ErrInvalidActivity, err)
			}
		}
		if by := idOf(inner["actor"]); by != actor.URI {
			return fmt.Errorf("%w: cannot undo an activity by %s", ErrInvalidActivity, by)
		}
		switch inner["type"] {
		case "Like":
			_, err := m.Remove(models.Liked, idOf(inner["object"]))
			return err
		case "Follow":
			_, err := m.Remove(models.Following, idOf(inner["object"]))
			return err
		}
	}
	return nil
}

// target is a resolved recipient.
type target struct {
	inbox string
	local *models.Actor
}

// deliver fans the publication out to audience. Failures are recorded on
// pub and, for remote inboxes, queued for retry.
func (s *Service) deliver(ctx context.Context, actor *models.Actor, account *models.Account, audience []string, pub *Publication) {
	targets, failures := s.recipients(ctx, actor, account, audience)
	pub.Failures = append(pub.Failures, failures...)
	for _, t := range targets {
		var err error
		if t.local != nil {
			_, err = s.Receive(ctx, t.local, pub.Activity)
		} else {
			err = s.deliverer.Deliver(ctx, account, t.inbox, pub.Activity)
		}
		if err != nil {
			s.logger.Warn("delivery failed", "actor", actor.URI, "activity", pub.ID(), "inbox", t.inbox, "error", err)
			pub.Failures = append(pub.Failures, &DeliveryFailure{Recipient: t.inbox, Err: err})
			if t.local == nil {
				if err := models.NewDeliveryRequests(s.db.WithContext(context.WithoutCancel(ctx))).Enqueue(account, t.inbox, pub.Activity); err != nil {
					s.logger.Error("queue delivery", "inbox", t.inbox, "error", err)
				}
			}
			continue
		}
		s.logger.Debug("delivered", "actor", actor.URI, "activity", pub.ID(), "inbox", t.inbox)
		pub.Delivered = append(pub.Delivered, t.inbox)
	}
}

// recipients expands audience into inboxes. The public sentinel is
// skipped, the actor's followers collection is expanded, and duplicates
// and the actor itself are removed.
func (s *Service) recipients(ctx context.Context, actor *models.Actor, account *models.Account, audience []string) ([]target, []*DeliveryFailure) {
	var ids []string
	var failures []*DeliveryFailure
	for _, addr := range algorithms.Uniq(audience) {
		switch {
		case isPublic(addr):
			continue
		case addr == s.scheme.Followers(actor.URI):
			followers, err := s.collections.Items(ctx, actor.URI, models.Followers)
			if err != nil {
				failures = append(failures, &DeliveryFailure{Recipient: addr, Err: err})
				continue
			}
			ids = append(ids, followers...)
		default:
			ids = append(ids, addr)
		}
	}

	var targets []target
	seen := make(map[string]bool)
	for _, id := range algorithms.Uniq(ids) {
		if id == actor.URI {
			continue
		}
		r, err := s.ResolveActor(ctx, account, id)
		if err != nil {
			failures = append(failures, &DeliveryFailure{Recipient: id, Err: err})
			continue
		}
		inbox := r.Inbox()
		if seen[inbox] {
			continue
		}
		seen[inbox] = true
		t := target{inbox: inbox}
		if r.Local {
			t.local = r
		}
		targets = append(targets, t)
	}
	return targets, failures
}

// addressees returns every address the activity, and an embedded object,
// is addressed to.
func addressees(activity map[string]any) []string {
	var addrs []string
	docs := []map[string]any{activity}
	if obj := mapFromAny(activity["object"]); obj != nil {
		docs = append(docs, obj)
	}
	for _, doc := range docs {
		for _, field := range []string{"to", "cc", "bto", "bcc", "audience"} {
			addrs = append(addrs, addresses(doc[field])...)
		}
	}
	return addrs
}

func toAny(s []string) []any {
	return algorithms.Map(s, func(v string) any { return v })
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
