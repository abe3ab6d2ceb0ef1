package activitypub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/davecheney/fedi/activitypub/activities"
	"github.com/davecheney/fedi/models"
)

// inboxHandler handles one activity type. It runs inside the recipient's
// collection mutation and returns the terminal state of the delivery.
type inboxHandler func(s *Service, d *delivery) (models.InboxState, error)

// delivery is an activity being processed for a local recipient.
type delivery struct {
	m          *models.Mutation
	recipient  *models.Actor
	originator *models.Actor
	activity   map[string]any
	id         string
	typ        string
	log        *slog.Logger

	// after are run once the mutation has committed.
	after []func(context.Context) (*Publication, error)
}

// Receipt is the result of a delivery to a local inbox.
type Receipt struct {
	// State is Handled or Ignored.
	State models.InboxState
	// Duplicate is set when the activity had already been delivered.
	Duplicate bool
	// Replies are the activities published in response.
	Replies []*Publication
}

// Receive runs activity through the inbox pipeline of the local recipient.
// Invalid activities and activities whose actor cannot be resolved are
// rejected before anything is stored.
func (s *Service) Receive(ctx context.Context, recipient *models.Actor, activity map[string]any) (*Receipt, error) {
	id, typ, actorURI, err := validate(activity)
	if err != nil {
		s.logger.Debug("inbox", "recipient", recipient.URI, "state", models.Rejected, "error", err)
		return nil, err
	}
	if s.scheme.IsLocal(id) && !s.scheme.IsLocal(actorURI) {
		return nil, fmt.Errorf("%w: %s claims a local id", ErrInvalidActivity, actorURI)
	}
	if s.scheme.IsLocal(actorURI) {
		// local actors only reach an inbox through Publish, which stores
		// the activity first.
		stored, err := models.NewObjects(s.db.WithContext(ctx)).Get(id)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if stored == nil || idOf(stored["actor"]) != actorURI {
			return nil, fmt.Errorf("%w: %s was not published by %s", ErrInvalidActivity, id, actorURI)
		}
	}
	log := s.logger.With("recipient", recipient.URI, "activity", id, "type", typ, "actor", actorURI)
	log.Debug("inbox", "state", "received")

	account, err := s.account(ctx, recipient)
	if err != nil {
		return nil, err
	}
	originator, err := s.ResolveActor(ctx, account, actorURI)
	if err != nil {
		log.Info("inbox", "state", models.Rejected, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnresolvableActor, actorURI, err)
	}
	log.Debug("inbox", "state", "validated")

	d := &delivery{
		recipient:  recipient,
		originator: originator,
		activity:   activity,
		id:         id,
		typ:        typ,
		log:        log,
	}
	receipt := &Receipt{}
	err = s.collections.Mutate(ctx, recipient.URI, func(m *models.Mutation) error {
		d.m = m
		records := models.NewInboxRecords(m.Tx())
		seen, err := records.Seen(recipient.URI, id)
		if err != nil {
			return err
		}
		if seen {
			receipt.State = models.Ignored
			receipt.Duplicate = true
			return nil
		}
		log.Debug("inbox", "state", "dispatched")
		state := models.Ignored
		if h, ok := s.inbox[typ]; ok {
			if state, err = h(s, d); err != nil {
				return err
			}
		}
		if _, err := models.NewObjects(m.Tx()).Insert(id, activity); err != nil {
			return err
		}
		if _, err := m.Append(models.Inbox, id); err != nil {
			return err
		}
		receipt.State = state
		return records.Record(&models.InboxRecord{
			RecipientURI: recipient.URI,
			ActivityURI:  id,
			ActorURI:     originator.URI,
			Type:         typ,
			State:        state,
		})
	})
	if err != nil {
		return nil, err
	}
	log.Debug("inbox", "state", receipt.State, "duplicate", receipt.Duplicate)
	if receipt.Duplicate {
		return receipt, nil
	}
	if len(d.after) == 0 {
		return receipt, nil
	}
	// replies share the request's deadline budget; anything undelivered
	// when it expires is queued for retry.
	replyCtx, cancel := s.replyContext(ctx)
	defer cancel()
	for _, fn := range d.after {
		pub, err := fn(replyCtx)
		if err != nil {
			// the delivery itself has been committed.
			log.Warn("inbox reply", "error", err)
			continue
		}
		receipt.Replies = append(receipt.Replies, pub)
	}
	return receipt, nil
}

// replyContext bounds the replies to an inbox delivery by
// delivery.reply_timeout, independent of the caller's cancellation.
func (s *Service) replyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if d := s.cfg.Delivery.ReplyTimeout.Duration; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// validate checks the fields every activity must carry.
func validate(activity map[string]any) (id, typ, actor string, err error) {
	id = stringFromAny(activity["id"])
	typ = stringFromAny(activity["type"])
	actor = idOf(activity["actor"])
	var missing []string
	for _, f := range []struct {
		name string
		ok   bool
	}{
		{"id", id != ""},
		{"type", typ != ""},
		{"actor", actor != ""},
		{"object", activity["object"] != nil},
	} {
		if !f.ok {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return "", "", "", fmt.Errorf("%w: missing %s", ErrInvalidActivity, strings.Join(missing, ", "))
	}
	if !isAbsolute(id) || !isAbsolute(actor) {
		return "", "", "", fmt.Errorf("%w: id and actor must be absolute urls", ErrInvalidActivity)
	}
	if !sameOrigin(id, actor) {
		return "", "", "", fmt.Errorf("%w: %s is not hosted by %s", ErrInvalidActivity, id, actor)
	}
	return id, typ, actor, nil
}

func (s *Service) inboxFollow(d *delivery) (models.InboxState, error) {
	if idOf(d.activity["object"]) != d.recipient.URI {
		return models.Ignored, nil
	}
	added, err := d.m.Append(models.Followers, d.originator.URI)
	if err != nil {
		return "", err
	}
	d.log.Debug("follow", "follower", d.originator.URI, "added", added)
	accept := activities.Accept(d.recipient.URI, d.id, d.originator.URI)
	recipient := d.recipient.URI
	d.after = append(d.after, func(ctx context.Context) (*Publication, error) {
		return s.Publish(ctx, recipient, accept)
	})
	return models.Handled, nil
}

func (s *Service) inboxUndo(d *delivery) (models.InboxState, error) {
	inner, err := s.inner(d, d.activity["object"])
	if err != nil || inner == nil {
		return models.Ignored, err
	}
	if idOf(inner["actor"]) != d.originator.URI {
		return models.Ignored, nil
	}
	switch inner["type"] {
	case "Follow":
		if idOf(inner["object"]) != d.recipient.URI {
			return models.Ignored, nil
		}
		if _, err := d.m.Remove(models.Followers, d.originator.URI); err != nil {
			return "", err
		}
		return models.Handled, nil
	case "Like", "Announce":
		if !sameOrigin(idOf(inner), d.originator.URI) {
			return models.Ignored, nil
		}
		target, err := s.ownedObject(d, idOf(inner["object"]))
		if err != nil || target == "" {
			return models.Ignored, err
		}
		if _, err := d.m.Object(target).Remove(reactionKind(inner["type"]), idOf(inner)); err != nil {
			return "", err
		}
		return models.Handled, nil
	default:
		return models.Ignored, nil
	}
}

func (s *Service) inboxAccept(d *delivery) (models.InboxState, error) {
	follow, err := s.ourFollow(d)
	if err != nil || follow == nil {
		return models.Ignored, err
	}
	if _, err := d.m.Append(models.Following, d.originator.URI); err != nil {
		return "", err
	}
	return models.Handled, nil
}

func (s *Service) inboxReject(d *delivery) (models.InboxState, error) {
	follow, err := s.ourFollow(d)
	if err != nil || follow == nil {
		return models.Ignored, err
	}
	if _, err := d.m.Remove(models.Following, d.originator.URI); err != nil {
		return "", err
	}
	return models.Handled, nil
}

// ourFollow returns the Follow the recipient sent to the originator that
// d's object refers to, or nil.
func (s *Service) ourFollow(d *delivery) (map[string]any, error) {
	inner, err := s.inner(d, d.activity["object"])
	if err != nil || inner == nil {
		return nil, err
	}
	if inner["type"] != "Follow" ||
		idOf(inner["actor"]) != d.recipient.URI ||
		idOf(inner["object"]) != d.originator.URI {
		return nil, nil
	}
	return inner, nil
}

func (s *Service) inboxCreate(d *delivery) (models.InboxState, error) {
	obj := mapFromAny(d.activity["object"])
	if obj == nil {
		return models.Handled, nil
	}
	id := idOf(obj)
	if id == "" || !sameOrigin(id, d.originator.URI) {
		return models.Ignored, nil
	}
	if by := idOf(obj["attributedTo"]); by != "" && by != d.originator.URI {
		return models.Ignored, nil
	}
	// a stored object is never replaced by a later Create.
	if _, err := models.NewObjects(d.m.Tx()).Insert(id, obj); err != nil {
		return "", err
	}
	return models.Handled, nil
}

// inboxReaction adds a Like or Announce of an object owned by the
// recipient to the object's likes or shares.
func (s *Service) inboxReaction(d *delivery) (models.InboxState, error) {
	target, err := s.ownedObject(d, idOf(d.activity["object"]))
	if err != nil || target == "" {
		return models.Ignored, err
	}
	added, err := d.m.Object(target).Append(reactionKind(d.typ), d.id)
	if err != nil {
		return "", err
	}
	d.log.Debug("reaction", "object", target, "added", added)
	return models.Handled, nil
}

func reactionKind(typ any) models.CollectionKind {
	if typ == "Announce" {
		return models.Shares
	}
	return models.Likes
}

// ownedObject returns id when it names a stored local object or activity
// attributed to the recipient, or the empty string.
func (s *Service) ownedObject(d *delivery, id string) (string, error) {
	if id == "" || !s.scheme.IsLocal(id) {
		return "", nil
	}
	doc, err := models.NewObjects(d.m.Tx()).Get(id)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	owner := idOf(doc["attributedTo"])
	if owner == "" {
		owner = idOf(doc["actor"])
	}
	if owner != d.recipient.URI {
		return "", nil
	}
	return id, nil
}

// inner returns the activity v refers to, either embedded or previously
// stored. Unknown references yield nil.
func (s *Service) inner(d *delivery, v any) (map[string]any, error) {
	if m := mapFromAny(v); m != nil {
		return m, nil
	}
	id := idOf(v)
	if id == "" {
		return nil, nil
	}
	obj, err := models.NewObjects(d.m.Tx()).Get(id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return obj, nil
}

func isAbsolute(uri string) bool {
	u, err := url.Parse(uri)
	return err == nil && u.IsAbs() && u.Host != ""
}

// sameOrigin reports whether a and b share a scheme and host.
func sameOrigin(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}
