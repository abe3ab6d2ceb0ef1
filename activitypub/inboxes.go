package activitypub

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/davecheney/fedi/internal/crypto"
	sigs "github.com/davecheney/fedi/internal/httpsig"
	"github.com/davecheney/fedi/internal/httpx"
	"github.com/davecheney/fedi/models"
	"github.com/go-fed/httpsig"
	"github.com/go-json-experiment/json"
)

// maxActivitySize bounds the body of an inbox delivery.
const maxActivitySize = 1 << 20

// InboxCreate accepts an activity delivered to a local actor's inbox.
func InboxCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	recipient, err := env.actorParam(r)
	if err != nil {
		return err
	}
	if !env.cfg.IsActivityMediaType(r.Header.Get("Content-Type")) {
		return httpx.Error(http.StatusUnsupportedMediaType, fmt.Errorf("unsupported media type: %q", r.Header.Get("Content-Type")))
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActivitySize))
	if err != nil {
		if tooLarge := new(http.MaxBytesError); errors.As(err, &tooLarge) {
			return httpx.Error(http.StatusRequestEntityTooLarge, err)
		}
		return httpx.Error(http.StatusBadRequest, err)
	}

	var signer string
	if r.Header.Get("Signature") != "" || env.cfg.RequireSignatures {
		signer, err = env.verify(r, recipient, body)
		if err != nil {
			env.Log().Info("inbox", "recipient", recipient.URI, "state", models.Rejected, "error", err)
			return httpx.Error(http.StatusUnauthorized, err)
		}
	}

	var activity map[string]any
	if err := json.Unmarshal(body, &activity); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if actor := idOf(activity["actor"]); env.scheme.IsLocal(actor) {
		// local actors deliver in-process.
		return httpx.Error(http.StatusForbidden, fmt.Errorf("activity by local actor %s", actor))
	}
	if signer != "" && signer != idOf(activity["actor"]) {
		return httpx.Error(http.StatusUnauthorized, fmt.Errorf("activity by %s signed by %s", idOf(activity["actor"]), signer))
	}
	receipt, err := env.Receive(r.Context(), recipient, activity)
	if err != nil {
		return StatusError(err)
	}
	env.Log().Debug("inbox", "recipient", recipient.URI, "activity", activity["id"], "state", receipt.State, "duplicate", receipt.Duplicate)
	w.WriteHeader(http.StatusAccepted)
	return nil
}

// verify checks the request's HTTP signature and body digest, and returns
// the identifier of the signing actor.
func (e *Env) verify(r *http.Request, recipient *models.Actor, body []byte) (string, error) {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", err
	}
	if err := sigs.CheckDigest(r.Header.Get("Digest"), body); err != nil {
		return "", err
	}
	account, err := e.account(r.Context(), recipient)
	if err != nil {
		return "", err
	}
	owner, err := e.ResolveActor(r.Context(), account, trimKeyID(verifier.KeyId()))
	if err != nil {
		return "", fmt.Errorf("resolve key %s: %w", verifier.KeyId(), err)
	}
	pubKey, err := crypto.ParsePublicKey(owner.PublicKey)
	if err != nil {
		return "", err
	}
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		if !owner.Local {
			// the key may have been rotated, fetch the actor again later.
			if err := models.NewActors(e.db.WithContext(r.Context())).Refresh(owner); err != nil {
				e.Log().Warn("refresh actor", "actor", owner.URI, "error", err)
			}
		}
		return "", err
	}
	return owner.URI, nil
}
