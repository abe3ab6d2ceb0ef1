package activitypub

import (
	"context"
	"crypto"
	"crypto/rsa"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/fedi/internal/httpsig"
	"github.com/go-json-experiment/json"
)

// accept is the media type requested when fetching remote documents.
const accept = `application/ld+json; profile="https://www.w3.org/ns/activitystreams", application/activity+json`

// Signer represents an object that can sign HTTP requests.
type Signer interface {
	PublicKeyID() string
	PrivKey() (*rsa.PrivateKey, error)
}

// Client is an ActivityPub client which signs every request it makes.
type Client struct {
	keyID      string
	privateKey crypto.PrivateKey
	transport  http.RoundTripper
}

// NewClient returns a new ActivityPub client signing as signAs. A nil
// transport uses http.DefaultTransport.
func NewClient(signAs Signer, transport http.RoundTripper) (*Client, error) {
	privateKey, err := signAs.PrivKey()
	if err != nil {
		return nil, err
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		keyID:      signAs.PublicKeyID(),
		privateKey: privateKey,
		transport:  transport,
	}, nil
}

// Fetch fetches the ActivityPub resource at the given URL and decodes it into the given object.
func (c *Client) Fetch(ctx context.Context, uri string, obj interface{}) error {
	return requests.URL(uri).
		Accept(accept).
		Transport(c.sign(nil)).
		CheckContentType(
			"application/ld+json",
			"application/activity+json",
			"application/json",
		).
		CheckStatus(http.StatusOK).
		ToJSON(obj).
		Fetch(ctx)
}

// Post posts the given ActivityPub object to the given URL.
func (c *Client) Post(ctx context.Context, url string, obj map[string]any) error {
	body, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return requests.URL(url).
		BodyBytes(body).
		Header("Content-Type", `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`).
		Transport(c.sign(body)).
		CheckStatus(http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent).
		Fetch(ctx)
}

func (c *Client) sign(body []byte) requests.RoundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		if err := httpsig.Sign(req, c.keyID, c.privateKey, body); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
		return c.transport.RoundTrip(req)
	}
}
