// Package webfinger parses acct: resources and fetches RFC 7033 documents.
package webfinger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
)

// ActivityMediaType is the link type of an actor's ActivityPub document.
const ActivityMediaType = "application/activity+json"

// Webfinger is a JSON Resource Descriptor.
type Webfinger struct {
	Subject string   `json:"subject"`
	Aliases []string `json:"aliases,omitempty"`
	Links   []Link   `json:"links"`
}

// ActivityPub returns the href of the self link of the ActivityPub type.
func (wf *Webfinger) ActivityPub() (string, error) {
	for _, link := range wf.Links {
		if link.Type == ActivityMediaType && (link.Rel == "self" || link.Rel == "") {
			return link.Href, nil
		}
	}
	return "", errors.New("no ActivityPub link found")
}

type Link struct {
	Rel      string `json:"rel"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// Acct is a user@host address.
type Acct struct {
	User string
	Host string
}

func (a *Acct) String() string {
	return "acct:" + a.User + "@" + a.Host
}

// Webfinger returns the URL for the webfinger resource for this Acct.
func (a *Acct) Webfinger() string {
	return "https://" + a.Host + "/.well-known/webfinger?resource=" + url.QueryEscape(a.String())
}

// Fetch retrieves the Acct's webfinger document from its host. A nil
// client uses http.DefaultClient.
func (a *Acct) Fetch(ctx context.Context, client *http.Client) (*Webfinger, error) {
	var webfinger Webfinger
	err := requests.URL(a.Webfinger()).
		Client(client).
		Accept("application/jrd+json, application/json").
		ToJSON(&webfinger).
		Fetch(ctx)
	return &webfinger, err
}

// Parse parses acct:user@host, user@host, or @user@host.
func Parse(query string) (*Acct, error) {
	// In case the handle has been URL encoded
	query, err := url.QueryUnescape(query)
	if err != nil {
		return nil, err
	}
	query = strings.TrimPrefix(query, "acct:")
	query = strings.TrimPrefix(query, "@")

	user, host, ok := strings.Cut(query, "@")
	if !ok || user == "" || host == "" || strings.Contains(host, "@") {
		return nil, fmt.Errorf("invalid acct: %q", query)
	}
	return &Acct{
		User: user,
		Host: host,
	}, nil
}
