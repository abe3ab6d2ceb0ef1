// Package httpsig signs outbound requests with the draft-cavage HTTP
// Signature scheme and computes the Digest header that covers their body.
// Verification is left to github.com/go-fed/httpsig.
package httpsig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

// dateFormat is http.TimeFormat; the Date header must say GMT.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Sign adds Date, Digest (for requests with a body) and Signature headers
// to req, signed with privateKey under keyID.
func Sign(req *http.Request, keyID string, privateKey crypto.PrivateKey, body []byte) error {
	key, ok := privateKey.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("unsupported private key type %T", privateKey)
	}
	req.Header.Set("Date", time.Now().UTC().Format(dateFormat))
	headers := []string{httpsig.RequestTarget, "host", "date"}
	switch req.Method {
	case http.MethodGet:
		headers = append(headers, "accept")
	case http.MethodPost:
		req.Header.Set("Digest", Digest(body))
		headers = append(headers, "digest")
	}
	signed, err := signingString(req, headers)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(signed)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, sum[:])
	if err != nil {
		return err
	}
	req.Header.Set("Signature", fmt.Sprintf(`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
		keyID, strings.Join(headers, " "), base64.StdEncoding.EncodeToString(sig)))
	return nil
}

func signingString(req *http.Request, headers []string) ([]byte, error) {
	var sb bytes.Buffer
	for i, header := range headers {
		if i > 0 {
			sb.WriteByte('\n')
		}
		switch header {
		case httpsig.RequestTarget:
			fmt.Fprintf(&sb, "%s: %s %s", httpsig.RequestTarget, strings.ToLower(req.Method), req.URL.RequestURI())
		case "host":
			fmt.Fprintf(&sb, "host: %s", req.Host)
		case "date", "accept", "digest":
			fmt.Fprintf(&sb, "%s: %s", header, req.Header.Get(header))
		default:
			return nil, fmt.Errorf("unknown header to sign: %s", header)
		}
	}
	return sb.Bytes(), nil
}

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// CheckDigest reports whether the SHA-256 entry of a Digest header
// matches body. Other algorithms are not accepted.
func CheckDigest(header string, body []byte) error {
	if header == "" {
		return errors.New("missing digest")
	}
	for _, part := range strings.Split(header, ",") {
		alg, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(alg, "SHA-256") {
			continue
		}
		want, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return fmt.Errorf("invalid digest: %w", err)
		}
		sum := sha256.Sum256(body)
		if !bytes.Equal(sum[:], want) {
			return errors.New("digest does not match body")
		}
		return nil
	}
	return errors.New("no SHA-256 digest")
}
