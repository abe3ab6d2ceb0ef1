// Package config loads and validates the server configuration (TOML).
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultActorPrefix  = "u"
	DefaultAddr         = ":8080"
	DefaultPageSize     = 20
	MaxPageSize         = 100
	DefaultDeliveryRate = 2 // requests per second, per host
	DefaultMaxAttempts  = 5
)

// ActivityMediaType is the media type of ActivityStreams documents.
const ActivityMediaType = "application/activity+json"

// LDMediaType is the JSON-LD media type with the ActivityStreams profile.
const LDMediaType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// Config is the root configuration.
type Config struct {
	// Domain is the host (and optional port) actor identifiers are minted under.
	Domain string `toml:"domain"`
	// ActorPrefix is the path segment actors live under, /{prefix}/{actor}.
	ActorPrefix string `toml:"actor_prefix"`
	// ProxyURL is advertised as endpoints.proxyUrl on every local actor.
	ProxyURL string `toml:"proxy_url"`
	// MediaTypes are the request media types recognised as ActivityStreams documents.
	MediaTypes []string `toml:"media_types"`
	// PageSize is the number of items returned in a collection page.
	PageSize int `toml:"page_size"`
	// RequireSignatures rejects unsigned inbox deliveries.
	RequireSignatures bool `toml:"require_signatures"`

	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
	Delivery DeliveryConfig `toml:"delivery"`
}

// ServerConfig holds the HTTP server listen address and timeouts.
type ServerConfig struct {
	Addr string `toml:"addr"`
	// ReadTimeout and WriteTimeout bound each request, e.g. "15s".
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// DatabaseConfig holds the data source name passed to the gorm dialector.
type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DeliveryConfig tunes outbound delivery.
type DeliveryConfig struct {
	// Rate is the number of deliveries per second allowed to a single host.
	Rate float64 `toml:"rate"`
	// Burst is the limiter burst size.
	Burst int `toml:"burst"`
	// Timeout bounds a single delivery attempt, e.g. "10s".
	Timeout Duration `toml:"timeout"`
	// MaxAttempts is the number of times a queued delivery is retried.
	MaxAttempts int `toml:"max_attempts"`
	// ReplyTimeout bounds the activities published while handling an inbox
	// delivery, such as the Accept of a Follow. Replies not delivered in
	// time are queued for retry. It must be shorter than the server's
	// write timeout.
	ReplyTimeout Duration `toml:"reply_timeout"`
}

// Duration is a time.Duration decoded from a TOML string.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a configuration for domain with every other field defaulted.
func Default(domain string) Config {
	return Config{
		Domain:      domain,
		ActorPrefix: DefaultActorPrefix,
		MediaTypes: []string{
			ActivityMediaType,
			"application/ld+json",
			"application/json",
		},
		PageSize: DefaultPageSize,
		Server: ServerConfig{
			Addr:         DefaultAddr,
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{15 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Delivery: DeliveryConfig{
			Rate:         DefaultDeliveryRate,
			Burst:        1,
			Timeout:      Duration{10 * time.Second},
			MaxAttempts:  DefaultMaxAttempts,
			ReplyTimeout: Duration{5 * time.Second},
		},
	}
}

// Load reads the TOML config file at path over the defaults, normalises it,
// and validates the result. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default("")
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := decode(string(buf), &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cfg, nil
}

func decode(data string, cfg *Config) error {
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return fmt.Errorf("these config fields are unknown: %q", undecoded)
	}
	return nil
}

// Finish normalises the domain and proxy url and validates the configuration.
// It must be called once all overrides have been applied.
func (c *Config) Finish() error {
	domain, err := NormaliseDomain(c.Domain)
	if err != nil {
		return err
	}
	c.Domain = domain
	if c.ProxyURL == "" {
		c.ProxyURL = "https://" + c.Domain + "/proxy"
	}
	return c.Validate()
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return errors.New("no domain given")
	}
	if c.ActorPrefix == "" || strings.ContainsAny(c.ActorPrefix, "/?#{} ") {
		return fmt.Errorf("invalid actor_prefix %q", c.ActorPrefix)
	}
	switch c.ActorPrefix {
	case "o", "s", "media", "proxy", "nodeinfo", ".well-known":
		return fmt.Errorf("actor_prefix %q collides with a reserved route", c.ActorPrefix)
	}
	if len(c.MediaTypes) == 0 {
		return errors.New("no media_types given")
	}
	if c.PageSize <= 0 || c.PageSize > MaxPageSize {
		return fmt.Errorf("page_size must be between 1 and %d", MaxPageSize)
	}
	if c.ProxyURL != "" {
		if u, err := url.Parse(c.ProxyURL); err != nil || !u.IsAbs() {
			return fmt.Errorf("invalid proxy_url %q", c.ProxyURL)
		}
	}
	if c.Delivery.Rate <= 0 {
		return errors.New("delivery.rate must be positive")
	}
	if c.Delivery.Burst <= 0 {
		return errors.New("delivery.burst must be positive")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return errors.New("delivery.max_attempts must be positive")
	}
	if c.Delivery.ReplyTimeout.Duration <= 0 {
		return errors.New("delivery.reply_timeout must be positive")
	}
	if w := c.Server.WriteTimeout.Duration; w > 0 && c.Delivery.ReplyTimeout.Duration >= w {
		return fmt.Errorf("delivery.reply_timeout must be shorter than server.write_timeout (%v)", w)
	}
	return nil
}

// Routes returns the chi route patterns derived from the actor prefix.
func (c *Config) Routes() Routes {
	actor := "/" + c.ActorPrefix + "/{actor}"
	return Routes{
		Actor:     actor,
		Inbox:     actor + "/inbox",
		Outbox:    actor + "/outbox",
		Followers: actor + "/followers",
		Following: actor + "/following",
		Liked:     actor + "/liked",
		Object:    "/o/{id}",
		Activity:  "/s/{id}",

		ObjectLikes:    "/o/{id}/likes",
		ObjectShares:   "/o/{id}/shares",
		ActivityLikes:  "/s/{id}/likes",
		ActivityShares: "/s/{id}/shares",
	}
}

// Routes are the route templates of the ActivityPub surface.
type Routes struct {
	Actor     string
	Inbox     string
	Outbox    string
	Followers string
	Following string
	Liked     string
	Object    string
	Activity  string

	ObjectLikes    string
	ObjectShares   string
	ActivityLikes  string
	ActivityShares string
}

// IsActivityMediaType reports whether contentType is one of the configured
// ActivityStreams media types. Parameters are ignored.
func (c *Config) IsActivityMediaType(contentType string) bool {
	typ := strings.TrimSpace(strings.Split(contentType, ";")[0])
	for _, mt := range c.MediaTypes {
		if strings.EqualFold(typ, strings.TrimSpace(strings.Split(mt, ";")[0])) {
			return true
		}
	}
	return false
}

// NormaliseDomain lower cases domain and converts it to its ASCII form.
// A port, if present, is preserved.
func NormaliseDomain(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", nil
	}
	host, port := domain, ""
	if h, p, err := net.SplitHostPort(domain); err == nil {
		host, port = h, p
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	ascii = strings.ToLower(ascii)
	if port != "" {
		return net.JoinHostPort(ascii, port), nil
	}
	return ascii, nil
}
