package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/davecheney/fedi/activitypub"
	"github.com/davecheney/fedi/internal/config"
	"github.com/davecheney/fedi/internal/webfinger"
	"github.com/davecheney/fedi/models"
	"gorm.io/gorm"
)

type Context struct {
	Settings *config.Config
	Logger   *slog.Logger

	gorm.Config
}

var cli struct {
	ConfigFile string `name:"config" type:"path" env:"FEDI_CONFIG" help:"TOML configuration file."`
	Domain     string `help:"Domain actors are minted under. Overrides the configuration."`
	DSN        string `name:"dsn" env:"FEDI_DSN" help:"Database DSN. Overrides the configuration."`
	Debug      bool   `help:"Enable debug logging."`
	LogSQL     bool   `name:"log-sql" help:"Log every SQL statement."`

	AutoMigrate AutoMigrateCmd `cmd:"" help:"Automatically migrate the database."`
	CreateActor CreateActorCmd `cmd:"" help:"Create a local actor."`
	SetPassword SetPasswordCmd `cmd:"" help:"Set the password of a local actor."`
	ShowActor   ShowActorCmd   `cmd:"" help:"Print the document of a local actor."`
	FetchActor  FetchActorCmd  `cmd:"" help:"Fetch a remote actor by URL or user@domain."`
	Follow      FollowCmd      `cmd:"" help:"Follow, or unfollow, an actor."`
	Publish     PublishCmd     `cmd:"" help:"Publish a note."`
	Serve       ServeCmd       `cmd:"" help:"Serve a local web server."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("fedi"),
		kong.Description("A federated ActivityPub server."),
		kong.UsageOnError(),
	)
	cfg, err := loadConfig()
	ctx.FatalIfErrorf(err)
	logger, err := newLogger(os.Stderr, cfg.Log)
	ctx.FatalIfErrorf(err)

	err = ctx.Run(&Context{
		Settings: cfg,
		Logger:   logger,
		Config: gorm.Config{
			Dialector:      newDialector(cfg.Database.DSN),
			TranslateError: true,
			Logger:         newGormLogger(logger, cli.LogSQL),
		},
	})
	ctx.FatalIfErrorf(err)
}

// loadConfig reads the configuration file and applies the command line
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cli.Domain != "" {
		cfg.Domain = cli.Domain
	}
	if cli.DSN != "" {
		cfg.Database.DSN = cli.DSN
	}
	if cli.Debug {
		cfg.Log.Level = "debug"
	}
	return &cfg, cfg.Finish()
}

// openDB opens and configures the database.
func (c *Context) openDB() (*gorm.DB, error) {
	db, err := gorm.Open(c.Dialector, &c.Config)
	if err != nil {
		return nil, err
	}
	return db, configureDB(db)
}

// service returns the ActivityPub service and the deliverer it uses.
func (c *Context) service(db *gorm.DB) (*activitypub.Service, *activitypub.HTTPDeliverer) {
	deliverer := activitypub.NewHTTPDeliverer(c.Settings.Delivery, nil)
	return activitypub.NewService(c.Settings, db, deliverer, deliverer, c.Logger), deliverer
}

// localActor returns the local actor name and its account.
func localActor(ctx context.Context, svc *activitypub.Service, name string) (*models.Actor, *models.Account, error) {
	actor, err := svc.LocalActor(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("local actor %q: %w", name, err)
	}
	account, err := models.NewAccounts(svc.DB().WithContext(ctx)).AccountForActor(actor)
	if err != nil {
		return nil, nil, fmt.Errorf("account of %q: %w", name, err)
	}
	return actor, account, nil
}

// resolveHandle returns the actor id for handle, which is either an actor
// id or a user@domain handle resolved with WebFinger.
func resolveHandle(ctx context.Context, handle string) (string, error) {
	if strings.HasPrefix(handle, "https://") || strings.HasPrefix(handle, "http://") {
		return handle, nil
	}
	acct, err := webfinger.Parse(handle)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	wf, err := acct.Fetch(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("webfinger %s: %w", acct, err)
	}
	return wf.ActivityPub()
}
