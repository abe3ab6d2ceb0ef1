package main

import (
	"context"
	"fmt"
	"os"

	"github.com/davecheney/fedi/activitypub/activities"
	"github.com/davecheney/fedi/models"
	"github.com/go-json-experiment/json"
)

type AutoMigrateCmd struct{}

func (a *AutoMigrateCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	return db.AutoMigrate(models.AllTables()...)
}

type CreateActorCmd struct {
	Name        string           `arg:"" help:"Username of the actor."`
	DisplayName string           `help:"Display name of the actor."`
	Summary     string           `help:"Summary of the actor."`
	Icon        string           `help:"URL of the actor's icon."`
	Type        models.ActorType `default:"Person" enum:"Person,Service,Application,Group,Organization" help:"Actor type."`
	Password    string           `help:"Password for basic auth to the actor's outbox and inbox."`
}

func (c *CreateActorCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	svc, _ := ctx.service(db)
	actor, err := svc.CreateActor(context.Background(), c.Name, c.DisplayName, c.Summary, c.Icon, c.Type)
	if err != nil {
		return err
	}
	if c.Password != "" {
		if err := models.NewAccounts(db).SetPassword(actor, c.Password); err != nil {
			return err
		}
	}
	fmt.Println(actor.URI)
	return nil
}

type SetPasswordCmd struct {
	Name     string `arg:"" help:"Username of the actor."`
	Password string `required:"" help:"New password."`
}

func (s *SetPasswordCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	svc, _ := ctx.service(db)
	actor, err := svc.LocalActor(context.Background(), s.Name)
	if err != nil {
		return fmt.Errorf("local actor %q: %w", s.Name, err)
	}
	return models.NewAccounts(db).SetPassword(actor, s.Password)
}

type ShowActorCmd struct {
	Name string `arg:"" help:"Username of the actor."`
}

func (s *ShowActorCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	svc, _ := ctx.service(db)
	actor, err := svc.LocalActor(context.Background(), s.Name)
	if err != nil {
		return fmt.Errorf("local actor %q: %w", s.Name, err)
	}
	return printJSON(actor.Document(svc.Scheme(), ctx.Settings.ProxyURL))
}

type FetchActorCmd struct {
	Account string `required:"" help:"Local actor to sign the request as."`
	Actor   string `arg:"" help:"Actor id or user@domain to fetch."`
}

func (f *FetchActorCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	svc, _ := ctx.service(db)
	bg := context.Background()
	_, account, err := localActor(bg, svc, f.Account)
	if err != nil {
		return err
	}
	uri, err := resolveHandle(bg, f.Actor)
	if err != nil {
		return err
	}
	actor, err := svc.FetchActor(bg, account, uri)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", uri, err)
	}
	doc, err := models.NewObjects(db).Get(actor.URI)
	if err != nil {
		return err
	}
	return printJSON(doc)
}

type FollowCmd struct {
	Actor  string `required:"" help:"Local actor that follows."`
	Object string `arg:"" help:"Actor id or user@domain to follow."`
	Undo   bool   `help:"Unfollow instead."`
}

func (f *FollowCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	svc, _ := ctx.service(db)
	bg := context.Background()
	actor, _, err := localActor(bg, svc, f.Actor)
	if err != nil {
		return err
	}
	object, err := resolveHandle(bg, f.Object)
	if err != nil {
		return err
	}
	activity := activities.Follow(actor.URI, object)
	if f.Undo {
		activity = activities.Unfollow(actor.URI, object)
	}
	pub, err := svc.Publish(bg, actor.URI, activity)
	if err != nil {
		return err
	}
	fmt.Println(pub.ID())
	return pub.Err()
}

type PublishCmd struct {
	Actor   string   `required:"" help:"Local actor that publishes."`
	Content string   `arg:"" help:"Content of the note."`
	To      []string `help:"Additional addressees; the note is always public."`
	Cc      []string `help:"Carbon copy addressees, e.g. the followers collection."`
}

func (p *PublishCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	svc, _ := ctx.service(db)
	bg := context.Background()
	actor, _, err := localActor(bg, svc, p.Actor)
	if err != nil {
		return err
	}
	note := activities.Note(p.Content, p.To...)
	cc := p.Cc
	if len(cc) == 0 {
		cc = []string{svc.Scheme().Followers(actor.URI)}
	}
	note["cc"] = cc
	pub, err := svc.Publish(bg, actor.URI, note)
	if err != nil {
		return err
	}
	fmt.Println(pub.ID())
	return pub.Err()
}

func printJSON(v any) error {
	return json.MarshalOptions{}.MarshalFull(json.EncodeOptions{Indent: "  "}, os.Stdout, v)
}
