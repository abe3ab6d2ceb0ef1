package models

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/davecheney/fedi/internal/crypto"
	"github.com/davecheney/fedi/internal/snowflake"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidCredentials is returned when a username and password do not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// An Account holds the secrets of a local Actor.
type Account struct {
	ID                snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	UpdatedAt         time.Time
	ActorID           snowflake.ID `gorm:"uniqueIndex;not null"`
	Actor             *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:create;"`
	EncryptedPassword []byte       `gorm:"size:60"`
	PrivateKey        []byte       `gorm:"not null"`
}

// PublicKeyID returns the identifier of the key the account signs with.
func (a *Account) PublicKeyID() string {
	return a.Actor.PublicKeyID()
}

// PrivKey returns the account's parsed private key.
func (a *Account) PrivKey() (*rsa.PrivateKey, error) {
	_, priv, err := crypto.ParseRSAPrivateKey(a.PrivateKey)
	return priv, err
}

type Accounts struct {
	db *gorm.DB
}

func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// AccountForActor returns the account of a local actor.
func (a *Accounts) AccountForActor(actor *Actor) (*Account, error) {
	var account Account
	if err := a.db.Joins("Actor").Take(&account, "actor_id = ?", actor.ID).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// First returns the account of the earliest created local actor.
func (a *Accounts) First() (*Account, error) {
	var account Account
	if err := a.db.Joins("Actor").Order("accounts.id").Take(&account).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// SetPassword replaces the password of the local actor.
func (a *Accounts) SetPassword(actor *Actor, password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	passwd, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	res := a.db.Model(&Account{}).Where("actor_id = ?", actor.ID).Update("encrypted_password", passwd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate returns the account of the local actor named username if
// password matches.
func (a *Accounts) Authenticate(username, password string) (*Account, error) {
	var account Account
	err := a.db.Joins("Actor").Where("Actor.name = ? AND Actor.local = ?", username, true).Take(&account).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}
	if len(account.EncryptedPassword) == 0 {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(account.EncryptedPassword, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &account, nil
}
