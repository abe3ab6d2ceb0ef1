package models

import (
	"context"
	"fmt"
	"testing"

	"github.com/davecheney/fedi/internal/crypto"
	"github.com/davecheney/fedi/internal/identity"
	"github.com/davecheney/fedi/internal/snowflake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockActor creates a remote actor in the database.
func MockActor(t *testing.T, tx *gorm.DB, name, domain string) *Actor {
	t.Helper()
	require := require.New(t)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	actor := &Actor{
		ID:          snowflake.Now(),
		URI:         fmt.Sprintf("https://%s/users/%s", domain, name),
		Type:        Person,
		Name:        name,
		Domain:      domain,
		DisplayName: name,
		PublicKey:   kp.PublicKey,
	}
	require.NoError(tx.Create(actor).Error)
	return actor
}

// MockLocalActor creates a local actor through the registry.
func MockLocalActor(t *testing.T, db *gorm.DB, scheme *identity.Scheme, name string) *Actor {
	t.Helper()
	registry := NewRegistry(db, scheme, NewCollections(db), "https://"+scheme.Domain()+"/proxy")
	actor, err := registry.CreateActor(context.Background(), name, name, "", "", Person)
	require.NoError(t, err)
	return actor
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	// each test gets its own database; cache=shared lets the pool's
	// connections see the same in memory database.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)

	sqlDB, err := db.DB()
	require.NoError(err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	err = db.AutoMigrate(AllTables()...)
	require.NoError(err)

	// enable foreign key constraints
	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}
