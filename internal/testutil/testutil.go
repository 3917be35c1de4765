// Package testutil builds the shared fixtures used by package tests.
package testutil

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/integrity"
	"sphere-health-server/internal/mailer"
	"sphere-health-server/internal/models"
)

// IntegritySecret is the secret behind Keys.
const IntegritySecret = "test-integrity-secret"

// NewDB returns a migrated in-memory sqlite database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

var (
	keyringOnce sync.Once
	keyring     *fieldcrypt.Keyring
	keyringErr  error
)

// Keyring returns a process-wide keyring with a small RSA modulus so a test
// binary pays for key generation once.
func Keyring(t testing.TB) *fieldcrypt.Keyring {
	t.Helper()
	keyringOnce.Do(func() {
		keyring, keyringErr = fieldcrypt.GenerateKeyring(1024)
	})
	require.NoError(t, keyringErr)
	return keyring
}

// Engine returns a field encryption engine with the default policy.
func Engine(t testing.TB) *fieldcrypt.Engine {
	t.Helper()
	engine, err := Keyring(t).Engine(fieldcrypt.DefaultPolicy())
	require.NoError(t, err)
	return engine
}

// Keys returns integrity keys derived from IntegritySecret.
func Keys(t testing.TB) *integrity.Keys {
	t.Helper()
	keys, err := integrity.NewKeys(IntegritySecret)
	require.NoError(t, err)
	return keys
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// Outbox is a Mailer that keeps every message in memory.
type Outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
	Err  error
}

func (o *Outbox) Send(ctx context.Context, msg mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []mailer.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]mailer.Message(nil), o.msgs...)
}

// LastCode returns the code in the most recent message sent to addr.
func (o *Outbox) LastCode(addr string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].To != addr {
			continue
		}
		m := codePattern.FindStringSubmatch(o.msgs[i].Text)
		if m == nil {
			return "", false
		}
		return m[1], true
	}
	return "", false
}
