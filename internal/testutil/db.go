// Package testutil provides the shared pieces of axiom's tests: throwaway
// MongoDB databases, signed-in requests, response assertions and template
// boot.
package testutil

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/axiom/internal/app/system/indexes"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultTestDBURI is used when AXIOM_TEST_MONGO_URI is unset.
	DefaultTestDBURI = "mongodb://localhost:27017"
	// TestDBName prefixes every per-test database.
	TestDBName = "axiom_test"

	// maxDBName is MongoDB's limit on database name length.
	maxDBName = 63
)

var (
	clientOnce sync.Once
	client     *mongo.Client
	clientErr  error
)

// TestDBURI returns the MongoDB URI for tests.
func TestDBURI() string {
	if uri := os.Getenv("AXIOM_TEST_MONGO_URI"); uri != "" {
		return uri
	}
	return DefaultTestDBURI
}

// sharedClient connects once per test binary. The pool is sized for
// packages that run tests in parallel.
func sharedClient() (*mongo.Client, error) {
	clientOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		opts := options.Client().
			ApplyURI(TestDBURI()).
			SetMaxPoolSize(200).
			SetMinPoolSize(5).
			SetMaxConnIdleTime(30 * time.Second).
			SetServerSelectionTimeout(5 * time.Second)

		client, clientErr = mongo.Connect(ctx, opts)
		if clientErr == nil {
			clientErr = client.Ping(ctx, nil)
		}
	})
	return client, clientErr
}

// SetupTestDB returns an empty database named after the test, with the
// production indexes in place (unique usernames and emails, session lookups,
// audit listing). It is dropped when the test ends.
//
// The test fails when MongoDB is unreachable, unless AXIOM_TEST_SKIP_MONGO is
// set, in which case it is skipped.
func SetupTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	db := SetupBareDB(t)

	ctx, cancel := TestContext()
	defer cancel()
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return db
}

// SetupBareDB is SetupTestDB without indexes, for tests that create schema
// themselves.
func SetupBareDB(t *testing.T) *mongo.Database {
	t.Helper()

	c, err := sharedClient()
	if err != nil {
		if os.Getenv("AXIOM_TEST_SKIP_MONGO") != "" {
			t.Skipf("MongoDB unavailable at %s: %v", TestDBURI(), err)
		}
		t.Fatalf("connect to test MongoDB at %s: %v", TestDBURI(), err)
	}

	db := c.Database(dbName(t.Name()))

	ctx, cancel := TestContext()
	defer cancel()
	if err := db.Drop(ctx); err != nil {
		t.Fatalf("drop stale test database: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Drop(ctx); err != nil {
			t.Logf("drop test database %s: %v", db.Name(), err)
		}
	})
	return db
}

// dbName maps a test name onto a legal database name: anything outside
// [A-Za-z0-9_] becomes '_' and the result is cut to MongoDB's length limit.
func dbName(testName string) string {
	var b strings.Builder
	b.WriteString(TestDBName)
	b.WriteByte('_')
	for _, c := range testName {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > maxDBName {
		name = name[:maxDBName]
	}
	return name
}

// TestContext returns a context with a generous timeout for test setup and
// store calls.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
