// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/axiom/internal/app/system/metrics"
	"github.com/dalemusser/axiom/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database and backend dependencies for this WAFFLE app.
//
// It is created in ConnectDB and passed to EnsureSchema, Startup,
// BuildHandler, and Shutdown. Process-wide collaborators that more than one
// hook shares (the metrics registry, the per-client limiter) are created here
// too, so the task runner started in Startup and the router built in
// BuildHandler observe the same instances.
type DBDeps struct {
	// MongoDB client and database
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Metrics is the Prometheus registry served at /metrics.
	Metrics *metrics.Metrics

	// Limiter throttles the auth endpoints per client IP.
	Limiter *ratelimit.Limiter
}
