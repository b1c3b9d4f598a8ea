package executor

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	goredis "github.com/redis/go-redis/v9"

	"github.com/elastic/go-elasticsearch/v8"
)

// pingProbe runs SELECT 1 / PING against a database/sql-style connection,
// the shared shape for Postgres and MySQL target monitors.
func pingProbe(ctx context.Context, driverName, dsn string) (CheckResult, *ControlError) {
	start := time.Now()
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return CheckResult{}, &ControlError{Reason: "invalid dsn", Err: err}
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "ping_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}

// PostgresExecutor pings via the teacher's own pgx stack, already present
// via the adopted pgx driver.
type PostgresExecutor struct{}

func (e *PostgresExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	return pingProbe(ctx, "pgx", configString(job.Config, "dsn"))
}

// MySQLExecutor pings via go-sql-driver/mysql, grounded on
// JokerTrickster-joker_backend.
type MySQLExecutor struct{}

func (e *MySQLExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	return pingProbe(ctx, "mysql", configString(job.Config, "dsn"))
}

// MongoExecutor pings via go.mongodb.org/mongo-driver, grounded on
// haasonsaas-nexus.
type MongoExecutor struct{}

func (e *MongoExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	opts := options.Client().ApplyURI(job.Target).SetConnectTimeout(time.Duration(job.TimeoutMs) * time.Millisecond)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return CheckResult{}, &ControlError{Reason: "invalid mongo uri", Err: err}
	}
	defer client.Disconnect(ctx)

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "ping_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}

// RedisExecutor pings via github.com/redis/go-redis/v9, the same client
// used for the platform's own queue/event bus.
type RedisExecutor struct{}

func (e *RedisExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	client := goredis.NewClient(&goredis.Options{
		Addr:     job.Target,
		Password: configString(job.Config, "password"),
		DB:       configInt(job.Config, "db", 0),
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "ping_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}

// ElasticsearchExecutor pings the cluster health endpoint via the
// canonical Go client (not present in the retrieved pack; out-of-pack
// pick, see DESIGN.md).
type ElasticsearchExecutor struct{}

func (e *ElasticsearchExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{job.Target}})
	if err != nil {
		return CheckResult{}, &ControlError{Reason: "invalid elasticsearch config", Err: err}
	}

	res, err := client.Cluster.Health(client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "cluster_health_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer res.Body.Close()
	if res.IsError() {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "cluster_unhealthy",
			ErrorMessage: res.String(),
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}
