// cmd/core runs the NightWatch control plane: the scheduler, one worker
// pool per check protocol, result ingest, the alert evaluator and
// notification dispatcher, the aggregator and maintenance timers, the
// probe protocol server, and the health/metrics HTTP surface — all
// wired together at startup and torn down on SIGINT/SIGTERM, the same
// config-load/component-start/graceful-shutdown shape as the teacher's
// cmd/probe/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nightwatch/nightwatch/pkg/aggregator"
	"github.com/nightwatch/nightwatch/pkg/alertengine"
	"github.com/nightwatch/nightwatch/pkg/auth"
	"github.com/nightwatch/nightwatch/pkg/capability"
	"github.com/nightwatch/nightwatch/pkg/config"
	"github.com/nightwatch/nightwatch/pkg/credentials"
	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/eventbus"
	"github.com/nightwatch/nightwatch/pkg/executor"
	"github.com/nightwatch/nightwatch/pkg/ingest"
	"github.com/nightwatch/nightwatch/pkg/maintenance"
	"github.com/nightwatch/nightwatch/pkg/notify"
	"github.com/nightwatch/nightwatch/pkg/probeproto"
	"github.com/nightwatch/nightwatch/pkg/queue"
	"github.com/nightwatch/nightwatch/pkg/router"
	"github.com/nightwatch/nightwatch/pkg/scheduler"
)

// protocolConcurrency is the per-queue worker-pool concurrency table.
// spec.md §4.3 names HTTP=50, DNS=20, SSL=10, traceroute=5 explicitly;
// notifications run on pkg/notify's own three queues (started
// separately below) and aggregation/cleanup run as scheduler timers
// rather than queues, so neither appears here. Every other entry below
// is a judgment call sized to the protocol's expected call latency and
// fleet footprint, but every active (non-passive) type registered in
// pkg/executor.NewRegistry must have an entry — a type with no pool
// would have its jobs queue forever unconsumed.
var protocolConcurrency = map[string]int{
	"http":                50,
	"websocket":           20,
	"dns":                 20,
	"ssl":                 10,
	"tcp":                 30,
	"icmp":                20,
	"grpc":                20,
	"smtp":                10,
	"imap":                10,
	"pop3":                10,
	"ssh":                 10,
	"ldap":                10,
	"rdp":                 10,
	"mqtt":                10,
	"amqp":                10,
	"postgres":            10,
	"mysql":               10,
	"mongodb":             10,
	"redis":               10,
	"elasticsearch":       10,
	"traceroute":          5,
	"email_auth":          10,
	"prometheus_blackbox": 10,
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("core: failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.NewDB(cfg)
	if err != nil {
		log.Error("core: failed to connect to database", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Monitoring.Redis.Addr,
		Password: cfg.Monitoring.Redis.Password,
		DB:       cfg.Monitoring.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Error("core: failed to connect to redis", "error", err)
		os.Exit(1)
	}

	registry := queue.NewRegistry(rdb)
	bus := eventbus.New(rdb)

	var credBox *credentials.Box
	if cfg.Monitoring.CredentialKey != "" {
		credBox, err = credentials.NewBox(cfg.Monitoring.CredentialKey)
		if err != nil {
			log.Error("core: failed to initialize credential box", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("core: no credential key configured, monitor configs will not be decrypted")
	}

	authSvc, err := auth.New(cfg)
	if err != nil {
		log.Error("core: failed to initialize auth", "error", err)
		os.Exit(1)
	}

	caps := capability.New(log)
	// An enterprise build would call caps.RegisterEscalationScheduler (and
	// the other three registrars) here before anything starts consuming
	// the registry; this open-core build never does, so every hook stays
	// nil and every TryXxx call logs at info and no-ops.

	notifyDispatcher := notify.New(db, registry, log, cfg.Monitoring.Fallback)
	evaluator := alertengine.New(db, notifyDispatcher, caps, log)
	in := ingest.New(db, bus, evaluator, log)
	agg := aggregator.New(db, log)
	maintNotifier := &maintenance.EventBusNotifier{Bus: bus}
	maintSvc := maintenance.New(db, maintNotifier, log)

	sched := scheduler.New(db, registry, agg, maintSvc, credBox, cfg.Monitoring.Scheduler, cfg.Monitoring.Retention, log)

	probeServer := probeproto.New(db, authSvc, in, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	pools := startWorkerPools(ctx, registry, db, in, log)

	notifyPools := startNotificationPools(ctx, registry, notifyDispatcher, log)
	pools = append(pools, notifyPools...)

	r := router.New(probeServer)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Core.Host, cfg.Core.Port),
		Handler: r.Engine(),
	}

	go func() {
		log.Info("core: listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("core: http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("core: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("core: http server shutdown error", "error", err)
	}

	cancel()
	log.Info("core: stopped", "worker_pools", len(pools))
}

// startWorkerPools launches one WorkerPool per check protocol queue,
// each pulling jobs built by pkg/scheduler.dispatch, running them through
// pkg/executor, and handing the result to pkg/ingest.
func startWorkerPools(ctx context.Context, registry *queue.Registry, db *database.DB, in *ingest.Ingest, log *slog.Logger) []*queue.WorkerPool {
	execRegistry := executor.NewRegistry()

	var pools []*queue.WorkerPool
	for protocol, concurrency := range protocolConcurrency {
		queueName := scheduler.QueueNameForMonitorType(protocol)
		handler := checkHandler(execRegistry, db, in, log)
		pool := queue.NewWorkerPool(registry, queueName, handler, log, queue.WorkerPoolOptions{Concurrency: concurrency})
		go pool.Run(ctx)
		pools = append(pools, pool)
	}
	return pools
}

// checkHandler decodes a queued check job, runs it through the matching
// Executor, and ingests the result.
func checkHandler(execRegistry *executor.Registry, db *database.DB, in *ingest.Ingest, log *slog.Logger) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var execJob executor.Job
		if err := json.Unmarshal(job.Data, &execJob); err != nil {
			return fmt.Errorf("core: failed to decode check job: %w", err)
		}

		ex, cerr := execRegistry.For(execJob.Type)
		var result executor.CheckResult
		if cerr != nil {
			result = executor.CheckResult{
				Status:       executor.StatusError,
				ErrorCode:    cerr.Reason,
				ErrorMessage: cerr.Error(),
				CheckedAt:    time.Now(),
			}
		} else {
			var rerr *executor.ControlError
			result, rerr = executor.Run(ctx, ex, execJob)
			if rerr != nil {
				result = executor.CheckResult{
					Status:       executor.StatusError,
					ErrorCode:    rerr.Reason,
					ErrorMessage: rerr.Error(),
					CheckedAt:    time.Now(),
				}
			}
		}

		monitor, err := db.Monitors().GetByID(execJob.MonitorID)
		if err != nil {
			log.Error("core: failed to load monitor for ingest", "monitor_id", execJob.MonitorID, "error", err)
			return err
		}
		return in.Ingest(ctx, monitor, execJob.Region, result)
	}
}

// startNotificationPools launches the three notification delivery
// queues (email, chat, http) the dispatcher routes channel types onto.
func startNotificationPools(ctx context.Context, registry *queue.Registry, d *notify.Dispatcher, log *slog.Logger) []*queue.WorkerPool {
	names := []string{"notify:email", "notify:chat", "notify:http"}
	var pools []*queue.WorkerPool
	for _, name := range names {
		pool := queue.NewWorkerPool(registry, name, d.Deliver, log, queue.WorkerPoolOptions{Concurrency: 10})
		go pool.Run(ctx)
		pools = append(pools, pool)
	}
	return pools
}
