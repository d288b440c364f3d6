package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/salesbridge/followup/internal/api"
	"github.com/salesbridge/followup/internal/approval"
	"github.com/salesbridge/followup/internal/cache"
	"github.com/salesbridge/followup/internal/client"
	"github.com/salesbridge/followup/internal/config"
	"github.com/salesbridge/followup/internal/delivery"
	"github.com/salesbridge/followup/internal/escalation"
	"github.com/salesbridge/followup/internal/jobs"
	"github.com/salesbridge/followup/internal/pending"
	"github.com/salesbridge/followup/internal/scheduler"
	"github.com/salesbridge/followup/internal/session"
	"github.com/salesbridge/followup/internal/store"
)

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	location, err := time.LoadLocation(cfg.Escalation.Timezone)
	if err != nil {
		log.Fatal(err)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("database unreachable: %v", err)
	}
	cancel()

	recipients := store.NewPostgresRecipientStore(db)
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := recipients.EnsureSchema(ctx); err != nil {
		cancel()
		log.Fatalf("schema setup failed: %v", err)
	}
	cancel()

	var quota escalation.Quota = cache.NewMemoryQuota()
	var receipts delivery.Receipts
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		receipts = cache.NewRedisCache(rdb, cfg.Redis.TTL)
		quota = cache.NewRedisQuota(rdb)
		slog.Info("redis enabled", "addr", cfg.Redis.Address)
	}

	channel := client.NewWhatsAppClient(cfg.Channel.BaseURL, cfg.Channel.Token, cfg.Channel.TemplateLocale)

	sessions := session.NewTracker(recipients, cfg.Engine.SessionWindow)
	queue := pending.NewStore(recipients)
	engine := delivery.NewEngine(recipients, sessions, queue, channel, cfg.Engine.DefaultRegion)
	if receipts != nil {
		engine.WithReceipts(receipts)
	}
	workflow := approval.NewWorkflow(recipients, engine, cfg.Engine.ApprovalWindow)

	sweeps := []scheduler.Sweep{
		{
			Name:  "dispatch_proposals",
			Every: cfg.Scheduler.DispatchInterval,
			Run: func(ctx context.Context) (int, error) {
				dispatched, dErr := workflow.DispatchProposals(ctx)
				delivered, sErr := workflow.DeliverApproved(ctx)
				return dispatched + delivered, errors.Join(dErr, sErr)
			},
		},
		{
			Name:  "expire_approvals",
			Every: cfg.Scheduler.ExpireInterval,
			Run:   workflow.ExpireStale,
		},
		{
			Name:  "expire_pending",
			Every: cfg.Scheduler.ExpireInterval,
			Run:   queue.ExpireOld,
		},
	}

	esc := escalation.NewScheduler(recipients, voiceClient(cfg), quota, escalation.Config{
		Threshold: cfg.Escalation.Threshold,
		MaxPerDay: cfg.Escalation.MaxPerDay,
		HourStart: cfg.Escalation.HourStart,
		HourEnd:   cfg.Escalation.HourEnd,
		Location:  location,
	})
	if cfg.Voice.APIKey != "" {
		sweeps = append(sweeps, scheduler.Sweep{
			Name:  "escalate",
			Every: cfg.Scheduler.EscalateInterval,
			Run:   esc.Sweep,
		})
	} else {
		slog.Warn("voice escalation disabled, VOICE_API_KEY not set")
	}

	sched, err := scheduler.New(30*time.Second, sweeps)
	if err != nil {
		log.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	cron := jobs.NewCronManager(recipients, workflow, location)
	if err := cron.SetupJobs(); err != nil {
		log.Fatal(err)
	}
	cron.Start()
	defer cron.Stop()

	handler := api.NewHandler(sched, recipients, engine, workflow, esc, queue)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stop, stopCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopCancel()
	<-stop.Done()

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

// voiceClient builds the Retell-style client even when escalation is
// disabled; the sweep that would use it is simply not registered then.
func voiceClient(cfg *config.Config) *client.VoiceClient {
	return client.NewVoiceClient(cfg.Voice.BaseURL, cfg.Voice.APIKey, cfg.Voice.AgentID, cfg.Voice.FromNumber)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
