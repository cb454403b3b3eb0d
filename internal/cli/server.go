package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/config"
	"assessment-engine/internal/infra/memory"
	"assessment-engine/internal/infra/postgres"
	infraredis "assessment-engine/internal/infra/redis"
	"assessment-engine/internal/logging"
	"assessment-engine/internal/metrics"
	transport "assessment-engine/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// stores groups the persistence choices made at startup.
type stores struct {
	bank         app.QuestionBank
	attempts     app.AttemptStore
	ledger       app.LedgerStore
	certificates app.CertificateStore
	guard        app.EventGuard
	structure    app.CourseStructure
	lessons      app.LessonProgress
	bookings     app.BookingProvider
	quizzes      app.QuizScores
	users        app.UserDirectory
	close        func()
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New("assessment-engine", cfg.Log.Level)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	hub := app.NewNotificationHub()
	dispatcher := app.NewDispatcher(
		config.IntOr(cfg.Dispatch.Workers, 4),
		config.IntOr(cfg.Dispatch.Queue, 256),
		config.Duration(cfg.Dispatch.TaskTimeout, 30*time.Second),
		log, m,
	).WithMaxOverflow(config.IntOr(cfg.Dispatch.MaxOverflow, app.DefaultMaxOverflow))
	progress := app.NewProgressEvaluator(app.ProgressSources{
		Structure: st.structure,
		Lessons:   st.lessons,
		Bookings:  st.bookings,
		Quizzes:   st.quizzes,
		Ledger:    st.ledger,
	}, config.FloatOr(cfg.Achievements.VideoLessonHours, 0.5))
	achievements := app.NewAchievementService(st.ledger, progress, hub, log, m)
	certificates := app.NewCertificateIssuer(st.certificates, st.structure, st.lessons, st.users, hub,
		config.FloatOr(cfg.Certificates.PassScore, app.DefaultPassScore), log, m)
	hooks := app.NewHooks(dispatcher, achievements, certificates, st.guard, log)
	exams := app.NewExamService(st.bank, st.attempts, hooks,
		config.Duration(cfg.Exam.DefaultTimeLimit, 0), log, m)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws/achievements", transport.NewWSHandler(hub, log).ServeWS)
	transport.NewAPI(exams, achievements, certificates, hooks, log).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting assessment engine")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending side-effect tasks abandoned")
	}
	return nil
}

// openStores picks Postgres when configured and the in-memory demo catalog otherwise.
// Redis, when configured, fronts the question bank and guards event redelivery.
func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*stores, error) {
	var (
		st      stores
		loader  memory.QuestionLoader
		closers []func()
	)
	st.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		db := postgres.OpenDB(cfg.Postgres.URL)
		closers = append(closers, func() { _ = db.Close() })

		catalog := postgres.NewCatalog(pool)
		loader = catalog
		st.structure, st.lessons, st.bookings, st.quizzes, st.users = catalog, catalog, catalog, catalog, catalog
		st.attempts = postgres.NewAttemptStore(db)
		st.ledger = postgres.NewLedgerStore(db)
		st.certificates = postgres.NewCertificateStore(db)
	} else {
		log.Warn("postgres not configured, running on in-memory demo data")
		catalog := demoCatalog()
		ledger := memory.NewLedgerStore()
		for _, ch := range demoChallenges() {
			_ = ledger.PutChallenge(ctx, ch)
		}
		loader = catalog
		st.structure, st.lessons, st.bookings, st.quizzes, st.users = catalog, catalog, catalog, catalog, catalog
		st.attempts = memory.NewAttemptStore()
		st.ledger = ledger
		st.certificates = memory.NewCertificateStore()
	}

	bankTTL := config.Duration(cfg.Bank.TTL, 10*time.Minute)
	eventTTL := config.Duration(cfg.Dispatch.EventTTL, 24*time.Hour)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		st.bank = infraredis.NewQuestionBank(client, loader, bankTTL, log)
		st.guard = infraredis.NewEventGuard(client, eventTTL)
	} else {
		st.bank = memory.NewQuestionBank(loader, bankTTL)
		st.guard = memory.NewEventGuard(eventTTL)
	}
	return &st, nil
}
