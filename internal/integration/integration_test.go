package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/domain"
	"assessment-engine/internal/infra/postgres"
	pgmigrations "assessment-engine/internal/infra/postgres/migrations"
	infraredis "assessment-engine/internal/infra/redis"
	"assessment-engine/internal/logging"
	"assessment-engine/internal/metrics"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

type stack struct {
	pool         *pgxpool.Pool
	db           *bun.DB
	ledger       *postgres.LedgerStore
	certStore    *postgres.CertificateStore
	dispatcher   *app.Dispatcher
	achievements *app.AchievementService
	certificates *app.CertificateIssuer
	hooks        *app.Hooks
	exams        *app.ExamService
}

func TestEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	s := newStack(t, ctx, pgURL, redisURL)
	seedCatalog(t, ctx, s.pool)

	t.Run("exam attempt", func(t *testing.T) { testExamAttempt(t, ctx, s) })
	t.Run("concurrent submit", func(t *testing.T) { testConcurrentSubmit(t, ctx, s) })
	t.Run("lesson challenge", func(t *testing.T) { testLessonChallenge(t, ctx, s) })
	t.Run("redemption floor", func(t *testing.T) { testRedemptionFloor(t, ctx, s) })
	t.Run("certificate uniqueness", func(t *testing.T) { testCertificateUniqueness(t, ctx, s) })
	t.Run("streak", func(t *testing.T) { testStreak(t, ctx, s) })
}

func newStack(t *testing.T, ctx context.Context, pgURL, redisURL string) *stack {
	t.Helper()
	log := logging.Discard()
	m := metrics.Noop()

	db := postgres.OpenDB(pgURL)
	t.Cleanup(func() { _ = db.Close() })
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	catalog := postgres.NewCatalog(pool)
	s := &stack{
		pool:      pool,
		db:        db,
		ledger:    postgres.NewLedgerStore(db),
		certStore: postgres.NewCertificateStore(db),
	}
	s.dispatcher = app.NewDispatcher(2, 32, 10*time.Second, log, m)
	progress := app.NewProgressEvaluator(app.ProgressSources{
		Structure: catalog,
		Lessons:   catalog,
		Bookings:  catalog,
		Quizzes:   catalog,
		Ledger:    s.ledger,
	}, 0.5)
	s.achievements = app.NewAchievementService(s.ledger, progress, nil, log, m)
	s.certificates = app.NewCertificateIssuer(s.certStore, catalog, catalog, catalog, nil, app.DefaultPassScore, log, m)
	s.hooks = app.NewHooks(s.dispatcher, s.achievements, s.certificates, infraredis.NewEventGuard(redisClient, time.Hour), log)
	bank := infraredis.NewQuestionBank(redisClient, catalog, 5*time.Minute, log)
	s.exams = app.NewExamService(bank, postgres.NewAttemptStore(db), s.hooks, 30*time.Minute, log, m)
	return s
}

func testExamAttempt(t *testing.T, ctx context.Context, s *stack) {
	started, err := s.exams.StartAttempt(ctx, app.StartRequest{UserID: "u1", CourseID: "c1", NumQuestions: 10})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(started.Questions) != 10 {
		t.Fatalf("expected 10 questions, got %d", len(started.Questions))
	}
	seen := map[string]bool{}
	for _, q := range started.Questions {
		if seen[q.ID] {
			t.Fatalf("duplicate question %s", q.ID)
		}
		seen[q.ID] = true
	}

	answers := make([]domain.SubmittedAnswer, 0, 10)
	for i, q := range started.Questions {
		suffix := "-wrong"
		if i < 7 {
			suffix = "-right"
		}
		answers = append(answers, domain.SubmittedAnswer{QuestionID: q.ID, AnswerID: q.ID + suffix})
	}

	// Edits to the bank after start must not affect grading.
	if _, err := s.pool.Exec(ctx, `UPDATE answers SET is_correct = NOT is_correct`); err != nil {
		t.Fatalf("flip bank: %v", err)
	}
	defer func() {
		_, _ = s.pool.Exec(ctx, `UPDATE answers SET is_correct = NOT is_correct`)
	}()

	result, err := s.exams.SubmitAttempt(ctx, started.AttemptID, "u1", answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 70 || result.CorrectCount != 7 {
		t.Fatalf("expected 70.0 with 7 correct, got %v/%d", result.Score, result.CorrectCount)
	}
	if _, err := s.exams.SubmitAttempt(ctx, started.AttemptID, "u1", answers); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on resubmit, got %v", err)
	}

	view, err := s.exams.GetAttempt(ctx, started.AttemptID, "u1")
	if err != nil || view.Status != app.StatusSubmitted || view.Result.Score != 70 {
		t.Fatalf("unexpected view %+v (%v)", view, err)
	}

	waitFor(t, func() bool {
		_, found, err := s.certStore.FindByKey(ctx, "u1", domain.Scope{Kind: domain.ScopeCourse, ID: "c1"}, domain.CredentialCourseExam)
		return err == nil && found
	})
	certs, err := s.certificates.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list certificates: %v", err)
	}
	exams := 0
	for _, c := range certs {
		if c.Kind == domain.CredentialCourseExam {
			exams++
			if c.RecipientName != "Alice Example" || c.Score == nil || *c.Score != 70 {
				t.Fatalf("unexpected certificate %+v", c)
			}
		}
	}
	if exams != 1 {
		t.Fatalf("expected one course exam certificate, got %d", exams)
	}
}

func testConcurrentSubmit(t *testing.T, ctx context.Context, s *stack) {
	started, err := s.exams.StartAttempt(ctx, app.StartRequest{UserID: "u2", ModuleID: "m1", NumQuestions: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.exams.SubmitAttempt(ctx, started.AttemptID, "u2", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != 7 {
		t.Fatalf("expected 1 success and 7 conflicts, got %d and %d", ok, conflicts)
	}
}

func testLessonChallenge(t *testing.T, ctx context.Context, s *stack) {
	challenge := domain.Challenge{ID: "five-lessons", Type: domain.AchievementLessonCount, Target: 5, Points: 100, Active: true}
	if err := s.ledger.PutChallenge(ctx, challenge); err != nil {
		t.Fatalf("put challenge: %v", err)
	}
	for _, l := range []string{"l1", "l2", "l3", "l4", "l5"} {
		if _, err := s.pool.Exec(ctx, `INSERT INTO lesson_completions (user_id, lesson_id) VALUES ('u3', $1)`, l); err != nil {
			t.Fatalf("complete lesson: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.achievements.EvaluateAndAward(ctx, "u3", app.LessonEventTypes)
		}()
	}
	wg.Wait()

	state, err := s.ledger.State(ctx, "u3")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.TotalPoints != 100 {
		t.Fatalf("expected 100 points, got %d", state.TotalPoints)
	}
	p, found, err := s.ledger.ChallengeProgress(ctx, "u3", challenge.ID)
	if err != nil || !found || !p.Completed || p.AwardedPoints != 100 {
		t.Fatalf("unexpected progress %+v found=%v (%v)", p, found, err)
	}

	if _, err := s.pool.Exec(ctx, `INSERT INTO lesson_completions (user_id, lesson_id) VALUES ('u3', 'l6')`); err != nil {
		t.Fatalf("complete lesson: %v", err)
	}
	s.achievements.EvaluateAndAward(ctx, "u3", app.LessonEventTypes)
	again, _, _ := s.ledger.ChallengeProgress(ctx, "u3", challenge.ID)
	if state, _ := s.ledger.State(ctx, "u3"); state.TotalPoints != 100 || !again.CompletedAt.Equal(*p.CompletedAt) {
		t.Fatalf("completed challenge must stay frozen: points=%d progress=%+v", state.TotalPoints, again)
	}

	// module m1 (l1-l3) and m2 (l4-l6) plus course c1 are now complete
	if !s.hooks.LessonCompleted("u3", "l6") {
		t.Fatalf("event rejected")
	}
	waitFor(t, func() bool {
		certs, err := s.certificates.ListForUser(ctx, "u3")
		return err == nil && len(certs) == 2
	})
}

func testRedemptionFloor(t *testing.T, ctx context.Context, s *stack) {
	if err := s.ledger.SeedUser(ctx, domain.AchievementState{UserID: "u4", TotalPoints: 50}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.achievements.RedeemPoints(ctx, "u4", "sticker", 10)
		}()
	}
	wg.Wait()

	state, _ := s.ledger.State(ctx, "u4")
	redemptions, _ := s.ledger.ListRedemptions(ctx, "u4")
	if state.TotalPoints != 0 || len(redemptions) != 5 {
		t.Fatalf("expected 0 points and 5 redemptions, got %d and %d", state.TotalPoints, len(redemptions))
	}

	_, _, err := s.achievements.RedeemPoints(ctx, "u4", "sticker", 10)
	var insufficient *domain.InsufficientPointsError
	if !errors.As(err, &insufficient) || insufficient.Current != 0 || insufficient.Required != 10 {
		t.Fatalf("expected insufficient points, got %v", err)
	}
	if _, _, err := s.achievements.RedeemPoints(ctx, "ghost", "sticker", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown user, got %v", err)
	}
}

func testCertificateUniqueness(t *testing.T, ctx context.Context, s *stack) {
	req := app.IssueRequest{UserID: "u5", Scope: domain.Scope{Kind: domain.ScopeModule, ID: "m2"}, Kind: domain.CredentialModuleCompletion}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.certificates.IssueIfEligible(ctx, req)
			if err != nil {
				t.Errorf("issue: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected exactly one automatic certificate, got %d", created)
	}

	manual, err := s.certificates.IssueManual(ctx, req)
	if err != nil {
		t.Fatalf("manual: %v", err)
	}
	public, err := s.certificates.Verify(ctx, strings.ToLower(manual.VerificationCode))
	if err != nil || public.Kind != domain.CredentialModuleCompletion {
		t.Fatalf("verify: %+v (%v)", public, err)
	}
	certs, _ := s.certificates.ListForUser(ctx, "u5")
	if len(certs) != 2 {
		t.Fatalf("expected automatic and manual certificates, got %d", len(certs))
	}
}

func testStreak(t *testing.T, ctx context.Context, s *stack) {
	weeks := []struct{ week, prev string }{
		{"2026-W40", "2026-W39"},
		{"2026-W40", "2026-W39"},
		{"2026-W41", "2026-W40"},
		{"2026-W43", "2026-W42"},
	}
	want := []int{1, 1, 2, 1}
	for i, w := range weeks {
		state, err := s.ledger.AdvanceStreak(ctx, "u6", w.week, w.prev)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if state.CurrentStreak != want[i] {
			t.Fatalf("step %d: expected streak %d, got %d", i, want[i], state.CurrentStreak)
		}
	}
	state, _ := s.ledger.State(ctx, "u6")
	if state.LongestStreak != 2 || state.LastActiveWeek != "2026-W43" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func seedCatalog(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	schema, err := os.ReadFile("testdata/collaborators.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("create collaborator tables: %v", err)
	}

	stmts := []string{
		`INSERT INTO users (id, name) VALUES ('u1', 'Alice Example'), ('u3', 'Carol Example')`,
		`INSERT INTO courses (id, title) VALUES ('c1', 'Course one')`,
		`INSERT INTO modules (id, course_id, position) VALUES ('m1', 'c1', 1), ('m2', 'c1', 2)`,
		`INSERT INTO lessons (id, module_id, position) VALUES
			('l1', 'm1', 1), ('l2', 'm1', 2), ('l3', 'm1', 3),
			('l4', 'm2', 1), ('l5', 'm2', 2), ('l6', 'm2', 3)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	insertQuestions(t, ctx, pool, "course_id", "c1", "cq", 15)
	insertQuestions(t, ctx, pool, "module_id", "m1", "mq", 3)
}

func insertQuestions(t *testing.T, ctx context.Context, pool *pgxpool.Pool, column, scopeID, prefix string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s%d", prefix, i)
		if _, err := pool.Exec(ctx,
			fmt.Sprintf(`INSERT INTO questions (id, %s, prompt, position) VALUES ($1, $2, $3, $4)`, column),
			id, scopeID, "Question "+id, i,
		); err != nil {
			t.Fatalf("insert question: %v", err)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO answers (id, question_id, text, is_correct, position) VALUES ($1, $2, $3, false, 1), ($4, $2, $5, true, 2)`,
			id+"-wrong", id, "wrong "+id, id+"-right", "right "+id,
		); err != nil {
			t.Fatalf("insert answers: %v", err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "engine", "POSTGRES_PASSWORD": "enginepass", "POSTGRES_DB": "enginedb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://engine:enginepass@%s:%s/enginedb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
