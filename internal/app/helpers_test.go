package app_test

import (
	"fmt"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/domain"
	"assessment-engine/internal/infra/memory"
	"assessment-engine/internal/logging"
	"assessment-engine/internal/metrics"
)

var (
	courseScope = domain.Scope{Kind: domain.ScopeCourse, ID: "course-1"}
	moduleScope = domain.Scope{Kind: domain.ScopeModule, ID: "module-1"}
	fixedNow    = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
)

type engine struct {
	catalog      *memory.Catalog
	attempts     *memory.AttemptStore
	ledger       *memory.LedgerStore
	certStore    *memory.CertificateStore
	hub          *app.NotificationHub
	metrics      *metrics.Metrics
	dispatcher   *app.Dispatcher
	progress     *app.ProgressEvaluator
	achievements *app.AchievementService
	certificates *app.CertificateIssuer
	hooks        *app.Hooks
	exams        *app.ExamService
}

// newEngine wires the memory stores the way the server does in demo mode.
func newEngine() *engine {
	log := logging.Discard()
	e := &engine{
		catalog:   sampleCatalog(15),
		attempts:  memory.NewAttemptStore(),
		ledger:    memory.NewLedgerStore(),
		certStore: memory.NewCertificateStore(),
		hub:       app.NewNotificationHub(),
		metrics:   metrics.Noop(),
	}
	e.dispatcher = app.NewDispatcher(2, 16, 5*time.Second, log, e.metrics)
	e.progress = app.NewProgressEvaluator(app.ProgressSources{
		Structure: e.catalog,
		Lessons:   e.catalog,
		Bookings:  e.catalog,
		Quizzes:   e.catalog,
		Ledger:    e.ledger,
	}, 0.5).WithClock(func() time.Time { return fixedNow })
	e.achievements = app.NewAchievementService(e.ledger, e.progress, e.hub, log, e.metrics).
		WithClock(func() time.Time { return fixedNow })
	e.certificates = app.NewCertificateIssuer(e.certStore, e.catalog, e.catalog, e.catalog, e.hub, app.DefaultPassScore, log, e.metrics)
	e.hooks = app.NewHooks(e.dispatcher, e.achievements, e.certificates, memory.NewEventGuard(time.Hour), log)
	bank := memory.NewQuestionBank(e.catalog, 0)
	e.exams = app.NewExamService(bank, e.attempts, e.hooks, 30*time.Minute, log, e.metrics).
		WithClock(func() time.Time { return fixedNow })
	return e
}

// sampleCatalog has one course with two modules; the course bank holds n questions,
// each with answer "<q>-right" correct and "<q>-wrong" incorrect.
func sampleCatalog(n int) *memory.Catalog {
	c := memory.NewCatalog()
	c.AddCourse(domain.CourseTree{
		CourseID: courseScope.ID,
		Modules: []domain.ModuleTree{
			{ModuleID: moduleScope.ID, LessonIDs: []string{"l1", "l2", "l3"}},
			{ModuleID: "module-2", LessonIDs: []string{"l4", "l5", "l6"}},
		},
	})
	c.SetQuestions(courseScope, makeQuestions("cq", n))
	c.SetQuestions(moduleScope, makeQuestions("mq", 4))
	c.SetName("u1", "Alice Example")
	return c
}

func makeQuestions(prefix string, n int) []domain.Question {
	qs := make([]domain.Question, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s%d", prefix, i)
		qs = append(qs, domain.Question{
			ID:     id,
			Prompt: "Question " + id,
			Answers: []domain.Answer{
				{ID: id + "-wrong", Text: "wrong " + id},
				{ID: id + "-right", Text: "right " + id, Correct: true},
			},
		})
	}
	return qs
}
