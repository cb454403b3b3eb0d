package cli

import (
	"fmt"

	"assessment-engine/internal/domain"
	"assessment-engine/internal/infra/memory"
)

// demoCatalog provides a small course for running without Postgres.
func demoCatalog() *memory.Catalog {
	c := memory.NewCatalog()
	c.AddCourse(domain.CourseTree{
		CourseID: "go-101",
		Modules: []domain.ModuleTree{
			{ModuleID: "go-101-basics", LessonIDs: []string{"go-101-l1", "go-101-l2", "go-101-l3"}},
			{ModuleID: "go-101-concurrency", LessonIDs: []string{"go-101-l4", "go-101-l5"}},
		},
	})
	c.SetLessonKind("go-101-l1", memory.LessonKindVideo)
	c.SetLessonKind("go-101-l4", memory.LessonKindVideo)

	basics := []struct{ prompt, right, wrong string }{
		{"Which keyword declares a constant?", "const", "let"},
		{"What is the zero value of a pointer?", "nil", "0"},
		{"Which built-in appends to a slice?", "append", "push"},
		{"How are exported identifiers marked?", "Capitalised name", "export keyword"},
	}
	concurrency := []struct{ prompt, right, wrong string }{
		{"Which statement starts a goroutine?", "go", "spawn"},
		{"Which type synchronises a group of goroutines?", "sync.WaitGroup", "sync.Group"},
		{"What does a receive on a closed channel return?", "The zero value", "It panics"},
	}
	mq := func(prefix string, items []struct{ prompt, right, wrong string }) []domain.Question {
		out := make([]domain.Question, 0, len(items))
		for i, it := range items {
			id := fmt.Sprintf("%s-q%d", prefix, i+1)
			out = append(out, domain.Question{
				ID:     id,
				Prompt: it.prompt,
				Answers: []domain.Answer{
					{ID: id + "-a", Text: it.wrong},
					{ID: id + "-b", Text: it.right, Correct: true},
				},
			})
		}
		return out
	}
	basicQs := mq("basics", basics)
	concQs := mq("concurrency", concurrency)
	c.SetQuestions(domain.Scope{Kind: domain.ScopeModule, ID: "go-101-basics"}, basicQs)
	c.SetQuestions(domain.Scope{Kind: domain.ScopeModule, ID: "go-101-concurrency"}, concQs)
	c.SetQuestions(domain.Scope{Kind: domain.ScopeCourse, ID: "go-101"}, append(append([]domain.Question(nil), basicQs...), concQs...))
	c.SetName("demo-user", "Demo Learner")
	return c
}

func demoChallenges() []domain.Challenge {
	return []domain.Challenge{
		{ID: "first-lesson", Type: domain.AchievementLessonCount, Target: 1, Points: 10, Active: true},
		{ID: "five-lessons", Type: domain.AchievementLessonCount, Target: 5, Points: 100, Active: true},
		{ID: "first-module", Type: domain.AchievementModuleCount, Target: 1, Points: 50, Active: true},
		{ID: "quiz-ace", Type: domain.AchievementBestQuizScore, Target: 90, Points: 40, Active: true},
		{ID: "three-week-streak", Type: domain.AchievementWeeklyStreak, Target: 3, Points: 30, Active: true},
	}
}
