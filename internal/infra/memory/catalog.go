package memory

import (
	"context"
	"sort"
	"sync"

	"assessment-engine/internal/domain"
)

// LessonKindVideo marks lessons that count towards total hours.
const LessonKindVideo = "video"

// Catalog is an in-memory stand-in for the collaborator data the engine reads:
// course structure, question banks, lesson completions, bookings, quiz scores and names.
type Catalog struct {
	mu          sync.RWMutex
	courses     []domain.CourseTree
	lessonKinds map[string]string
	questions   map[domain.Scope][]domain.Question
	completions map[string]map[string]struct{}
	bookings    []domain.Booking
	quizScores  map[string][]float64
	names       map[string]string
}

func NewCatalog() *Catalog {
	return &Catalog{
		lessonKinds: make(map[string]string),
		questions:   make(map[domain.Scope][]domain.Question),
		completions: make(map[string]map[string]struct{}),
		quizScores:  make(map[string][]float64),
		names:       make(map[string]string),
	}
}

// AddCourse registers a course tree.
func (c *Catalog) AddCourse(tree domain.CourseTree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses = append(c.courses, tree)
}

// SetLessonKind tags a lesson, e.g. LessonKindVideo.
func (c *Catalog) SetLessonKind(lessonID, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lessonKinds[lessonID] = kind
}

// SetQuestions replaces the bank of scope.
func (c *Catalog) SetQuestions(scope domain.Scope, questions []domain.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questions[scope] = questions
}

// DeleteQuestions empties the bank of scope.
func (c *Catalog) DeleteQuestions(scope domain.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.questions, scope)
}

// CompleteLesson records a completed lesson.
func (c *Catalog) CompleteLesson(userID, lessonID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	done, ok := c.completions[userID]
	if !ok {
		done = make(map[string]struct{})
		c.completions[userID] = done
	}
	done[lessonID] = struct{}{}
}

// AddBooking records a confirmed booking.
func (c *Catalog) AddBooking(b domain.Booking) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookings = append(c.bookings, b)
}

// RecordQuizScore stores a quiz attempt score for userID.
func (c *Catalog) RecordQuizScore(userID string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quizScores[userID] = append(c.quizScores[userID], score)
}

// SetName sets the display name of userID.
func (c *Catalog) SetName(userID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[userID] = name
}

func (c *Catalog) LoadQuestions(_ context.Context, scope domain.Scope) ([]domain.Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.scopeExistsLocked(scope) {
		return nil, domain.ErrScopeNotFound
	}
	src := c.questions[scope]
	out := make([]domain.Question, len(src))
	for i, q := range src {
		out[i] = domain.Question{ID: q.ID, Prompt: q.Prompt, Answers: append([]domain.Answer(nil), q.Answers...)}
	}
	return out, nil
}

func (c *Catalog) LessonContext(_ context.Context, lessonID string) (domain.LessonContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, course := range c.courses {
		for _, m := range course.Modules {
			for _, id := range m.LessonIDs {
				if id == lessonID {
					return domain.LessonContext{LessonID: lessonID, Module: m, Course: course}, nil
				}
			}
		}
	}
	return domain.LessonContext{}, domain.ErrLessonNotFound
}

func (c *Catalog) CourseTrees(_ context.Context, lessonIDs []string) ([]domain.CourseTree, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wanted := toSet(lessonIDs)
	var out []domain.CourseTree
	for _, course := range c.courses {
		for _, id := range course.LessonIDs() {
			if _, ok := wanted[id]; ok {
				out = append(out, course)
				break
			}
		}
	}
	return out, nil
}

func (c *Catalog) CompletedLessonIDs(_ context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.completions[userID]))
	for id := range c.completions[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Catalog) CountCompleted(_ context.Context, userID string, lessonIDs []string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	done := c.completions[userID]
	n := 0
	for id := range toSet(lessonIDs) {
		if _, ok := done[id]; ok {
			n++
		}
	}
	return n, nil
}

func (c *Catalog) CompletedVideoLessons(_ context.Context, userID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for id := range c.completions[userID] {
		if c.lessonKinds[id] == LessonKindVideo {
			n++
		}
	}
	return n, nil
}

func (c *Catalog) ConfirmedBookings(_ context.Context, userID string) ([]domain.Booking, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Booking
	for _, b := range c.bookings {
		if b.StudentID == userID || b.TeacherID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *Catalog) BestQuizScore(_ context.Context, userID string) (float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scores := c.quizScores[userID]
	if len(scores) == 0 {
		return 0, false, nil
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s > best {
			best = s
		}
	}
	return best, true, nil
}

func (c *Catalog) DisplayName(_ context.Context, userID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.names[userID], nil
}

func (c *Catalog) scopeExistsLocked(scope domain.Scope) bool {
	for _, course := range c.courses {
		if scope.Kind == domain.ScopeCourse && course.CourseID == scope.ID {
			return true
		}
		if scope.Kind == domain.ScopeModule {
			for _, m := range course.Modules {
				if m.ModuleID == scope.ID {
					return true
				}
			}
		}
	}
	return false
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
