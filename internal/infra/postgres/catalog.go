package postgres

import (
	"context"
	"errors"
	"fmt"

	"assessment-engine/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Catalog reads collaborator-owned tables: courses, modules, lessons, questions,
// answers, lesson_completions, bookings, quiz_attempts and users.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

const (
	courseExistsSQL = `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`
	moduleExistsSQL = `SELECT EXISTS (SELECT 1 FROM modules WHERE id = $1)`

	courseQuestionsSQL = `
SELECT q.id, q.prompt, a.id, a.text, a.is_correct
FROM questions q
LEFT JOIN answers a ON a.question_id = q.id
WHERE q.course_id = $1
ORDER BY q.position, q.id, a.position, a.id`

	moduleQuestionsSQL = `
SELECT q.id, q.prompt, a.id, a.text, a.is_correct
FROM questions q
LEFT JOIN answers a ON a.question_id = q.id
WHERE q.module_id = $1
ORDER BY q.position, q.id, a.position, a.id`
)

func (c *Catalog) LoadQuestions(ctx context.Context, scope domain.Scope) ([]domain.Question, error) {
	existsSQL, questionsSQL := moduleExistsSQL, moduleQuestionsSQL
	if scope.Kind == domain.ScopeCourse {
		existsSQL, questionsSQL = courseExistsSQL, courseQuestionsSQL
	}

	var exists bool
	if err := c.pool.QueryRow(ctx, existsSQL, scope.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check scope: %w", err)
	}
	if !exists {
		return nil, domain.ErrScopeNotFound
	}

	rows, err := c.pool.Query(ctx, questionsSQL, scope.ID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	index := make(map[string]int)
	for rows.Next() {
		var (
			questionID, prompt   string
			answerID, answerText *string
			correct              *bool
		)
		if err := rows.Scan(&questionID, &prompt, &answerID, &answerText, &correct); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		i, ok := index[questionID]
		if !ok {
			i = len(questions)
			index[questionID] = i
			questions = append(questions, domain.Question{ID: questionID, Prompt: prompt})
		}
		if answerID == nil {
			continue
		}
		a := domain.Answer{ID: *answerID}
		if answerText != nil {
			a.Text = *answerText
		}
		if correct != nil {
			a.Correct = *correct
		}
		questions[i].Answers = append(questions[i].Answers, a)
	}
	return questions, rows.Err()
}

const lessonCourseSQL = `
SELECT m.course_id
FROM lessons l
JOIN modules m ON m.id = l.module_id
WHERE l.id = $1`

func (c *Catalog) LessonContext(ctx context.Context, lessonID string) (domain.LessonContext, error) {
	var courseID string
	err := c.pool.QueryRow(ctx, lessonCourseSQL, lessonID).Scan(&courseID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LessonContext{}, domain.ErrLessonNotFound
	}
	if err != nil {
		return domain.LessonContext{}, fmt.Errorf("lesson context: %w", err)
	}

	trees, err := c.courseTrees(ctx, []string{courseID})
	if err != nil {
		return domain.LessonContext{}, err
	}
	for _, course := range trees {
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

const lessonCoursesSQL = `
SELECT DISTINCT m.course_id
FROM lessons l
JOIN modules m ON m.id = l.module_id
WHERE l.id = ANY($1)`

func (c *Catalog) CourseTrees(ctx context.Context, lessonIDs []string) ([]domain.CourseTree, error) {
	if len(lessonIDs) == 0 {
		return nil, nil
	}
	rows, err := c.pool.Query(ctx, lessonCoursesSQL, lessonIDs)
	if err != nil {
		return nil, fmt.Errorf("lesson courses: %w", err)
	}
	var courseIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		courseIDs = append(courseIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c.courseTrees(ctx, courseIDs)
}

const courseTreesSQL = `
SELECT m.course_id, m.id, l.id
FROM modules m
LEFT JOIN lessons l ON l.module_id = m.id
WHERE m.course_id = ANY($1)
ORDER BY m.course_id, m.position, m.id, l.position, l.id`

func (c *Catalog) courseTrees(ctx context.Context, courseIDs []string) ([]domain.CourseTree, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	rows, err := c.pool.Query(ctx, courseTreesSQL, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("course trees: %w", err)
	}
	defer rows.Close()

	var trees []domain.CourseTree
	for rows.Next() {
		var (
			courseID, moduleID string
			lessonID           *string
		)
		if err := rows.Scan(&courseID, &moduleID, &lessonID); err != nil {
			return nil, fmt.Errorf("scan course tree: %w", err)
		}
		if len(trees) == 0 || trees[len(trees)-1].CourseID != courseID {
			trees = append(trees, domain.CourseTree{CourseID: courseID})
		}
		course := &trees[len(trees)-1]
		if len(course.Modules) == 0 || course.Modules[len(course.Modules)-1].ModuleID != moduleID {
			course.Modules = append(course.Modules, domain.ModuleTree{ModuleID: moduleID})
		}
		if lessonID != nil {
			m := &course.Modules[len(course.Modules)-1]
			m.LessonIDs = append(m.LessonIDs, *lessonID)
		}
	}
	return trees, rows.Err()
}

func (c *Catalog) CompletedLessonIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT DISTINCT lesson_id FROM lesson_completions WHERE user_id = $1 ORDER BY lesson_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("completed lessons: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Catalog) CountCompleted(ctx context.Context, userID string, lessonIDs []string) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx,
		`SELECT count(DISTINCT lesson_id) FROM lesson_completions WHERE user_id = $1 AND lesson_id = ANY($2)`,
		userID, lessonIDs,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed lessons: %w", err)
	}
	return n, nil
}

func (c *Catalog) CompletedVideoLessons(ctx context.Context, userID string) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `
SELECT count(DISTINCT lc.lesson_id)
FROM lesson_completions lc
JOIN lessons l ON l.id = lc.lesson_id
WHERE lc.user_id = $1 AND l.kind = 'video'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count video lessons: %w", err)
	}
	return n, nil
}

func (c *Catalog) ConfirmedBookings(ctx context.Context, userID string) ([]domain.Booking, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, student_id, teacher_id, starts_at, ends_at
FROM bookings
WHERE status = 'confirmed' AND (student_id = $1 OR teacher_id = $1)
ORDER BY starts_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("confirmed bookings: %w", err)
	}
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.StudentID, &b.TeacherID, &b.StartsAt, &b.EndsAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (c *Catalog) BestQuizScore(ctx context.Context, userID string) (float64, bool, error) {
	var best *float64
	err := c.pool.QueryRow(ctx,
		`SELECT max(score) FROM quiz_attempts WHERE user_id = $1 AND submitted_at IS NOT NULL`,
		userID,
	).Scan(&best)
	if err != nil {
		return 0, false, fmt.Errorf("best quiz score: %w", err)
	}
	if best == nil {
		return 0, false, nil
	}
	return *best, true, nil
}

func (c *Catalog) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := c.pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("display name: %w", err)
	}
	return name, nil
}
