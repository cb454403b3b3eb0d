package app

import (
	"math"
	"math/rand"

	"assessment-engine/internal/domain"
)

const unansweredText = "—"

// GradeResult is the outcome of grading a snapshot.
type GradeResult struct {
	Corrections  []domain.Correction
	CorrectCount int
	Total        int
	Score        float64
}

// SelectQuestions picks n questions without replacement: a Fisher-Yates shuffle over a
// copy of the whole bank, then a prefix. The bank itself is left untouched.
func SelectQuestions(rnd *rand.Rand, bank []domain.Question, n int) ([]domain.Question, error) {
	if n <= 0 {
		return nil, domain.InvalidInputf("numQuestions must be positive")
	}
	if n > len(bank) {
		return nil, domain.InvalidInputf("requested %d questions but the bank holds only %d", n, len(bank))
	}
	shuffled := make([]domain.Question, len(bank))
	copy(shuffled, bank)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return cloneQuestions(shuffled[:n]), nil
}

// Percentage returns correct/total as a percentage rounded to one decimal.
func Percentage(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*1000) / 10
}

// Grade scores answers against the snapshot. Unanswered questions count as incorrect.
func Grade(snapshot []domain.Question, answers []domain.SubmittedAnswer) GradeResult {
	chosen := make(map[string]string, len(answers))
	for _, a := range answers {
		chosen[a.QuestionID] = a.AnswerID
	}

	result := GradeResult{
		Corrections: make([]domain.Correction, 0, len(snapshot)),
		Total:       len(snapshot),
	}
	for _, q := range snapshot {
		c := domain.Correction{
			QuestionID:         q.ID,
			Prompt:             q.Prompt,
			SelectedAnswerText: unansweredText,
			CorrectAnswerText:  unansweredText,
		}
		for i := range q.Answers {
			if q.Answers[i].Correct {
				id := q.Answers[i].ID
				c.CorrectAnswerID = &id
				c.CorrectAnswerText = q.Answers[i].Text
				break
			}
		}
		if selectedID, ok := chosen[q.ID]; ok {
			for i := range q.Answers {
				if q.Answers[i].ID == selectedID {
					id := selectedID
					c.SelectedAnswerID = &id
					c.SelectedAnswerText = q.Answers[i].Text
					c.IsCorrect = q.Answers[i].Correct
					break
				}
			}
		}
		if c.IsCorrect {
			result.CorrectCount++
		}
		result.Corrections = append(result.Corrections, c)
	}
	result.Score = Percentage(result.CorrectCount, result.Total)
	return result
}

// PublicQuestions drops every correctness flag from the snapshot.
func PublicQuestions(questions []domain.Question) []domain.PublicQuestion {
	out := make([]domain.PublicQuestion, 0, len(questions))
	for _, q := range questions {
		answers := make([]domain.PublicAnswer, 0, len(q.Answers))
		for _, a := range q.Answers {
			answers = append(answers, domain.PublicAnswer{ID: a.ID, Text: a.Text})
		}
		out = append(out, domain.PublicQuestion{ID: q.ID, Prompt: q.Prompt, Answers: answers})
	}
	return out
}

// validateAnswers rejects malformed payloads before grading.
func validateAnswers(snapshot []domain.Question, answers []domain.SubmittedAnswer) error {
	index := make(map[string]domain.Question, len(snapshot))
	for _, q := range snapshot {
		index[q.ID] = q
	}
	seen := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		if a.QuestionID == "" || a.AnswerID == "" {
			return domain.InvalidInputf("answers need both questionId and answerId")
		}
		if _, dup := seen[a.QuestionID]; dup {
			return domain.InvalidInputf("question %s answered more than once", a.QuestionID)
		}
		seen[a.QuestionID] = struct{}{}

		q, ok := index[a.QuestionID]
		if !ok {
			return domain.InvalidInputf("question %s is not part of this attempt", a.QuestionID)
		}
		if !hasAnswer(q, a.AnswerID) {
			return domain.InvalidInputf("answer %s does not belong to question %s", a.AnswerID, a.QuestionID)
		}
	}
	return nil
}

func hasAnswer(q domain.Question, answerID string) bool {
	for _, a := range q.Answers {
		if a.ID == answerID {
			return true
		}
	}
	return false
}

func cloneQuestions(in []domain.Question) []domain.Question {
	out := make([]domain.Question, len(in))
	for i, q := range in {
		out[i] = domain.Question{ID: q.ID, Prompt: q.Prompt, Answers: append([]domain.Answer(nil), q.Answers...)}
	}
	return out
}
