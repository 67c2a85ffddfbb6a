package exams

import (
	"encoding/json"
	"time"

	"github.com/studytrack/backend/internal/grading"
	"github.com/studytrack/backend/internal/models"
	"github.com/studytrack/backend/internal/shuffle"
)

// LeafResult is the graded outcome of one answerable question in a slot.
type LeafResult struct {
	QuestionID  string `json:"question_id"`
	Normalized  string `json:"normalized"`
	IsCorrect   bool   `json:"is_correct"`
	EarnedScore int    `json:"earned_score"`
}

// Attempt is one leaf verdict fed to the mastery statistics.
type Attempt struct {
	QuestionID string
	Correct    bool
}

// Completion is everything written when an exam is completed. It is
// applied as one unit.
type Completion struct {
	ExamID           string
	EarnedScore      int
	CorrectCount     int
	TimeSpentSeconds int
	CompletedAt      time.Time
	Slots            []models.ExamAnswerSlot
	Attempts         []Attempt
}

// MappingFor reproduces the option order a leaf was shown in within an
// exam. Non-choice leaves have no mapping.
func MappingFor(seed int64, leaf models.Question) *models.ShuffleMapping {
	if !leaf.Kind.IsChoice() || len(leaf.Options) == 0 {
		return nil
	}
	m, err := shuffle.Shuffle(leaf.Options, shuffle.ForQuestion(seed, leaf.ID))
	if err != nil {
		return nil
	}
	return &m
}

// GradeSlot evaluates every leaf of q against the slot's saved answer. A
// group's score is split over its children with Allocate; a group slot is
// correct only when every child is.
func GradeSlot(ev *grading.Evaluator, seed int64, q models.Question, slot models.ExamAnswerSlot) (models.ExamAnswerSlot, []LeafResult) {
	var results []LeafResult

	if !q.IsGroup {
		v := ev.Evaluate(q, MappingFor(seed, q), grading.DecodeRaw(slot.UserAnswer))
		r := LeafResult{QuestionID: q.ID, Normalized: v.Normalized, IsCorrect: v.IsCorrect}
		if v.IsCorrect {
			r.EarnedScore = slot.Score
		}
		results = append(results, r)
		slot.NormalizedAnswer, _ = json.Marshal(v.Normalized)
	} else {
		raw, _ := grading.DecodeRaw(slot.UserAnswer).(map[string]any)
		scores := Allocate(slot.Score, len(q.Children))
		byChild := make(map[string]LeafResult, len(q.Children))
		for i, child := range q.Children {
			v := ev.Evaluate(child, MappingFor(seed, child), raw[child.ID])
			r := LeafResult{QuestionID: child.ID, Normalized: v.Normalized, IsCorrect: v.IsCorrect}
			if v.IsCorrect {
				r.EarnedScore = scores[i]
			}
			results = append(results, r)
			byChild[child.ID] = r
		}
		slot.NormalizedAnswer, _ = json.Marshal(byChild)
	}

	earned := 0
	allCorrect := len(results) > 0
	for _, r := range results {
		earned += r.EarnedScore
		allCorrect = allCorrect && r.IsCorrect
	}
	slot.IsCorrect = &allCorrect
	slot.EarnedScore = &earned
	return slot, results
}

// GradeExam grades all slots in paper order. questions maps top-level
// question id to the question with its children.
func GradeExam(ev *grading.Evaluator, exam models.Exam, slots []models.ExamAnswerSlot, questions map[string]models.Question, at time.Time, timeSpent int) Completion {
	c := Completion{
		ExamID:           exam.ID,
		CompletedAt:      at,
		TimeSpentSeconds: timeSpent,
	}
	for _, slot := range slots {
		q, ok := questions[slot.QuestionID]
		if !ok {
			// a question removed from the bank grades as unanswered
			wrong, zero := false, 0
			slot.IsCorrect = &wrong
			slot.EarnedScore = &zero
			c.Slots = append(c.Slots, slot)
			continue
		}
		graded, leaves := GradeSlot(ev, exam.ShuffleSeed, q, slot)
		for _, l := range leaves {
			c.EarnedScore += l.EarnedScore
			if l.IsCorrect {
				c.CorrectCount++
			}
			c.Attempts = append(c.Attempts, Attempt{QuestionID: l.QuestionID, Correct: l.IsCorrect})
		}
		c.Slots = append(c.Slots, graded)
	}
	return c
}
