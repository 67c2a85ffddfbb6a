// Package mastery applies graded answers to a question's historical
// statistics.
package mastery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
)

// ErrNotLeaf is returned when an attempt targets a group container or an
// unknown question.
var ErrNotLeaf = errors.New("question is not an answerable leaf")

// Apply returns stats after one graded attempt at time at.
func Apply(stats models.QuestionStats, correct bool, at time.Time) models.QuestionStats {
	stats.AttemptCount++
	if correct {
		stats.ConsecutiveCorrect++
	} else {
		stats.ConsecutiveCorrect = 0
		stats.WrongCount++
	}
	t := at
	stats.LastAttemptedAt = &t
	return stats
}

// MatchesMode reports whether a leaf with these stats belongs in a practice
// run of the given mode.
func MatchesMode(stats models.QuestionStats, mode models.PracticeMode) bool {
	switch mode {
	case models.PracticeNew:
		return stats.AttemptCount == 0
	case models.PracticeMistakes:
		return stats.AttemptCount > 0 && stats.ConsecutiveCorrect < models.MasteryThreshold
	case models.PracticeReview:
		return stats.Mastered()
	default:
		return true
	}
}

// Store persists one attempt atomically. Implementations must not perform a
// separate read and write.
type Store interface {
	RecordAttempt(ctx context.Context, questionID string, correct bool, at time.Time) error
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// recordAttemptQuery is the whole update rule as one statement, so two
// concurrent attempts on the same question serialise on the row.
const recordAttemptQuery = `
	UPDATE questions SET
		attempt_count = attempt_count + 1,
		consecutive_correct = CASE WHEN $2 THEN consecutive_correct + 1 ELSE 0 END,
		wrong_count = wrong_count + CASE WHEN $2 THEN 0 ELSE 1 END,
		last_attempted_at = $3
	WHERE id = $1 AND is_group = FALSE`

// RecordAttemptSQL applies one attempt through db, which may be a
// transaction.
func RecordAttemptSQL(ctx context.Context, db Execer, questionID string, correct bool, at time.Time) error {
	res, err := db.ExecContext(ctx, recordAttemptQuery, questionID, correct, at.Unix())
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record attempt %s: %w", questionID, ErrNotLeaf)
	}
	return nil
}

// Tracker records graded answers from practice sessions.
type Tracker struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func NewTracker(store Store, log *logger.Logger) *Tracker {
	return &Tracker{store: store, log: log.With("service", "MasteryTracker"), now: time.Now}
}

// Record writes one attempt and returns the time it was stamped with.
func (t *Tracker) Record(ctx context.Context, questionID string, correct bool) (time.Time, error) {
	at := t.now().UTC()
	if err := t.store.RecordAttempt(ctx, questionID, correct, at); err != nil {
		t.log.Warn("mastery update failed", "question_id", questionID, "error", err)
		return at, err
	}
	t.log.Debug("mastery updated", "question_id", questionID, "correct", correct)
	return at, nil
}
