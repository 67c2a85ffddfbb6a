package exams

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/studytrack/backend/internal/mastery"
	"github.com/studytrack/backend/internal/models"
)

var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotOpen      = errors.New("exam is not in progress")
	ErrExamAlreadyFinal = errors.New("exam already completed")
)

// Store persists exams and their answer slots.
type Store interface {
	CreateExam(ctx context.Context, exam *models.Exam, slots []models.ExamAnswerSlot) error
	GetExam(ctx context.Context, id string) (*models.Exam, error)
	ListExams(ctx context.Context, userID string) ([]models.Exam, error)
	GetSlots(ctx context.Context, examID string) ([]models.ExamAnswerSlot, error)
	StartExam(ctx context.Context, id string, at time.Time) error
	SaveAnswers(ctx context.Context, examID string, answers map[string]json.RawMessage, timeSpent int) error
	CompleteExam(ctx context.Context, c Completion) error
	DeleteExam(ctx context.Context, id string) error
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// ── Exams ───────────────────────────────────────────────

// CreateExam inserts the exam and all of its slots in one transaction.
func (s *SQLStore) CreateExam(ctx context.Context, exam *models.Exam, slots []models.ExamAnswerSlot) error {
	topicIDs, _ := json.Marshal(nonNil(exam.TopicIDs))
	unitIDs, _ := json.Marshal(nonNil(exam.UnitIDs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams
		 (id, user_id, subject_id, title, topic_ids_json, unit_ids_json, score_mode, total_score,
		  question_count, status, shuffle_seed, time_spent_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12)`,
		exam.ID, exam.UserID, exam.SubjectID, exam.Title, string(topicIDs), string(unitIDs),
		string(exam.ScoreMode), exam.TotalScore, exam.QuestionCount, string(exam.Status),
		exam.ShuffleSeed, exam.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}

	for _, slot := range slots {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO exam_answer_slots (id, exam_id, question_id, position, score)
			 VALUES ($1, $2, $3, $4, $5)`,
			slot.ID, exam.ID, slot.QuestionID, slot.Order, slot.Score,
		)
		if err != nil {
			return fmt.Errorf("insert answer slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exam: %w", err)
	}
	return nil
}

const examCols = `id, user_id, subject_id, title, topic_ids_json, unit_ids_json, score_mode, total_score,
	question_count, status, shuffle_seed, started_at, completed_at, time_spent_seconds,
	earned_score, correct_count, created_at`

func scanExam(row interface{ Scan(...any) error }) (*models.Exam, error) {
	var (
		e                     models.Exam
		topicIDs, unitIDs     string
		started, completed    sql.NullInt64
		earned, correct       sql.NullInt64
		created               int64
		scoreMode, examStatus string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.SubjectID, &e.Title, &topicIDs, &unitIDs, &scoreMode, &e.TotalScore,
		&e.QuestionCount, &examStatus, &e.ShuffleSeed, &started, &completed, &e.TimeSpentSeconds,
		&earned, &correct, &created)
	if err != nil {
		return nil, err
	}
	e.ScoreMode = models.ScoreMode(scoreMode)
	e.Status = models.ExamStatus(examStatus)
	if err := json.Unmarshal([]byte(topicIDs), &e.TopicIDs); err != nil {
		return nil, fmt.Errorf("decode exam scope: %w", err)
	}
	if err := json.Unmarshal([]byte(unitIDs), &e.UnitIDs); err != nil {
		return nil, fmt.Errorf("decode exam scope: %w", err)
	}
	e.StartedAt = unixPtr(started)
	e.CompletedAt = unixPtr(completed)
	if earned.Valid {
		v := int(earned.Int64)
		e.EarnedScore = &v
	}
	if correct.Valid {
		v := int(correct.Int64)
		e.CorrectCount = &v
	}
	e.CreatedAt = time.Unix(created, 0).UTC()
	return &e, nil
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (*models.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM exams WHERE id = $1`, examCols), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get exam %s: %w", id, ErrExamNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return e, nil
}

func (s *SQLStore) ListExams(ctx context.Context, userID string) ([]models.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM exams WHERE user_id = $1 ORDER BY created_at DESC, id`, examCols), userID)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	defer rows.Close()

	var exams []models.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// StartExam moves a draft to in_progress. It is a no-op for exams that are
// already started, so started_at is only ever set once.
func (s *SQLStore) StartExam(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE exams SET status = $2, started_at = COALESCE(started_at, $3)
		 WHERE id = $1 AND status = $4`,
		id, string(models.ExamInProgress), at.Unix(), string(models.ExamDraft),
	)
	if err != nil {
		return fmt.Errorf("start exam: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExam(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_answer_slots WHERE exam_id = $1`, id); err != nil {
		return fmt.Errorf("delete answer slots: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete exam %s: %w", id, ErrExamNotFound)
	}
	return tx.Commit()
}

// ── Answer Slots ────────────────────────────────────────

func (s *SQLStore) GetSlots(ctx context.Context, examID string) ([]models.ExamAnswerSlot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, question_id, position, score, user_answer_json, normalized_answer_json,
		        is_correct, earned_score
		 FROM exam_answer_slots WHERE exam_id = $1 ORDER BY position`, examID)
	if err != nil {
		return nil, fmt.Errorf("get answer slots: %w", err)
	}
	defer rows.Close()

	var slots []models.ExamAnswerSlot
	for rows.Next() {
		var (
			slot               models.ExamAnswerSlot
			answer, normalized sql.NullString
			correct            sql.NullBool
			earned             sql.NullInt64
		)
		if err := rows.Scan(&slot.ID, &slot.ExamID, &slot.QuestionID, &slot.Order, &slot.Score,
			&answer, &normalized, &correct, &earned); err != nil {
			return nil, fmt.Errorf("scan answer slot: %w", err)
		}
		if answer.Valid {
			slot.UserAnswer = json.RawMessage(answer.String)
		}
		if normalized.Valid {
			slot.NormalizedAnswer = json.RawMessage(normalized.String)
		}
		if correct.Valid {
			v := correct.Bool
			slot.IsCorrect = &v
		}
		if earned.Valid {
			v := int(earned.Int64)
			slot.EarnedScore = &v
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// SaveAnswers stores raw answers keyed by top-level question id and raises
// the elapsed-time counter, only while the exam is in progress.
func (s *SQLStore) SaveAnswers(ctx context.Context, examID string, answers map[string]json.RawMessage, timeSpent int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE exams SET time_spent_seconds = CASE WHEN $2 > time_spent_seconds THEN $2 ELSE time_spent_seconds END
		 WHERE id = $1 AND status = $3`,
		examID, timeSpent, string(models.ExamInProgress),
	)
	if err != nil {
		return fmt.Errorf("save time spent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExamNotOpen
	}

	for questionID, raw := range answers {
		_, err := tx.ExecContext(ctx,
			`UPDATE exam_answer_slots SET user_answer_json = $3 WHERE exam_id = $1 AND question_id = $2`,
			examID, questionID, nullJSON(raw),
		)
		if err != nil {
			return fmt.Errorf("save answer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit answers: %w", err)
	}
	return nil
}

// CompleteExam writes slot verdicts, the exam totals and every mastery
// update in one transaction. A concurrent completion loses with
// ErrExamAlreadyFinal and writes nothing.
func (s *SQLStore) CompleteExam(ctx context.Context, c Completion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE exams SET status = $2, earned_score = $3, correct_count = $4,
		        time_spent_seconds = $5, completed_at = $6
		 WHERE id = $1 AND status = $7`,
		c.ExamID, string(models.ExamCompleted), c.EarnedScore, c.CorrectCount,
		c.TimeSpentSeconds, c.CompletedAt.Unix(), string(models.ExamInProgress),
	)
	if err != nil {
		return fmt.Errorf("complete exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExamAlreadyFinal
	}

	for _, slot := range c.Slots {
		_, err := tx.ExecContext(ctx,
			`UPDATE exam_answer_slots
			 SET user_answer_json = $2, normalized_answer_json = $3, is_correct = $4, earned_score = $5
			 WHERE id = $1`,
			slot.ID, nullJSON(slot.UserAnswer), nullJSON(slot.NormalizedAnswer), slot.IsCorrect, slot.EarnedScore,
		)
		if err != nil {
			return fmt.Errorf("grade answer slot: %w", err)
		}
	}

	for _, a := range c.Attempts {
		if err := mastery.RecordAttemptSQL(ctx, tx, a.QuestionID, a.Correct, c.CompletedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit completion: %w", err)
	}
	return nil
}

// ── Helpers ─────────────────────────────────────────────

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullJSON(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := string(raw)
	return &s
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
