package questions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studytrack/backend/internal/mastery"
	"github.com/studytrack/backend/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrQuestionInUse = errors.New("question is referenced by an exam")
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Curriculum ──────────────────────────────────────────

func (s *Store) CreateSubject(ctx context.Context, userID, name string) (*models.Subject, error) {
	subj := models.Subject{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subjects (id, user_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		subj.ID, subj.UserID, subj.Name, subj.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create subject: %w", err)
	}
	return &subj, nil
}

func (s *Store) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	var subj models.Subject
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM subjects WHERE id = $1`, id,
	).Scan(&subj.ID, &subj.UserID, &subj.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	subj.CreatedAt = time.Unix(created, 0).UTC()
	return &subj, nil
}

// ListSubjects returns the user's subjects with their topics and units.
func (s *Store) ListSubjects(ctx context.Context, userID string) ([]models.Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM subjects WHERE user_id = $1 ORDER BY created_at, name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var subj models.Subject
		var created int64
		if err := rows.Scan(&subj.ID, &subj.UserID, &subj.Name, &created); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subj.CreatedAt = time.Unix(created, 0).UTC()
		subjects = append(subjects, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	rows.Close()

	for i := range subjects {
		topics, err := s.ListTopics(ctx, subjects[i].ID)
		if err != nil {
			return nil, err
		}
		subjects[i].Topics = topics
	}
	return subjects, nil
}

func (s *Store) CreateTopic(ctx context.Context, subjectID string, req models.CreateTopicRequest) (*models.Topic, error) {
	t := models.Topic{ID: uuid.NewString(), SubjectID: subjectID, Name: req.Name, Order: req.Order}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, subject_id, name, sort_order) VALUES ($1, $2, $3, $4)`,
		t.ID, t.SubjectID, t.Name, t.Order,
	)
	if err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, name, sort_order FROM topics WHERE id = $1`, id,
	).Scan(&t.ID, &t.SubjectID, &t.Name, &t.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get topic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return &t, nil
}

// ListTopics returns a subject's topics, each with its units, in order.
func (s *Store) ListTopics(ctx context.Context, subjectID string) ([]models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, name, sort_order FROM topics WHERE subject_id = $1 ORDER BY sort_order, name`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic
	index := map[string]int{}
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.Name, &t.Order); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		index[t.ID] = len(topics)
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	rows.Close()

	units, err := s.ListUnits(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if i, ok := index[u.TopicID]; ok {
			topics[i].Units = append(topics[i].Units, u)
		}
	}
	return topics, nil
}

func (s *Store) CreateUnit(ctx context.Context, topic models.Topic, req models.CreateUnitRequest) (*models.Unit, error) {
	u := models.Unit{ID: uuid.NewString(), TopicID: topic.ID, SubjectID: topic.SubjectID, Name: req.Name, Order: req.Order}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO units (id, topic_id, subject_id, name, sort_order) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.TopicID, u.SubjectID, u.Name, u.Order,
	)
	if err != nil {
		return nil, fmt.Errorf("create unit: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	var u models.Unit
	err := s.db.QueryRowContext(ctx,
		`SELECT id, topic_id, subject_id, name, sort_order FROM units WHERE id = $1`, id,
	).Scan(&u.ID, &u.TopicID, &u.SubjectID, &u.Name, &u.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get unit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUnits(ctx context.Context, subjectID string) ([]models.Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic_id, subject_id, name, sort_order FROM units WHERE subject_id = $1 ORDER BY sort_order, name`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []models.Unit
	for rows.Next() {
		var u models.Unit
		if err := rows.Scan(&u.ID, &u.TopicID, &u.SubjectID, &u.Name, &u.Order); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// ── Question Storage ────────────────────────────────────

// CreateQuestion inserts q and, for a group, all of its children in one
// transaction. IDs and timestamps are assigned here.
func (s *Store) CreateQuestion(ctx context.Context, q *models.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Truncate(time.Second)
	q.ID = uuid.NewString()
	q.CreatedAt = now
	if err := insertQuestion(ctx, tx, q); err != nil {
		return err
	}
	for i := range q.Children {
		c := &q.Children[i]
		c.ID = uuid.NewString()
		c.CreatedAt = now
		c.ParentID = &q.ID
		c.SubjectID = q.SubjectID
		c.TopicID = q.TopicID
		c.UnitID = q.UnitID
		if c.Order == 0 {
			c.Order = i + 1
		}
		if err := insertQuestion(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit question: %w", err)
	}
	return nil
}

func insertQuestion(ctx context.Context, tx *sql.Tx, q *models.Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if q.Options == nil {
		options = []byte("[]")
	}
	answer, err := models.MarshalAnswer(q.Answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO questions
		 (id, subject_id, topic_id, unit_id, kind, content, options_json, answer_json,
		  explanation, difficulty, is_group, parent_id, sort_order, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		q.ID, q.SubjectID, q.TopicID, q.UnitID, string(q.Kind), q.Content, string(options), string(answer),
		q.Explanation, string(q.Difficulty), q.IsGroup, q.ParentID, q.Order, q.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

const questionCols = `id, subject_id, topic_id, unit_id, kind, content, options_json, answer_json,
	explanation, difficulty, is_group, parent_id, sort_order,
	attempt_count, consecutive_correct, wrong_count, last_attempted_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (models.Question, error) {
	var (
		q                         models.Question
		topicID, unitID, parentID sql.NullString
		options, answer           string
		lastAttempt               sql.NullInt64
		created                   int64
	)
	err := row.Scan(&q.ID, &q.SubjectID, &topicID, &unitID, &q.Kind, &q.Content, &options, &answer,
		&q.Explanation, &q.Difficulty, &q.IsGroup, &parentID, &q.Order,
		&q.AttemptCount, &q.ConsecutiveCorrect, &q.WrongCount, &lastAttempt, &created)
	if err != nil {
		return q, err
	}
	if topicID.Valid {
		q.TopicID = &topicID.String
	}
	if unitID.Valid {
		q.UnitID = &unitID.String
	}
	if parentID.Valid {
		q.ParentID = &parentID.String
	}
	if lastAttempt.Valid {
		t := time.Unix(lastAttempt.Int64, 0).UTC()
		q.LastAttemptedAt = &t
	}
	q.CreatedAt = time.Unix(created, 0).UTC()

	if options != "" && options != "[]" {
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return q, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
	}
	if !q.IsGroup && answer != "" && answer != "{}" {
		a, err := models.ParseAnswer(q.Kind, json.RawMessage(answer))
		if err != nil {
			return q, fmt.Errorf("decode answer of %s: %w", q.ID, err)
		}
		q.Answer = a
	}
	return q, nil
}

func scanQuestions(rows *sql.Rows) ([]models.Question, error) {
	defer rows.Close()
	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan questions: %w", err)
	}
	return out, nil
}

// placeholders returns "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// QueryQuestions returns top-level (non-child) questions matching f.
func (s *Store) QueryQuestions(ctx context.Context, f models.QuestionFilter) ([]models.Question, error) {
	where := []string{"subject_id = $1", "parent_id IS NULL"}
	args := []any{f.SubjectID}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.Difficulty != "" {
		args = append(args, string(f.Difficulty))
		where = append(where, fmt.Sprintf("difficulty = $%d", len(args)))
	}
	switch {
	case len(f.UnitIDs) > 0:
		where = append(where, fmt.Sprintf("unit_id IN (%s)", placeholders(len(args)+1, len(f.UnitIDs))))
		for _, id := range f.UnitIDs {
			args = append(args, id)
		}
	case len(f.TopicIDs) > 0:
		where = append(where, fmt.Sprintf("topic_id IN (%s)", placeholders(len(args)+1, len(f.TopicIDs))))
		for _, id := range f.TopicIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM questions WHERE %s ORDER BY created_at, id`, questionCols, strings.Join(where, " AND ")),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	return scanQuestions(rows)
}

// QueryChildren returns the children of the given groups ordered by parent
// and child order.
func (s *Store) QueryChildren(ctx context.Context, parentIDs []string) ([]models.Question, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM questions WHERE parent_id IN (%s) ORDER BY parent_id, sort_order, id`,
			questionCols, placeholders(1, len(args))),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	return scanQuestions(rows)
}

// GetQuestions returns the questions with the given ids, children attached
// to any groups. Missing ids are omitted.
func (s *Store) GetQuestions(ctx context.Context, ids []string) ([]models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM questions WHERE id IN (%s)`, questionCols, placeholders(1, len(args))),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	qs, err := scanQuestions(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachChildren(ctx, qs); err != nil {
		return nil, err
	}
	return qs, nil
}

func (s *Store) attachChildren(ctx context.Context, qs []models.Question) error {
	var groupIDs []string
	for _, q := range qs {
		if q.IsGroup {
			groupIDs = append(groupIDs, q.ID)
		}
	}
	children, err := s.QueryChildren(ctx, groupIDs)
	if err != nil {
		return err
	}
	byParent := map[string][]models.Question{}
	for _, c := range children {
		byParent[*c.ParentID] = append(byParent[*c.ParentID], c)
	}
	for i := range qs {
		if qs[i].IsGroup {
			qs[i].Children = byParent[qs[i].ID]
		}
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	qs, err := s.GetQuestions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("get question %s: %w", id, ErrNotFound)
	}
	return &qs[0], nil
}

// ListQuestions pages through a subject's top-level questions. status
// filters on the mastery label of leaves; groups match when any child does.
func (s *Store) ListQuestions(ctx context.Context, subjectID string, kind models.Kind, status models.MasteryStatus, limit, offset int) ([]models.Question, int, error) {
	qs, err := s.QueryQuestions(ctx, models.QuestionFilter{SubjectID: subjectID, Kind: kind})
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachChildren(ctx, qs); err != nil {
		return nil, 0, err
	}

	if status != "" {
		filtered := qs[:0]
		for _, q := range qs {
			for _, leaf := range q.Leaves() {
				if leaf.Status() == status {
					filtered = append(filtered, q)
					break
				}
			}
		}
		qs = filtered
	}

	total := len(qs)
	if offset >= total {
		return []models.Question{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return qs[offset:end], total, nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var inUse int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_answer_slots WHERE question_id = $1`, id,
	).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("check question usage: %w", err)
	}
	if inUse > 0 {
		return ErrQuestionInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE parent_id = $1`, id); err != nil {
		return fmt.Errorf("delete children: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete question %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// ── Mastery Statistics ──────────────────────────────────

func (s *Store) ReadQuestionStats(ctx context.Context, id string) (models.QuestionStats, error) {
	var (
		st          models.QuestionStats
		lastAttempt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT attempt_count, consecutive_correct, wrong_count, last_attempted_at FROM questions WHERE id = $1`, id,
	).Scan(&st.AttemptCount, &st.ConsecutiveCorrect, &st.WrongCount, &lastAttempt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("read stats %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return st, fmt.Errorf("read stats: %w", err)
	}
	if lastAttempt.Valid {
		t := time.Unix(lastAttempt.Int64, 0).UTC()
		st.LastAttemptedAt = &t
	}
	return st, nil
}

// RecordAttempt applies one graded attempt as a single atomic update.
func (s *Store) RecordAttempt(ctx context.Context, questionID string, correct bool, at time.Time) error {
	return mastery.RecordAttemptSQL(ctx, s.db, questionID, correct, at)
}
