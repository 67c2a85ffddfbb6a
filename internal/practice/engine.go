package practice

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/grading"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/mastery"
	"github.com/studytrack/backend/internal/models"
	"github.com/studytrack/backend/internal/shuffle"
)

// Pool is the read side of the question bank used for sampling.
type Pool interface {
	QueryQuestions(ctx context.Context, f models.QuestionFilter) ([]models.Question, error)
	QueryChildren(ctx context.Context, parentIDs []string) ([]models.Question, error)
}

type ScopeResolver interface {
	ResolveScope(ctx context.Context, userID, subjectID string, topicIDs, unitIDs []string) (models.Scope, error)
}

// Recorder applies one graded answer to a question's mastery statistics.
type Recorder interface {
	Record(ctx context.Context, questionID string, correct bool) (time.Time, error)
}

var _ Recorder = (*mastery.Tracker)(nil)

type Engine struct {
	pool      Pool
	scopes    ScopeResolver
	sessions  SessionStore
	recorder  Recorder
	evaluator *grading.Evaluator
	rng       shuffle.Entropy
	log       *logger.Logger
	now       func() time.Time
}

func NewEngine(pool Pool, scopes ScopeResolver, sessions SessionStore, recorder Recorder, rng shuffle.Entropy, log *logger.Logger) *Engine {
	return &Engine{
		pool:      pool,
		scopes:    scopes,
		sessions:  sessions,
		recorder:  recorder,
		evaluator: grading.NewEvaluator(),
		rng:       rng,
		log:       log.With("service", "PracticeEngine"),
		now:       time.Now,
	}
}

// ── Start ───────────────────────────────────────────────

func (e *Engine) Start(ctx context.Context, userID string, req models.StartPracticeRequest) (*models.PracticeView, error) {
	if req.Mode == "" {
		req.Mode = models.PracticeAll
	}
	if !models.ValidPracticeModes[req.Mode] {
		return nil, apierr.InvalidRequest("unknown practice mode %q", req.Mode)
	}
	if req.Difficulty != "" && !models.ValidDifficulties[req.Difficulty] {
		return nil, apierr.InvalidRequest("unknown difficulty %q", req.Difficulty)
	}
	if req.Kind != "" && !models.ValidKinds[req.Kind] {
		return nil, apierr.InvalidRequest("unknown question kind %q", req.Kind)
	}
	if req.SampleSize < 0 {
		return nil, apierr.InvalidRequest("sample_size must not be negative")
	}

	scope, err := e.scopes.ResolveScope(ctx, userID, req.SubjectID, req.TopicIDs, req.UnitIDs)
	if err != nil {
		return nil, err
	}

	candidates, err := e.candidates(ctx, scope, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apierr.ErrEmptySelection
	}

	size := req.SampleSize
	if size == 0 || size > len(candidates) {
		size = len(candidates)
	}
	picked := make([]models.Question, 0, size)
	for _, idx := range shuffle.Sample(len(candidates), size, e.rng) {
		picked = append(picked, candidates[idx])
	}

	now := e.now().UTC()
	s := &models.PracticeSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		Scope:      scope,
		Mode:       req.Mode,
		Difficulty: req.Difficulty,
		Kind:       req.Kind,
		Results:    []models.PracticeResult{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.deal(s, picked); err != nil {
		return nil, err
	}
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	e.log.Info("practice started", "session_id", s.ID, "user_id", userID, "mode", s.Mode, "items", len(s.Items))
	return View(s), nil
}

// candidates returns the drawable top-level questions in scope that match
// the mode. A group matches when any of its children does.
func (e *Engine) candidates(ctx context.Context, scope models.Scope, req models.StartPracticeRequest) ([]models.Question, error) {
	f := scope.Filter()
	f.Kind = req.Kind
	f.Difficulty = req.Difficulty

	qs, err := e.pool.QueryQuestions(ctx, f)
	if err != nil {
		return nil, apierr.Persistence(err)
	}

	var groupIDs []string
	for _, q := range qs {
		if q.IsGroup {
			groupIDs = append(groupIDs, q.ID)
		}
	}
	if len(groupIDs) > 0 {
		children, err := e.pool.QueryChildren(ctx, groupIDs)
		if err != nil {
			return nil, apierr.Persistence(err)
		}
		byParent := make(map[string][]models.Question, len(groupIDs))
		for _, c := range children {
			if c.ParentID != nil {
				byParent[*c.ParentID] = append(byParent[*c.ParentID], c)
			}
		}
		for i := range qs {
			if qs[i].IsGroup {
				qs[i].Children = byParent[qs[i].ID]
			}
		}
	}

	out := qs[:0]
	for _, q := range qs {
		if matchesMode(q, req.Mode) {
			out = append(out, q)
		}
	}
	return out, nil
}

func matchesMode(q models.Question, mode models.PracticeMode) bool {
	if !q.IsGroup {
		return mastery.MatchesMode(q.QuestionStats, mode)
	}
	for _, c := range q.Children {
		if mastery.MatchesMode(c.QuestionStats, mode) {
			return true
		}
	}
	return false
}

// deal shuffles the draw order, gives every choice leaf a fresh option
// order and resets traversal.
func (e *Engine) deal(s *models.PracticeSession, qs []models.Question) error {
	shuffle.Permute(len(qs), e.rng, func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })

	items := make([]models.PracticeItem, len(qs))
	for i, q := range qs {
		mappings, err := shuffle.Mappings(q, e.rng)
		if err != nil {
			return apierr.InvalidRequest("question %s: %v", q.ID, err)
		}
		items[i] = models.PracticeItem{Question: q, Shuffles: mappings}
	}
	s.Items = items
	s.ItemIndex = 0
	s.ChildIndex = 0
	s.Results = []models.PracticeResult{}
	s.Completed = false
	return nil
}

// ── Traversal ───────────────────────────────────────────

func (e *Engine) load(ctx context.Context, userID, id string) (*models.PracticeSession, error) {
	s, err := e.sessions.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, apierr.NotFound("practice session %s not found", id)
	}
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	if s.UserID != userID {
		return nil, apierr.NotFound("practice session %s not found", id)
	}
	return s, nil
}

func (e *Engine) save(ctx context.Context, s *models.PracticeSession) error {
	s.UpdatedAt = e.now().UTC()
	err := e.sessions.Save(ctx, s)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionConflict):
		return apierr.Conflict("practice session %s changed, reload and retry", s.ID)
	case errors.Is(err, ErrSessionNotFound):
		return apierr.NotFound("practice session %s not found", s.ID)
	default:
		return apierr.Persistence(err)
	}
}

// commit saves an answered session and only then records the attempt, so
// concurrent submits for one question record it once. When the mastery
// write fails the session is put back to prev and the error is returned,
// leaving the question open for a retry.
func (e *Engine) commit(ctx context.Context, s *models.PracticeSession, prev models.PracticeSession, questionID string, correct bool) error {
	if err := e.save(ctx, s); err != nil {
		return err
	}
	if _, err := e.recorder.Record(ctx, questionID, correct); err != nil {
		prev.Version = s.Version
		if rerr := e.save(ctx, &prev); rerr != nil {
			e.log.Error("practice answer rollback failed", "session_id", s.ID, "question_id", questionID, "error", rerr)
		}
		return apierr.Persistence(err)
	}
	return nil
}

func (e *Engine) Current(ctx context.Context, userID, id string) (*models.PracticeView, error) {
	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return View(s), nil
}

// Answer grades the current question immediately and records the attempt.
// The pointer stays put until Next.
func (e *Engine) Answer(ctx context.Context, userID, id string, raw any) (*models.PracticeFeedback, error) {
	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s.Completed {
		return nil, apierr.ErrAlreadyCompleted
	}
	item, leaf := currentLeaf(s)
	if resultFor(s, leaf.ID) != nil {
		return nil, apierr.InvalidRequest("question %s is already answered", leaf.ID)
	}

	mapping := mappingFor(item, leaf.ID)
	v := e.evaluator.Evaluate(leaf, mapping, raw)
	prev := *s
	s.Results = append(s.Results, models.PracticeResult{
		QuestionID: leaf.ID,
		ParentID:   leaf.ParentID,
		UserAnswer: v.Normalized,
		IsCorrect:  v.IsCorrect,
		AnsweredAt: e.now().UTC(),
	})
	if err := e.commit(ctx, s, prev, leaf.ID, v.IsCorrect); err != nil {
		return nil, err
	}

	return &models.PracticeFeedback{
		QuestionID:    leaf.ID,
		IsCorrect:     v.IsCorrect,
		CorrectAnswer: grading.CorrectDisplay(leaf, mapping),
		Explanation:   leaf.Explanation,
		Last:          isLast(s),
	}, nil
}

// Skip records the current question as a wrong attempt and advances.
func (e *Engine) Skip(ctx context.Context, userID, id string) (*models.PracticeView, error) {
	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s.Completed {
		return nil, apierr.ErrAlreadyCompleted
	}
	_, leaf := currentLeaf(s)
	if resultFor(s, leaf.ID) != nil {
		return nil, apierr.InvalidRequest("question %s is already answered", leaf.ID)
	}

	prev := *s
	s.Results = append(s.Results, models.PracticeResult{
		QuestionID: leaf.ID,
		ParentID:   leaf.ParentID,
		UserAnswer: models.SkippedAnswer,
		Skipped:    true,
		AnsweredAt: e.now().UTC(),
	})
	advance(s)
	if err := e.commit(ctx, s, prev, leaf.ID, false); err != nil {
		return nil, err
	}
	return View(s), nil
}

// Next moves past an answered question.
func (e *Engine) Next(ctx context.Context, userID, id string) (*models.PracticeView, error) {
	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s.Completed {
		return nil, apierr.ErrAlreadyCompleted
	}
	if _, leaf := currentLeaf(s); resultFor(s, leaf.ID) == nil {
		return nil, apierr.InvalidRequest("answer or skip question %s first", leaf.ID)
	}
	advance(s)
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	if s.Completed {
		e.log.Info("practice completed", "session_id", s.ID, "answered", len(s.Results))
	}
	return View(s), nil
}

// Restart reshuffles the sampled questions without drawing new ones.
func (e *Engine) Restart(ctx context.Context, userID, id string) (*models.PracticeView, error) {
	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	qs := make([]models.Question, len(s.Items))
	for i, item := range s.Items {
		qs[i] = item.Question
	}
	if err := e.deal(s, qs); err != nil {
		return nil, err
	}
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	e.log.Info("practice restarted", "session_id", s.ID)
	return View(s), nil
}

func (e *Engine) Summary(ctx context.Context, userID, id string) (*models.PracticeSummary, error) {
	s, err := e.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return Summarize(s), nil
}

func (e *Engine) Discard(ctx context.Context, userID, id string) error {
	if _, err := e.load(ctx, userID, id); err != nil {
		return err
	}
	if err := e.sessions.Delete(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return apierr.Persistence(err)
	}
	return nil
}

// ── State Helpers ───────────────────────────────────────

func currentLeaf(s *models.PracticeSession) (models.PracticeItem, models.Question) {
	item := s.Items[s.ItemIndex]
	if item.Question.IsGroup {
		return item, item.Question.Children[s.ChildIndex]
	}
	return item, item.Question
}

func mappingFor(item models.PracticeItem, leafID string) *models.ShuffleMapping {
	m, ok := item.Shuffles[leafID]
	if !ok {
		return nil
	}
	return &m
}

func resultFor(s *models.PracticeSession, leafID string) *models.PracticeResult {
	for i := range s.Results {
		if s.Results[i].QuestionID == leafID {
			return &s.Results[i]
		}
	}
	return nil
}

// advance steps to the next child, or to the next top-level item once the
// current group is exhausted.
func advance(s *models.PracticeSession) {
	item := s.Items[s.ItemIndex].Question
	if item.IsGroup && s.ChildIndex+1 < len(item.Children) {
		s.ChildIndex++
		return
	}
	s.ChildIndex = 0
	if s.ItemIndex+1 < len(s.Items) {
		s.ItemIndex++
		return
	}
	s.Completed = true
}

func isLast(s *models.PracticeSession) bool {
	if s.ItemIndex+1 < len(s.Items) {
		return false
	}
	item := s.Items[s.ItemIndex].Question
	return !item.IsGroup || s.ChildIndex+1 >= len(item.Children)
}

// ── Views ───────────────────────────────────────────────

// View renders the current position with options in display order.
func View(s *models.PracticeSession) *models.PracticeView {
	v := &models.PracticeView{
		SessionID: s.ID,
		Completed: s.Completed,
		Position:  s.ItemIndex + 1,
		Total:     len(s.Items),
	}
	if s.Completed {
		v.Position = len(s.Items)
		return v
	}

	item, leaf := currentLeaf(s)
	if item.Question.IsGroup {
		v.Group = prompt(item.Question, nil)
		v.ChildIndex = s.ChildIndex
		v.ChildCount = len(item.Question.Children)
	}
	v.Question = prompt(leaf, mappingFor(item, leaf.ID))
	v.Answered = resultFor(s, leaf.ID)
	return v
}

func prompt(q models.Question, mapping *models.ShuffleMapping) *models.PracticePrompt {
	p := &models.PracticePrompt{
		QuestionID: q.ID,
		Kind:       q.Kind,
		Content:    q.Content,
		Difficulty: q.Difficulty,
		Status:     q.QuestionStats.Status(),
	}
	if mapping != nil {
		p.Options = mapping.DisplayOptions()
	}
	return p
}

// Summarize reports accuracy as a percentage rounded to one decimal.
func Summarize(s *models.PracticeSession) *models.PracticeSummary {
	sum := &models.PracticeSummary{
		SessionID: s.ID,
		Count:     len(s.Results),
		Completed: s.Completed,
		Results:   s.Results,
	}
	for _, r := range s.Results {
		if r.IsCorrect {
			sum.CorrectCount++
		}
	}
	if sum.Count > 0 {
		sum.Accuracy = math.Round(float64(sum.CorrectCount)*1000/float64(sum.Count)) / 10
	}
	return sum
}
