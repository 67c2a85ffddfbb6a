package exams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/grading"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
	"github.com/studytrack/backend/internal/shuffle"
)

// ScopeResolver validates a subject/topic/unit selection for a user.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, userID, subjectID string, topicIDs, unitIDs []string) (models.Scope, error)
}

// SeedSource supplies per-exam shuffle seeds.
type SeedSource interface {
	Int63() int64
}

type Service struct {
	store     Store
	pool      Pool
	scopes    ScopeResolver
	composer  *Composer
	evaluator *grading.Evaluator
	seeds     SeedSource
	log       *logger.Logger
	now       func() time.Time
}

// NewService wires the exam engine. rng drives sampling, paper order and
// per-exam shuffle seeds.
func NewService(store Store, pool Pool, scopes ScopeResolver, rng *shuffle.Locked, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		pool:      pool,
		scopes:    scopes,
		composer:  NewComposer(pool, rng),
		evaluator: grading.NewEvaluator(),
		seeds:     rng,
		log:       log.With("service", "ExamService"),
		now:       time.Now,
	}
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, ErrExamNotFound):
		return apierr.NotFound("%v", err)
	case errors.Is(err, ErrExamAlreadyFinal):
		return apierr.ErrAlreadyCompleted
	}
	return apierr.Persistence(err)
}

// ── Composition ─────────────────────────────────────────

// Create composes a paper and persists it with its slots in draft status.
func (s *Service) Create(ctx context.Context, userID string, req models.ComposeExamRequest) (*models.Exam, error) {
	scope, err := s.scopes.ResolveScope(ctx, userID, req.SubjectID, req.TopicIDs, req.UnitIDs)
	if err != nil {
		return nil, err
	}

	comp, err := s.composer.Compose(ctx, scope, req.Requests, req.ScoreMode, req.TotalScore)
	if err != nil {
		var poolErr *apierr.InsufficientPoolError
		if errors.As(err, &poolErr) {
			s.log.Info("exam composition rejected", "user_id", userID, "kind", poolErr.Kind,
				"requested", poolErr.Requested, "available", poolErr.Available)
		}
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	exam := &models.Exam{
		ID:            uuid.NewString(),
		UserID:        userID,
		SubjectID:     scope.SubjectID,
		Title:         req.Title,
		TopicIDs:      scope.TopicIDs,
		UnitIDs:       scope.UnitIDs,
		ScoreMode:     req.ScoreMode,
		TotalScore:    comp.TotalScore,
		QuestionCount: comp.QuestionCount,
		Status:        models.ExamDraft,
		ShuffleSeed:   s.seeds.Int63(),
		CreatedAt:     now,
	}
	if exam.Title == "" {
		exam.Title = "Exam " + now.Format("2006-01-02 15:04")
	}

	slots := make([]models.ExamAnswerSlot, len(comp.Selections))
	for i, sel := range comp.Selections {
		slots[i] = models.ExamAnswerSlot{
			ID:         uuid.NewString(),
			ExamID:     exam.ID,
			QuestionID: sel.Question.ID,
			Order:      i + 1,
			Score:      sel.Score(),
		}
	}

	if err := s.store.CreateExam(ctx, exam, slots); err != nil {
		return nil, apierr.Persistence(err)
	}
	s.log.Info("exam created", "exam_id", exam.ID, "user_id", userID,
		"questions", exam.QuestionCount, "total_score", exam.TotalScore, "mode", exam.ScoreMode)
	return exam, nil
}

// ── Lifecycle ───────────────────────────────────────────

func (s *Service) ownedExam(ctx context.Context, userID, examID string) (*models.Exam, error) {
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, storeErr(err)
	}
	if exam.UserID != userID {
		return nil, apierr.NotFound("exam %s not found", examID)
	}
	return exam, nil
}

// open moves a draft exam to in_progress. Re-opening keeps started_at and
// the saved elapsed time.
func (s *Service) open(ctx context.Context, exam *models.Exam) error {
	if exam.Status != models.ExamDraft {
		return nil
	}
	at := s.now().UTC().Truncate(time.Second)
	if err := s.store.StartExam(ctx, exam.ID, at); err != nil {
		return apierr.Persistence(err)
	}
	fresh, err := s.store.GetExam(ctx, exam.ID)
	if err != nil {
		return storeErr(err)
	}
	*exam = *fresh
	s.log.Info("exam started", "exam_id", exam.ID)
	return nil
}

// Paper opens the exam and returns it in paper order. Answers, verdicts and
// explanations are only included once the exam is completed.
func (s *Service) Paper(ctx context.Context, userID, examID string) (*models.ExamPaper, error) {
	var (
		exam  *models.Exam
		slots []models.ExamAnswerSlot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exam, err = s.ownedExam(gctx, userID, examID)
		return err
	})
	g.Go(func() error {
		var err error
		slots, err = s.store.GetSlots(gctx, examID)
		if err != nil {
			return apierr.Persistence(err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.open(ctx, exam); err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, slots)
	if err != nil {
		return nil, err
	}
	return BuildPaper(*exam, slots, questions), nil
}

func (s *Service) loadQuestions(ctx context.Context, slots []models.ExamAnswerSlot) (map[string]models.Question, error) {
	ids := make([]string, len(slots))
	for i, slot := range slots {
		ids[i] = slot.QuestionID
	}
	qs, err := s.pool.GetQuestions(ctx, ids)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	byID := make(map[string]models.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	return byID, nil
}

// SaveProgress stores answers and the elapsed-time counter of an open exam.
func (s *Service) SaveProgress(ctx context.Context, userID, examID string, req models.ExamAnswersRequest) error {
	exam, err := s.ownedExam(ctx, userID, examID)
	if err != nil {
		return err
	}
	if exam.Status == models.ExamCompleted {
		return apierr.ErrAlreadyCompleted
	}
	if err := s.open(ctx, exam); err != nil {
		return err
	}
	if err := s.checkAnswerKeys(ctx, examID, req.Answers); err != nil {
		return err
	}

	timeSpent := exam.TimeSpentSeconds
	if req.TimeSpentSeconds != nil && *req.TimeSpentSeconds > timeSpent {
		timeSpent = *req.TimeSpentSeconds
	}
	if err := s.store.SaveAnswers(ctx, examID, req.Answers, timeSpent); err != nil {
		if errors.Is(err, ErrExamNotOpen) {
			return apierr.ErrAlreadyCompleted
		}
		return apierr.Persistence(err)
	}
	return nil
}

func (s *Service) checkAnswerKeys(ctx context.Context, examID string, answers map[string]json.RawMessage) error {
	if len(answers) == 0 {
		return nil
	}
	slots, err := s.store.GetSlots(ctx, examID)
	if err != nil {
		return apierr.Persistence(err)
	}
	onPaper := make(map[string]bool, len(slots))
	for _, slot := range slots {
		onPaper[slot.QuestionID] = true
	}
	for id := range answers {
		if !onPaper[id] {
			return apierr.InvalidRequest("question %s is not on this exam", id)
		}
	}
	return nil
}

// Submit grades every leaf, records mastery and completes the exam in one
// unit. Unanswered items count as incorrect. A draft exam is started first.
func (s *Service) Submit(ctx context.Context, userID, examID string, req models.ExamAnswersRequest) (*models.ExamPaper, error) {
	exam, err := s.ownedExam(ctx, userID, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamCompleted {
		return nil, apierr.ErrAlreadyCompleted
	}
	if err := s.open(ctx, exam); err != nil {
		return nil, err
	}
	if err := s.checkAnswerKeys(ctx, examID, req.Answers); err != nil {
		return nil, err
	}

	slots, err := s.store.GetSlots(ctx, examID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	for i := range slots {
		if raw, ok := req.Answers[slots[i].QuestionID]; ok {
			slots[i].UserAnswer = raw
		}
	}
	questions, err := s.loadQuestions(ctx, slots)
	if err != nil {
		return nil, err
	}

	timeSpent := exam.TimeSpentSeconds
	if req.TimeSpentSeconds != nil && *req.TimeSpentSeconds > timeSpent {
		timeSpent = *req.TimeSpentSeconds
	}
	completion := GradeExam(s.evaluator, *exam, slots, questions, s.now().UTC().Truncate(time.Second), timeSpent)

	if err := s.store.CompleteExam(ctx, completion); err != nil {
		if errors.Is(err, ErrExamAlreadyFinal) {
			return nil, apierr.ErrAlreadyCompleted
		}
		s.log.Error("exam completion failed", "exam_id", examID, "error", err)
		return nil, apierr.Persistence(fmt.Errorf("complete exam %s: %w", examID, err))
	}

	s.log.Info("exam completed", "exam_id", examID, "earned", completion.EarnedScore,
		"total", exam.TotalScore, "correct", completion.CorrectCount, "questions", exam.QuestionCount)

	done, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, storeErr(err)
	}
	return BuildPaper(*done, completion.Slots, questions), nil
}

// ── Queries ─────────────────────────────────────────────

func (s *Service) List(ctx context.Context, userID string) (*models.ExamListResponse, error) {
	exams, err := s.store.ListExams(ctx, userID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	if exams == nil {
		exams = []models.Exam{}
	}
	return &models.ExamListResponse{Exams: exams, Total: len(exams)}, nil
}

func (s *Service) Get(ctx context.Context, userID, examID string) (*models.Exam, error) {
	return s.ownedExam(ctx, userID, examID)
}

// Delete removes a draft or completed exam. Exams in progress must be
// submitted first.
func (s *Service) Delete(ctx context.Context, userID, examID string) error {
	exam, err := s.ownedExam(ctx, userID, examID)
	if err != nil {
		return err
	}
	if exam.Status == models.ExamInProgress {
		return apierr.InvalidRequest("exam %s is in progress", examID)
	}
	if err := s.store.DeleteExam(ctx, examID); err != nil {
		return storeErr(err)
	}
	s.log.Info("exam deleted", "exam_id", examID)
	return nil
}

// ── Paper View ──────────────────────────────────────────

// BuildPaper renders slots in paper order. Choice options appear in the
// exam's display order.
func BuildPaper(exam models.Exam, slots []models.ExamAnswerSlot, questions map[string]models.Question) *models.ExamPaper {
	reveal := exam.Status == models.ExamCompleted
	paper := &models.ExamPaper{Exam: exam, Questions: make([]models.PaperQuestion, 0, len(slots))}

	for _, slot := range slots {
		q, ok := questions[slot.QuestionID]
		if !ok {
			continue
		}
		pq := paperQuestion(exam.ShuffleSeed, q, slot.Score, reveal)
		pq.Order = slot.Order
		pq.UserAnswer = slot.UserAnswer
		if reveal {
			pq.IsCorrect = slot.IsCorrect
			pq.EarnedScore = slot.EarnedScore
		}

		if q.IsGroup {
			childAnswers := map[string]json.RawMessage{}
			_ = json.Unmarshal(slot.UserAnswer, &childAnswers)
			childResults := map[string]LeafResult{}
			if reveal {
				_ = json.Unmarshal(slot.NormalizedAnswer, &childResults)
			}
			scores := Allocate(slot.Score, len(q.Children))
			for i, child := range q.Children {
				cq := paperQuestion(exam.ShuffleSeed, child, scores[i], reveal)
				cq.UserAnswer = childAnswers[child.ID]
				if r, ok := childResults[child.ID]; ok {
					correct, earned := r.IsCorrect, r.EarnedScore
					cq.IsCorrect = &correct
					cq.EarnedScore = &earned
				}
				pq.Children = append(pq.Children, cq)
			}
		}
		paper.Questions = append(paper.Questions, pq)
	}
	return paper
}

func paperQuestion(seed int64, q models.Question, score int, reveal bool) models.PaperQuestion {
	pq := models.PaperQuestion{
		QuestionID: q.ID,
		Kind:       q.Kind,
		Content:    q.Content,
		Difficulty: q.Difficulty,
		IsGroup:    q.IsGroup,
		Order:      q.Order,
		Options:    q.Options,
		Score:      score,
	}
	mapping := MappingFor(seed, q)
	if mapping != nil {
		pq.Options = mapping.DisplayOptions()
	}
	if reveal && !q.IsGroup {
		pq.CorrectAnswer = grading.CorrectDisplay(q, mapping)
		pq.Explanation = q.Explanation
	}
	return pq
}
