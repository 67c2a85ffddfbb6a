package questions

import (
	"context"
	"errors"
	"strings"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
)

type Service struct {
	store *Store
	log   *logger.Logger
}

func NewService(store *Store, log *logger.Logger) *Service {
	return &Service{store: store, log: log.With("service", "QuestionService")}
}

// storeErr promotes store failures to API errors.
func storeErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return apierr.NotFound("%v", err)
	}
	if errors.Is(err, ErrQuestionInUse) {
		return apierr.InvalidRequest("%v", err)
	}
	return apierr.Persistence(err)
}

// ── Curriculum ──────────────────────────────────────────

func (s *Service) CreateSubject(ctx context.Context, userID string, req models.CreateSubjectRequest) (*models.Subject, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apierr.InvalidRequest("name is required")
	}
	subj, err := s.store.CreateSubject(ctx, userID, name)
	if err != nil {
		return nil, storeErr(err)
	}
	s.log.Info("subject created", "subject_id", subj.ID, "user_id", userID)
	return subj, nil
}

func (s *Service) ListSubjects(ctx context.Context, userID string) ([]models.Subject, error) {
	subjects, err := s.store.ListSubjects(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if subjects == nil {
		subjects = []models.Subject{}
	}
	return subjects, nil
}

// ownedSubject loads a subject, reporting subjects of other users as missing.
func (s *Service) ownedSubject(ctx context.Context, userID, subjectID string) (*models.Subject, error) {
	subj, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if subj.UserID != userID {
		return nil, apierr.NotFound("subject %s not found", subjectID)
	}
	return subj, nil
}

func (s *Service) CreateTopic(ctx context.Context, userID, subjectID string, req models.CreateTopicRequest) (*models.Topic, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apierr.InvalidRequest("name is required")
	}
	if _, err := s.ownedSubject(ctx, userID, subjectID); err != nil {
		return nil, err
	}
	t, err := s.store.CreateTopic(ctx, subjectID, req)
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

func (s *Service) CreateUnit(ctx context.Context, userID, topicID string, req models.CreateUnitRequest) (*models.Unit, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apierr.InvalidRequest("name is required")
	}
	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, storeErr(err)
	}
	if _, err := s.ownedSubject(ctx, userID, topic.SubjectID); err != nil {
		return nil, err
	}
	u, err := s.store.CreateUnit(ctx, *topic, req)
	if err != nil {
		return nil, storeErr(err)
	}
	return u, nil
}

// ── Scope Resolution ────────────────────────────────────

// ResolveScope checks that every topic and unit belongs to the user's
// subject. When both are given each unit must also sit in a selected topic.
func (s *Service) ResolveScope(ctx context.Context, userID, subjectID string, topicIDs, unitIDs []string) (models.Scope, error) {
	if subjectID == "" {
		return models.Scope{}, apierr.InvalidScope("subject_id is required")
	}
	subj, err := s.store.GetSubject(ctx, subjectID)
	if errors.Is(err, ErrNotFound) {
		return models.Scope{}, apierr.InvalidScope("subject %s does not exist", subjectID)
	}
	if err != nil {
		return models.Scope{}, apierr.Persistence(err)
	}
	if subj.UserID != userID {
		return models.Scope{}, apierr.InvalidScope("subject %s does not exist", subjectID)
	}

	topics := dedupe(topicIDs)
	selected := make(map[string]bool, len(topics))
	for _, id := range topics {
		t, err := s.store.GetTopic(ctx, id)
		if errors.Is(err, ErrNotFound) || (err == nil && t.SubjectID != subjectID) {
			return models.Scope{}, apierr.InvalidScope("topic %s does not belong to subject %s", id, subjectID)
		}
		if err != nil {
			return models.Scope{}, apierr.Persistence(err)
		}
		selected[id] = true
	}

	units := dedupe(unitIDs)
	for _, id := range units {
		u, err := s.store.GetUnit(ctx, id)
		if errors.Is(err, ErrNotFound) || (err == nil && u.SubjectID != subjectID) {
			return models.Scope{}, apierr.InvalidScope("unit %s does not belong to subject %s", id, subjectID)
		}
		if err != nil {
			return models.Scope{}, apierr.Persistence(err)
		}
		if len(selected) > 0 && !selected[u.TopicID] {
			return models.Scope{}, apierr.InvalidScope("unit %s is not in a selected topic", id)
		}
	}

	return models.Scope{SubjectID: subjectID, TopicIDs: topics, UnitIDs: units}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ── Questions ───────────────────────────────────────────

func (s *Service) CreateQuestion(ctx context.Context, userID string, req models.CreateQuestionRequest) (*models.Question, error) {
	if _, err := s.ownedSubject(ctx, userID, req.SubjectID); err != nil {
		return nil, err
	}
	q, err := BuildQuestion(req, false)
	if err != nil {
		return nil, err
	}

	if q.UnitID != nil {
		u, err := s.store.GetUnit(ctx, *q.UnitID)
		if errors.Is(err, ErrNotFound) || (err == nil && u.SubjectID != q.SubjectID) {
			return nil, apierr.InvalidScope("unit %s does not belong to subject %s", *q.UnitID, q.SubjectID)
		}
		if err != nil {
			return nil, apierr.Persistence(err)
		}
		if q.TopicID != nil && *q.TopicID != u.TopicID {
			return nil, apierr.InvalidScope("unit %s is not in topic %s", u.ID, *q.TopicID)
		}
		q.TopicID = &u.TopicID
	} else if q.TopicID != nil {
		t, err := s.store.GetTopic(ctx, *q.TopicID)
		if errors.Is(err, ErrNotFound) || (err == nil && t.SubjectID != q.SubjectID) {
			return nil, apierr.InvalidScope("topic %s does not belong to subject %s", *q.TopicID, q.SubjectID)
		}
		if err != nil {
			return nil, apierr.Persistence(err)
		}
	}

	if err := s.store.CreateQuestion(ctx, &q); err != nil {
		return nil, storeErr(err)
	}
	s.log.Info("question created", "question_id", q.ID, "kind", q.Kind, "is_group", q.IsGroup, "children", len(q.Children))
	return &q, nil
}

func (s *Service) GetQuestion(ctx context.Context, userID, id string) (*models.Question, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if _, err := s.ownedSubject(ctx, userID, q.SubjectID); err != nil {
		return nil, apierr.NotFound("question %s not found", id)
	}
	return q, nil
}

func (s *Service) ListQuestions(ctx context.Context, userID, subjectID string, kind models.Kind, status models.MasteryStatus, limit, offset int) (*models.QuestionListResponse, error) {
	if _, err := s.ownedSubject(ctx, userID, subjectID); err != nil {
		return nil, err
	}
	if kind != "" && !models.ValidKinds[kind] {
		return nil, apierr.InvalidRequest("invalid kind %q", kind)
	}
	qs, total, err := s.store.ListQuestions(ctx, subjectID, kind, status, limit, offset)
	if err != nil {
		return nil, storeErr(err)
	}
	return &models.QuestionListResponse{Questions: qs, Total: total}, nil
}

// SubjectProgress reports mastery counts and accuracy over the leaves of a
// subject's question bank.
func (s *Service) SubjectProgress(ctx context.Context, userID, subjectID string) (*models.SubjectProgress, error) {
	if _, err := s.ownedSubject(ctx, userID, subjectID); err != nil {
		return nil, err
	}
	qs, _, err := s.store.ListQuestions(ctx, subjectID, "", "", 0, 0)
	if err != nil {
		return nil, storeErr(err)
	}
	p := models.BuildProgress(subjectID, qs)
	return &p, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, userID, id string) error {
	q, err := s.GetQuestion(ctx, userID, id)
	if err != nil {
		return err
	}
	if q.ParentID != nil {
		return apierr.InvalidRequest("delete the group %s instead of its child", *q.ParentID)
	}
	if err := s.store.DeleteQuestion(ctx, id); err != nil {
		return storeErr(err)
	}
	s.log.Info("question deleted", "question_id", id)
	return nil
}

// ── Validation ──────────────────────────────────────────

// BuildQuestion validates a create request and converts it to a question.
// child marks a request nested in a group.
func BuildQuestion(req models.CreateQuestionRequest, child bool) (models.Question, error) {
	q := models.Question{
		SubjectID:   req.SubjectID,
		TopicID:     nonEmpty(req.TopicID),
		UnitID:      nonEmpty(req.UnitID),
		Kind:        req.Kind,
		Content:     strings.TrimSpace(req.Content),
		Explanation: strings.TrimSpace(req.Explanation),
		Difficulty:  req.Difficulty,
		IsGroup:     req.IsGroup,
	}
	if q.Difficulty == "" {
		q.Difficulty = models.DifficultyBasic
	}
	if !models.ValidDifficulties[q.Difficulty] {
		return q, apierr.InvalidRequest("invalid difficulty %q", q.Difficulty)
	}
	if !models.ValidKinds[q.Kind] {
		return q, apierr.InvalidRequest("invalid kind %q", q.Kind)
	}
	if q.Content == "" {
		return q, apierr.InvalidRequest("content is required")
	}

	if q.IsGroup {
		if child {
			return q, apierr.InvalidRequest("a group child cannot itself be a group")
		}
		if len(req.Options) > 0 || hasPayload(req.Answer) {
			return q, apierr.InvalidRequest("a group carries no options or answer")
		}
		if len(req.Children) == 0 {
			return q, apierr.InvalidRequest("a group needs at least one child")
		}
		for i, c := range req.Children {
			c.SubjectID = req.SubjectID
			built, err := BuildQuestion(c, true)
			if err != nil {
				return q, apierr.InvalidRequest("child %d: %v", i+1, err)
			}
			built.Order = i + 1
			q.Children = append(q.Children, built)
		}
		return q, nil
	}

	if len(req.Children) > 0 {
		return q, apierr.InvalidRequest("only groups have children")
	}
	if !hasPayload(req.Answer) {
		return q, apierr.InvalidRequest("answer is required")
	}
	answer, err := models.ParseAnswer(q.Kind, req.Answer)
	if err != nil {
		return q, apierr.InvalidRequest("answer: %v", err)
	}
	q.Answer = answer

	switch {
	case q.Kind.IsChoice():
		if err := validateChoice(q.Kind, req.Options, answer.(models.ChoiceAnswer)); err != nil {
			return q, err
		}
		q.Options = req.Options
	case len(req.Options) > 0:
		return q, apierr.InvalidRequest("%s questions have no options", q.Kind)
	case q.Kind.IsText():
		if strings.TrimSpace(answer.(models.TextAnswer).Text) == "" {
			return q, apierr.InvalidRequest("answer text is required")
		}
	}
	return q, nil
}

func validateChoice(kind models.Kind, options []models.Option, answer models.ChoiceAnswer) error {
	if len(options) < 2 || len(options) > models.MaxOptions {
		return apierr.InvalidRequest("choice questions need 2 to %d options", models.MaxOptions)
	}
	keys := make(map[string]bool, len(options))
	for _, o := range options {
		k := strings.ToUpper(strings.TrimSpace(o.Key))
		if k == "" {
			return apierr.InvalidRequest("option keys must not be empty")
		}
		if keys[k] {
			return apierr.InvalidRequest("duplicate option key %q", o.Key)
		}
		keys[k] = true
	}
	if len(answer.Keys) == 0 {
		return apierr.InvalidRequest("answer must name at least one option")
	}
	if kind == models.KindSingleChoice && len(answer.Keys) != 1 {
		return apierr.InvalidRequest("single_choice answer must name exactly one option")
	}
	for _, k := range answer.Keys {
		if !keys[strings.ToUpper(strings.TrimSpace(k))] {
			return apierr.InvalidRequest("answer key %q is not an option", k)
		}
	}
	return nil
}

func hasPayload(raw []byte) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "{}"
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
