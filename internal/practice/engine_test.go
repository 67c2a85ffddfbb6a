package practice

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
)

// ── Fakes ───────────────────────────────────────────────

type fakePool struct {
	top      []models.Question
	children map[string][]models.Question
}

func newFakePool() *fakePool {
	return &fakePool{children: map[string][]models.Question{}}
}

func (p *fakePool) QueryQuestions(_ context.Context, f models.QuestionFilter) ([]models.Question, error) {
	var out []models.Question
	for _, q := range p.top {
		if f.Kind != "" && q.Kind != f.Kind {
			continue
		}
		if f.Difficulty != "" && q.Difficulty != f.Difficulty {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (p *fakePool) QueryChildren(_ context.Context, parentIDs []string) ([]models.Question, error) {
	var out []models.Question
	for _, id := range parentIDs {
		out = append(out, p.children[id]...)
	}
	return out, nil
}

func (p *fakePool) addTF(id string, stats models.QuestionStats) {
	p.top = append(p.top, trueFalse(id, stats))
}

func (p *fakePool) addChoice(id string) {
	p.top = append(p.top, models.Question{
		ID: id, Kind: models.KindSingleChoice, Content: "pick", Difficulty: models.DifficultyBasic,
		Options: []models.Option{{Key: "A", Text: "alpha"}, {Key: "B", Text: "beta"}, {Key: "C", Text: "gamma"}},
		Answer:  models.ChoiceAnswer{Keys: []string{"B"}}, Explanation: "beta it is",
	})
}

func (p *fakePool) addGroup(id string, childStats ...models.QuestionStats) {
	p.top = append(p.top, models.Question{ID: id, Kind: models.KindTrueFalse, Content: "passage", IsGroup: true,
		Difficulty: models.DifficultyBasic})
	for i, st := range childStats {
		c := trueFalse(fmt.Sprintf("%s-c%d", id, i+1), st)
		parent := id
		c.ParentID = &parent
		c.Order = i + 1
		p.children[id] = append(p.children[id], c)
	}
}

func trueFalse(id string, stats models.QuestionStats) models.Question {
	return models.Question{ID: id, Kind: models.KindTrueFalse, Content: "is it " + id, Difficulty: models.DifficultyBasic,
		Answer: models.BoolAnswer{Value: true}, QuestionStats: stats}
}

type allowAll struct{}

func (allowAll) ResolveScope(_ context.Context, _, subjectID string, topicIDs, unitIDs []string) (models.Scope, error) {
	if subjectID == "" {
		return models.Scope{}, apierr.InvalidScope("subject required")
	}
	return models.Scope{SubjectID: subjectID, TopicIDs: topicIDs, UnitIDs: unitIDs}, nil
}

type attempt struct {
	id      string
	correct bool
}

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []attempt
}

func (r *fakeRecorder) Record(_ context.Context, id string, correct bool) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt{id, correct})
	return time.Now(), nil
}

// flakyRecorder counts attempts, optionally after a delay, and fails while
// fail is set.
type flakyRecorder struct {
	mu       sync.Mutex
	delay    time.Duration
	fail     bool
	attempts int
}

func (r *flakyRecorder) Record(_ context.Context, _ string, _ bool) (time.Time, error) {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return time.Time{}, errors.New("write stats: connection reset")
	}
	r.attempts++
	return time.Now(), nil
}

func newTestEngine(pool *fakePool) (*Engine, *fakeRecorder) {
	rec := &fakeRecorder{}
	e := NewEngine(pool, allowAll{}, NewMemoryStore(time.Hour), rec, rand.New(rand.NewSource(3)), logger.NewNop())
	return e, rec
}

func start(t *testing.T, e *Engine, req models.StartPracticeRequest) *models.PracticeView {
	t.Helper()
	if req.SubjectID == "" {
		req.SubjectID = "s1"
	}
	v, err := e.Start(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return v
}

func itemIDs(t *testing.T, e *Engine, id string) []string {
	t.Helper()
	s, err := e.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(s.Items))
	for i, item := range s.Items {
		ids[i] = item.Question.ID
	}
	return ids
}

var (
	fresh      = models.QuestionStats{}
	struggling = models.QuestionStats{AttemptCount: 2, ConsecutiveCorrect: 1, WrongCount: 1}
	mastered   = models.QuestionStats{AttemptCount: 5, ConsecutiveCorrect: 3}
)

// ── Tests ───────────────────────────────────────────────

func TestStartMistakesModeSkipsUnattempted(t *testing.T) {
	pool := newFakePool()
	pool.addTF("never-seen", fresh)
	pool.addTF("missed", struggling)
	pool.addTF("known", mastered)
	e, _ := newTestEngine(pool)

	v := start(t, e, models.StartPracticeRequest{Mode: models.PracticeMistakes})
	if v.Total != 1 || v.Question.QuestionID != "missed" {
		t.Errorf("mistakes session = %d items starting at %v, want only missed", v.Total, v.Question)
	}
}

func TestStartModes(t *testing.T) {
	pool := newFakePool()
	pool.addTF("never-seen", fresh)
	pool.addTF("missed", struggling)
	pool.addTF("known", mastered)
	pool.addGroup("mixed", fresh, struggling)

	tests := []struct {
		mode models.PracticeMode
		want []string
	}{
		{models.PracticeAll, []string{"known", "missed", "mixed", "never-seen"}},
		{models.PracticeNew, []string{"mixed", "never-seen"}},
		{models.PracticeMistakes, []string{"missed", "mixed"}},
		{models.PracticeReview, []string{"known"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			e, _ := newTestEngine(pool)
			v := start(t, e, models.StartPracticeRequest{Mode: tt.mode})
			got := itemIDs(t, e, v.SessionID)
			sort.Strings(got)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("mode %s drew %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestStartValidation(t *testing.T) {
	pool := newFakePool()
	pool.addTF("q1", fresh)
	e, _ := newTestEngine(pool)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.StartPracticeRequest
		want error
	}{
		{"bad mode", models.StartPracticeRequest{SubjectID: "s1", Mode: "random"}, apierr.ErrInvalidRequest},
		{"bad difficulty", models.StartPracticeRequest{SubjectID: "s1", Difficulty: "expert"}, apierr.ErrInvalidRequest},
		{"bad kind", models.StartPracticeRequest{SubjectID: "s1", Kind: "matching"}, apierr.ErrInvalidRequest},
		{"negative sample size", models.StartPracticeRequest{SubjectID: "s1", SampleSize: -1}, apierr.ErrInvalidRequest},
		{"no subject", models.StartPracticeRequest{}, apierr.ErrInvalidScope},
		{"nothing to review", models.StartPracticeRequest{SubjectID: "s1", Mode: models.PracticeReview}, apierr.ErrEmptySelection},
		{"kind filter empties pool", models.StartPracticeRequest{SubjectID: "s1", Kind: models.KindEssay}, apierr.ErrEmptySelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Start(ctx, "u1", tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Start() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStartSampleSize(t *testing.T) {
	pool := newFakePool()
	for i := 0; i < 5; i++ {
		pool.addTF(fmt.Sprintf("q%d", i), fresh)
	}
	tests := []struct{ size, want int }{{3, 3}, {0, 5}, {10, 5}}
	for _, tt := range tests {
		e, _ := newTestEngine(pool)
		v := start(t, e, models.StartPracticeRequest{SampleSize: tt.size})
		if v.Total != tt.want {
			t.Errorf("SampleSize %d gave %d items, want %d", tt.size, v.Total, tt.want)
		}
		ids := itemIDs(t, e, v.SessionID)
		seen := map[string]bool{}
		for _, id := range ids {
			if seen[id] {
				t.Errorf("SampleSize %d drew %s twice", tt.size, id)
			}
			seen[id] = true
		}
	}
}

func TestGroupTraversal(t *testing.T) {
	pool := newFakePool()
	pool.addGroup("g", fresh, fresh)
	pool.addTF("solo", fresh)
	e, rec := newTestEngine(pool)
	ctx := context.Background()

	v := start(t, e, models.StartPracticeRequest{})
	id := v.SessionID

	if _, err := e.Next(ctx, "u1", id); !errors.Is(err, apierr.ErrInvalidRequest) {
		t.Errorf("Next() before answering error = %v, want invalid request", err)
	}

	var visited []string
	for !v.Completed {
		visited = append(visited, v.Question.QuestionID)
		if v.Group != nil && v.ChildCount != 2 {
			t.Errorf("ChildCount = %d, want 2", v.ChildCount)
		}
		fb, err := e.Answer(ctx, "u1", id, true)
		if err != nil {
			t.Fatalf("Answer() error: %v", err)
		}
		if !fb.IsCorrect || fb.CorrectAnswer != "true" {
			t.Errorf("feedback = %+v, want correct with answer true", fb)
		}
		if _, err := e.Answer(ctx, "u1", id, true); !errors.Is(err, apierr.ErrInvalidRequest) {
			t.Errorf("second Answer() error = %v, want invalid request", err)
		}
		if v, err = e.Next(ctx, "u1", id); err != nil {
			t.Fatalf("Next() error: %v", err)
		}
	}

	if len(visited) != 3 {
		t.Fatalf("visited %v, want 3 leaves", visited)
	}
	groupAt := -1
	for i, q := range visited {
		if q == "g-c1" {
			groupAt = i
		}
	}
	if groupAt < 0 || groupAt+1 >= len(visited) || visited[groupAt+1] != "g-c2" {
		t.Errorf("children not visited in order: %v", visited)
	}
	if len(rec.attempts) != 3 {
		t.Errorf("recorded %d attempts, want 3", len(rec.attempts))
	}
	for _, a := range rec.attempts {
		if a.id == "g" {
			t.Error("group container recorded an attempt")
		}
	}

	if _, err := e.Answer(ctx, "u1", id, true); !errors.Is(err, apierr.ErrAlreadyCompleted) {
		t.Errorf("Answer() after completion error = %v, want already completed", err)
	}

	sum, err := e.Summary(ctx, "u1", id)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 3 || sum.CorrectCount != 3 || sum.Accuracy != 100 || !sum.Completed {
		t.Errorf("Summary() = %+v", sum)
	}
}

func TestChoiceAnswerUsesDisplayKeys(t *testing.T) {
	pool := newFakePool()
	pool.addChoice("c1")
	e, _ := newTestEngine(pool)
	ctx := context.Background()

	v := start(t, e, models.StartPracticeRequest{})
	var betaKey string
	for _, opt := range v.Question.Options {
		if opt.Text == "beta" {
			betaKey = opt.Key
		}
	}
	if betaKey == "" {
		t.Fatalf("options %v do not include beta", v.Question.Options)
	}

	fb, err := e.Answer(ctx, "u1", v.SessionID, betaKey)
	if err != nil {
		t.Fatal(err)
	}
	if !fb.IsCorrect || fb.CorrectAnswer != betaKey || fb.Explanation != "beta it is" || !fb.Last {
		t.Errorf("feedback = %+v, want correct via display key %s", fb, betaKey)
	}

	again, err := e.Current(ctx, "u1", v.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(again.Question.Options) != fmt.Sprint(v.Question.Options) {
		t.Error("option order changed within a run")
	}
	if again.Answered == nil || !again.Answered.IsCorrect {
		t.Errorf("Answered = %+v, want the recorded result", again.Answered)
	}
}

func TestSkip(t *testing.T) {
	pool := newFakePool()
	pool.addTF("a", fresh)
	pool.addTF("b", fresh)
	e, rec := newTestEngine(pool)
	ctx := context.Background()

	v := start(t, e, models.StartPracticeRequest{})
	first := v.Question.QuestionID
	v, err := e.Skip(ctx, "u1", v.SessionID)
	if err != nil {
		t.Fatalf("Skip() error: %v", err)
	}
	if v.Position != 2 || v.Question.QuestionID == first {
		t.Errorf("Skip() did not advance: %+v", v)
	}
	if len(rec.attempts) != 1 || rec.attempts[0] != (attempt{first, false}) {
		t.Errorf("attempts = %v, want one wrong attempt for %s", rec.attempts, first)
	}

	if _, err := e.Answer(ctx, "u1", v.SessionID, "false"); err != nil {
		t.Fatal(err)
	}
	if v, err = e.Next(ctx, "u1", v.SessionID); err != nil || !v.Completed {
		t.Fatalf("Next() = %+v, %v, want completed", v, err)
	}

	sum, err := e.Summary(ctx, "u1", v.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 2 || sum.CorrectCount != 0 || sum.Accuracy != 0 {
		t.Errorf("Summary() = %+v", sum)
	}
	if r := sum.Results[0]; r.UserAnswer != models.SkippedAnswer || !r.Skipped || r.IsCorrect {
		t.Errorf("skipped result = %+v", r)
	}
}

func TestRestartKeepsSample(t *testing.T) {
	pool := newFakePool()
	for i := 0; i < 8; i++ {
		pool.addTF(fmt.Sprintf("q%d", i), fresh)
	}
	pool.addChoice("choice")
	e, _ := newTestEngine(pool)
	ctx := context.Background()

	v := start(t, e, models.StartPracticeRequest{SampleSize: 5})
	before := itemIDs(t, e, v.SessionID)
	if _, err := e.Skip(ctx, "u1", v.SessionID); err != nil {
		t.Fatal(err)
	}

	v, err := e.Restart(ctx, "u1", v.SessionID)
	if err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	after := itemIDs(t, e, v.SessionID)
	sort.Strings(before)
	sort.Strings(after)
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Errorf("Restart() changed the sample: %v -> %v", before, after)
	}
	if v.Position != 1 || v.Completed || v.Answered != nil {
		t.Errorf("Restart() view = %+v, want fresh start", v)
	}
	sum, _ := e.Summary(ctx, "u1", v.SessionID)
	if sum.Count != 0 {
		t.Errorf("results survived restart: %+v", sum.Results)
	}
}

func TestSessionOwnership(t *testing.T) {
	pool := newFakePool()
	pool.addTF("q", fresh)
	e, _ := newTestEngine(pool)
	ctx := context.Background()

	v := start(t, e, models.StartPracticeRequest{})
	if _, err := e.Current(ctx, "u2", v.SessionID); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("Current() by another user error = %v, want not found", err)
	}
	if err := e.Discard(ctx, "u1", v.SessionID); err != nil {
		t.Fatalf("Discard() error: %v", err)
	}
	if _, err := e.Current(ctx, "u1", v.SessionID); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("Current() after discard error = %v, want not found", err)
	}
}

func TestSummarizeAccuracy(t *testing.T) {
	s := &models.PracticeSession{Results: []models.PracticeResult{
		{IsCorrect: true}, {IsCorrect: true}, {IsCorrect: false},
	}}
	if got := Summarize(s).Accuracy; got != 66.7 {
		t.Errorf("Accuracy = %v, want 66.7", got)
	}
	if got := Summarize(&models.PracticeSession{}).Accuracy; got != 0 {
		t.Errorf("empty Accuracy = %v, want 0", got)
	}
}

func TestConcurrentAnswersRecordOnce(t *testing.T) {
	pool := newFakePool()
	pool.addTF("q1", fresh)
	rec := &flakyRecorder{delay: 5 * time.Millisecond}
	e := NewEngine(pool, allowAll{}, NewMemoryStore(time.Hour), rec, rand.New(rand.NewSource(3)), logger.NewNop())
	ctx := context.Background()
	v := start(t, e, models.StartPracticeRequest{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Answer(ctx, "u1", v.SessionID, "true")
			switch {
			case err == nil:
				mu.Lock()
				successes++
				mu.Unlock()
			case errors.Is(err, apierr.ErrConflict), errors.Is(err, apierr.ErrInvalidRequest):
			default:
				t.Errorf("Answer() error = %v, want conflict or already answered", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successful answers = %d, want 1", successes)
	}
	if rec.attempts != 1 {
		t.Errorf("mastery attempts = %d, want 1", rec.attempts)
	}
	sum, err := e.Summary(ctx, "u1", v.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 1 {
		t.Errorf("results = %d, want 1", sum.Count)
	}
}

func TestMasteryFailureLeavesQuestionOpen(t *testing.T) {
	pool := newFakePool()
	pool.addTF("q1", fresh)
	pool.addTF("q2", fresh)
	rec := &flakyRecorder{fail: true}
	e := NewEngine(pool, allowAll{}, NewMemoryStore(time.Hour), rec, rand.New(rand.NewSource(3)), logger.NewNop())
	ctx := context.Background()
	v := start(t, e, models.StartPracticeRequest{})
	first := v.Question.QuestionID

	if _, err := e.Answer(ctx, "u1", v.SessionID, "true"); !errors.Is(err, apierr.ErrPersistence) {
		t.Fatalf("Answer() error = %v, want persistence failure", err)
	}
	if _, err := e.Skip(ctx, "u1", v.SessionID); !errors.Is(err, apierr.ErrPersistence) {
		t.Fatalf("Skip() error = %v, want persistence failure", err)
	}
	cur, err := e.Current(ctx, "u1", v.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Position != 1 || cur.Question.QuestionID != first || cur.Answered != nil {
		t.Errorf("Current() after failures = %+v, want the first question still open", cur)
	}

	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()
	fb, err := e.Answer(ctx, "u1", v.SessionID, "true")
	if err != nil {
		t.Fatalf("retried Answer() error: %v", err)
	}
	if !fb.IsCorrect || fb.QuestionID != first {
		t.Errorf("retried feedback = %+v", fb)
	}
	if rec.attempts != 1 {
		t.Errorf("mastery attempts = %d, want 1", rec.attempts)
	}
}
