// Package exams composes exam papers from the question pool and runs their
// draft → in_progress → completed lifecycle.
package exams

import (
	"context"
	"fmt"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/models"
	"github.com/studytrack/backend/internal/shuffle"
)

// Pool is the read side of the question bank.
type Pool interface {
	QueryQuestions(ctx context.Context, f models.QuestionFilter) ([]models.Question, error)
	QueryChildren(ctx context.Context, parentIDs []string) ([]models.Question, error)
	GetQuestions(ctx context.Context, ids []string) ([]models.Question, error)
}

// Selection is one drawn top-level question with the scores of its leaves
// in child order.
type Selection struct {
	Question   models.Question
	LeafScores []int
}

func (s Selection) Score() int {
	total := 0
	for _, v := range s.LeafScores {
		total += v
	}
	return total
}

// Composition is a sampled, scored paper in final paper order.
type Composition struct {
	Selections    []Selection
	QuestionCount int
	TotalScore    int
}

type Composer struct {
	pool Pool
	rng  shuffle.Entropy
}

func NewComposer(pool Pool, rng shuffle.Entropy) *Composer {
	return &Composer{pool: pool, rng: rng}
}

// ── Validation ──────────────────────────────────────────

// ValidateRequests checks the per-type requests and score settings. Strata
// must be disjoint so no question can be drawn twice.
func ValidateRequests(reqs []models.TypeRequest, mode models.ScoreMode, totalScore int) error {
	switch mode {
	case models.ScoreAuto, models.ScoreByType:
	default:
		return apierr.InvalidRequest("score_mode must be 'auto' or 'by_type'")
	}

	requested := 0
	seen := map[models.TypeRequest]bool{}
	anyDifficulty := map[models.Kind]bool{}
	byDifficulty := map[models.Kind]bool{}
	for _, r := range reqs {
		if !models.ValidKinds[r.Kind] {
			return apierr.InvalidRequest("invalid kind %q", r.Kind)
		}
		if r.Difficulty != "" && !models.ValidDifficulties[r.Difficulty] {
			return apierr.InvalidRequest("invalid difficulty %q", r.Difficulty)
		}
		if r.Count < 0 {
			return apierr.InvalidRequest("count for %s must not be negative", r.Kind)
		}
		key := models.TypeRequest{Kind: r.Kind, Difficulty: r.Difficulty}
		if seen[key] {
			return apierr.InvalidRequest("duplicate request for %s %s", r.Kind, r.Difficulty)
		}
		seen[key] = true
		if r.Difficulty == "" {
			anyDifficulty[r.Kind] = true
		} else {
			byDifficulty[r.Kind] = true
		}
		if anyDifficulty[r.Kind] && byDifficulty[r.Kind] {
			return apierr.InvalidRequest("%s is requested both with and without a difficulty", r.Kind)
		}
		if mode == models.ScoreByType && r.Count > 0 && r.Score <= 0 {
			return apierr.InvalidRequest("score for %s must be a positive integer", r.Kind)
		}
		requested += r.Count
	}

	if requested == 0 {
		return apierr.ErrEmptySelection
	}
	if mode == models.ScoreAuto && totalScore <= 0 {
		return apierr.InvalidRequest("total_score must be a positive integer")
	}
	return nil
}

// ── Composition ─────────────────────────────────────────

type drawn struct {
	question models.Question
	score    int
}

// Compose samples every stratum without replacement, shuffles the paper
// order and allocates scores. It fails on the first stratum that cannot
// satisfy its count; nothing is returned in that case.
func (c *Composer) Compose(ctx context.Context, scope models.Scope, reqs []models.TypeRequest, mode models.ScoreMode, totalScore int) (*Composition, error) {
	if err := ValidateRequests(reqs, mode, totalScore); err != nil {
		return nil, err
	}

	var picks []drawn
	for _, r := range reqs {
		if r.Count == 0 {
			continue
		}
		candidates, err := c.stratum(ctx, scope, r)
		if err != nil {
			return nil, err
		}
		if r.Count > len(candidates) {
			return nil, &apierr.InsufficientPoolError{
				Kind:       r.Kind,
				Difficulty: r.Difficulty,
				Requested:  r.Count,
				Available:  len(candidates),
			}
		}
		for _, idx := range shuffle.Sample(len(candidates), r.Count, c.rng) {
			picks = append(picks, drawn{question: candidates[idx], score: r.Score})
		}
	}

	shuffle.Permute(len(picks), c.rng, func(i, j int) { picks[i], picks[j] = picks[j], picks[i] })

	comp := &Composition{}
	for _, p := range picks {
		comp.QuestionCount += p.question.LeafCount()
	}
	if comp.QuestionCount == 0 {
		return nil, apierr.ErrEmptySelection
	}

	switch mode {
	case models.ScoreAuto:
		leafScores := Allocate(totalScore, comp.QuestionCount)
		next := 0
		for _, p := range picks {
			n := p.question.LeafCount()
			comp.Selections = append(comp.Selections, Selection{Question: p.question, LeafScores: leafScores[next : next+n]})
			next += n
		}
		comp.TotalScore = totalScore
	case models.ScoreByType:
		for _, p := range picks {
			sel := Selection{Question: p.question, LeafScores: Allocate(p.score, p.question.LeafCount())}
			comp.Selections = append(comp.Selections, sel)
			comp.TotalScore += sel.Score()
		}
	}
	return comp, nil
}

// stratum returns the drawable top-level questions for one request. Groups
// come with their children; groups without children are not drawable.
func (c *Composer) stratum(ctx context.Context, scope models.Scope, r models.TypeRequest) ([]models.Question, error) {
	f := scope.Filter()
	f.Kind = r.Kind
	f.Difficulty = r.Difficulty

	qs, err := c.pool.QueryQuestions(ctx, f)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("query %s pool: %w", r.Kind, err))
	}
	qs, err = AttachChildren(ctx, c.pool, qs)
	if err != nil {
		return nil, err
	}
	return DropEmptyGroups(qs), nil
}

// AttachChildren loads the ordered children of every group in qs.
func AttachChildren(ctx context.Context, pool Pool, qs []models.Question) ([]models.Question, error) {
	var groupIDs []string
	for _, q := range qs {
		if q.IsGroup {
			groupIDs = append(groupIDs, q.ID)
		}
	}
	if len(groupIDs) == 0 {
		return qs, nil
	}
	children, err := pool.QueryChildren(ctx, groupIDs)
	if err != nil {
		return nil, apierr.Persistence(fmt.Errorf("query children: %w", err))
	}
	byParent := make(map[string][]models.Question, len(groupIDs))
	for _, ch := range children {
		if ch.ParentID != nil {
			byParent[*ch.ParentID] = append(byParent[*ch.ParentID], ch)
		}
	}
	for i := range qs {
		if qs[i].IsGroup {
			qs[i].Children = byParent[qs[i].ID]
		}
	}
	return qs, nil
}

func DropEmptyGroups(qs []models.Question) []models.Question {
	out := qs[:0]
	for _, q := range qs {
		if q.IsGroup && len(q.Children) == 0 {
			continue
		}
		out = append(out, q)
	}
	return out
}

// ── Scoring ─────────────────────────────────────────────

// Allocate splits total over n slots: every slot gets total/n and the first
// total%n slots get one extra point, so the parts always sum to total.
func Allocate(total, n int) []int {
	if n <= 0 {
		return nil
	}
	base := total / n
	remainder := total - base*n
	out := make([]int, n)
	for i := range out {
		out[i] = base
		if i < remainder {
			out[i]++
		}
	}
	return out
}
