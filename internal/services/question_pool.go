package services

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/store"
	"github.com/yoockh/yoointerview/internal/utils"
)

type QuestionPoolService interface {
	// Draw selects count questions for job and records them in the job's
	// used-question history.
	Draw(ctx context.Context, job *models.Job, d models.Difficulty, count int) ([]models.Question, error)
}

type questionPoolService struct {
	history  store.HistoryStore
	template QuestionTemplate
	log      *logrus.Logger
	now      func() time.Time
}

// NewQuestionPoolService uses the built-in template when tmpl is empty.
func NewQuestionPoolService(history store.HistoryStore, tmpl QuestionTemplate, log *logrus.Logger) QuestionPoolService {
	if len(tmpl) == 0 {
		tmpl = DefaultTemplate()
	}
	return &questionPoolService{history: history, template: tmpl, log: log, now: time.Now}
}

func (s *questionPoolService) Draw(ctx context.Context, job *models.Job, d models.Difficulty, count int) ([]models.Question, error) {
	const op = "QuestionPoolService.Draw"

	if job == nil || job.ID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "job id is required", nil)
	}

	// selection proceeds without history when the store is down
	h, err := s.history.LoadHistory(ctx, job.ID)
	if err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("load question history failed, selecting without it")
		h = &models.UsedQuestionHistory{JobID: job.ID}
	}

	out, err := SelectQuestions(s.template.Build(job, d), h, count)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(out))
	for i, q := range out {
		ids[i] = q.ID
	}
	h.Record(s.now().UTC(), ids...)
	if err := s.history.SaveHistory(ctx, h); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("save question history failed")
	}

	s.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"selected": len(out),
		"history":  len(h.QuestionIDs),
	}).Debug("questions drawn")
	return out, nil
}

// SelectQuestions picks count questions from pool. The opening question is
// an Introduction one when the pool has any; the rest are taken round-robin
// over CategoryPriority, unused questions first, then least recently used.
// The result is grouped by category priority with numbering stamped.
func SelectQuestions(pool []models.Question, history *models.UsedQuestionHistory, count int) ([]models.Question, error) {
	const op = "SelectQuestions"

	if len(pool) == 0 {
		return nil, utils.E(utils.CodeInternal, op, "question pool is empty", nil)
	}
	if count <= 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "count must be positive", nil)
	}
	if count > len(pool) {
		count = len(pool)
	}

	groups := make(map[string][]int)
	var seen []string
	for i, q := range pool {
		if _, ok := groups[q.Category]; !ok {
			seen = append(seen, q.Category)
		}
		groups[q.Category] = append(groups[q.Category], i)
	}
	order, rank := categoryOrder(seen)

	picked := make(map[int]bool, count)
	selected := make([]int, 0, count)
	take := func(i int) {
		picked[i] = true
		selected = append(selected, i)
	}
	unused := func(i int) bool { return !picked[i] && !history.Contains(pool[i].ID) }

	if intro := groups[models.CategoryIntroduction]; len(intro) > 0 {
		first := intro[0]
		for _, i := range intro {
			if unused(i) {
				first = i
				break
			}
		}
		take(first)
	}

	// one unused question per category per pass
	for len(selected) < count {
		progress := false
		for _, c := range order {
			if len(selected) >= count {
				break
			}
			for _, i := range groups[c] {
				if unused(i) {
					take(i)
					progress = true
					break
				}
			}
		}
		if !progress {
			break
		}
	}

	for i := range pool {
		if len(selected) >= count {
			break
		}
		if unused(i) {
			take(i)
		}
	}

	if len(selected) < count {
		var reuse []int
		for i := range pool {
			if !picked[i] {
				reuse = append(reuse, i)
			}
		}
		sort.SliceStable(reuse, func(a, b int) bool {
			return history.Rank(pool[reuse[a]].ID) < history.Rank(pool[reuse[b]].ID)
		})
		for _, i := range reuse[:count-len(selected)] {
			take(i)
		}
	}

	sort.SliceStable(selected, func(a, b int) bool {
		return rank[pool[selected[a]].Category] < rank[pool[selected[b]].Category]
	})

	out := make([]models.Question, len(selected))
	for n, i := range selected {
		q := pool[i]
		q.QuestionNumber = n + 1
		q.TotalQuestions = len(selected)
		out[n] = q
	}
	return out, nil
}

// categoryOrder returns the non-Introduction categories in fill order and a
// rank for every category, Introduction being 0.
func categoryOrder(seen []string) ([]string, map[string]int) {
	present := make(map[string]bool, len(seen))
	for _, c := range seen {
		present[c] = true
	}

	rank := map[string]int{models.CategoryIntroduction: 0}
	var order []string
	for _, c := range CategoryPriority {
		if present[c] {
			order = append(order, c)
		}
	}
	for _, c := range seen {
		if c == models.CategoryIntroduction {
			continue
		}
		if _, known := categoryBaseSeconds[c]; known {
			continue
		}
		order = append(order, c)
	}
	for i, c := range order {
		rank[c] = i + 1
	}
	return order, rank
}
