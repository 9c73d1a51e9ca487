package models

import "time"

// MaxHistoryPerJob bounds UsedQuestionHistory.QuestionIDs.
const MaxHistoryPerJob = 50

// UsedQuestionHistory remembers which questions a job already asked.
// QuestionIDs is ordered oldest first.
type UsedQuestionHistory struct {
	JobID       string    `json:"job_id"`
	QuestionIDs []string  `json:"question_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (h *UsedQuestionHistory) Contains(id string) bool {
	return h.Rank(id) >= 0
}

// Rank is the position of id in the history (0 = least recently used),
// or -1 when it was never used.
func (h *UsedQuestionHistory) Rank(id string) int {
	if h == nil {
		return -1
	}
	for i, v := range h.QuestionIDs {
		if v == id {
			return i
		}
	}
	return -1
}

// Record marks ids as most recently used and evicts the oldest entries
// beyond MaxHistoryPerJob.
func (h *UsedQuestionHistory) Record(now time.Time, ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if i := h.Rank(id); i >= 0 {
			h.QuestionIDs = append(h.QuestionIDs[:i], h.QuestionIDs[i+1:]...)
		}
		h.QuestionIDs = append(h.QuestionIDs, id)
	}
	if n := len(h.QuestionIDs); n > MaxHistoryPerJob {
		h.QuestionIDs = append([]string(nil), h.QuestionIDs[n-MaxHistoryPerJob:]...)
	}
	h.UpdatedAt = now
}
