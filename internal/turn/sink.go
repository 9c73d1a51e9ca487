package turn

import "github.com/yoockh/yoointerview/internal/models"

type UpdateType string

const (
	UpdateState      UpdateType = "state"
	UpdateVolume     UpdateType = "volume"
	UpdateTranscript UpdateType = "transcript"
	UpdateResponse   UpdateType = "response"
	UpdateResult     UpdateType = "result"
	UpdateError      UpdateType = "error"
)

// Update is what a controller reports to the presentation side.
type Update struct {
	Type      UpdateType `json:"type"`
	SessionID string     `json:"session_id"`
	State     State      `json:"state"`

	QuestionIndex    int              `json:"question_index"`
	TotalQuestions   int              `json:"total_questions"`
	Question         *models.Question `json:"question,omitempty"`
	RemainingSeconds int              `json:"remaining_seconds"`

	// QuestionRemainingSeconds counts the current question's expected
	// duration down from its presentation.
	QuestionRemainingSeconds int `json:"question_remaining_seconds"`

	Volume     float64          `json:"volume,omitempty"`
	Transcript string           `json:"transcript,omitempty"`
	Notice     string           `json:"notice,omitempty"`
	Response   *models.Response `json:"response,omitempty"`
	Result     *models.Result   `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Sink must not block the controller.
type Sink interface {
	Publish(u Update)
}

type SinkFunc func(Update)

func (f SinkFunc) Publish(u Update) { f(u) }

// ChanSink delivers updates to a buffered channel and drops them when the
// reader falls behind.
type ChanSink struct {
	C chan Update
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan Update, buffer)}
}

func (s *ChanSink) Publish(u Update) {
	select {
	case s.C <- u:
	default:
	}
}

// MultiSink fans an update out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(u Update) {
	for _, s := range m {
		if s != nil {
			s.Publish(u)
		}
	}
}
