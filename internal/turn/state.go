package turn

type State string

const (
	StateIdle            State = "idle"
	StatePresenting      State = "presenting"
	StateRecording       State = "recording"
	StateProcessingAudio State = "processing_audio"
	StateAwaitingAdvance State = "awaiting_advance"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateCancelled }
