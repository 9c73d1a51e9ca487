package turn

import (
	"context"
	"sync"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
)

// Runner allows one live controller at a time, matching the single
// microphone and avatar channel of a client.
type Runner struct {
	mu     sync.Mutex
	active *Controller
}

func NewRunner() *Runner { return &Runner{} }

// Run attaches c and blocks until it finishes. It fails with CodeConflict
// while another controller is still running.
func (r *Runner) Run(ctx context.Context, c *Controller) (*models.Result, error) {
	if err := r.attach(c); err != nil {
		return nil, err
	}
	defer r.detach(c)
	return c.Run(ctx)
}

// Active returns the running controller, or nil.
func (r *Runner) Active() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	select {
	case <-r.active.Done():
		return nil
	default:
		return r.active
	}
}

func (r *Runner) attach(c *Controller) error {
	const op = "Runner.Run"

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active != c {
		select {
		case <-r.active.Done():
		default:
			return utils.E(utils.CodeConflict, op, "session "+r.active.SessionID()+" is still running", nil)
		}
	}
	r.active = c
	return nil
}

func (r *Runner) detach(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == c {
		r.active = nil
	}
}
