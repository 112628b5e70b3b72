package attendance

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/checkin/core"
)

const DefaultResetDelay = 3 * time.Second

type (
	// Client is the attendance half of the backend.
	Client interface {
		MarkAttendance(ctx context.Context, id Identity) (Confirmation, error)
		Records(ctx context.Context, f Filter) ([]Record, error)
	}

	// StatusError is a backend error carrying an HTTP status.
	StatusError interface {
		error
		StatusCode() int
	}

	Timer interface {
		Stop() bool
	}

	CoordinatorOptions struct {
		ResetDelay time.Duration
		Logger     core.Logger
		// AfterFunc defaults to time.AfterFunc.
		AfterFunc func(d time.Duration, f func()) Timer
		// OnReset clears the submitted artifact and identity.
		OnReset func()
		// OnMarked is the refresh signal, fired once per success after OnReset.
		OnMarked func()
	}
)

// Coordinator submits identities and maps the backend answers to Outcomes.
type Coordinator struct {
	client Client
	opts   CoordinatorOptions

	mu         sync.Mutex
	submitting bool
	timer      Timer
	gen        uint64
}

func NewCoordinator(client Client, opts CoordinatorOptions) *Coordinator {
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = DefaultResetDelay
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Coordinator{client: client, opts: opts}
}

// Submitting is true while a submission is in flight.
func (c *Coordinator) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// Submit marks id present. Incomplete identities never reach the backend.
func (c *Coordinator) Submit(ctx context.Context, id Identity) Outcome {
	id.Clean()
	if !id.Complete() {
		return invalid()
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return failed(MsgInProgress)
	}
	c.submitting = true
	startGen := c.gen
	c.mu.Unlock()

	conf, err := c.client.MarkAttendance(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false

	if err != nil {
		return c.failure(err, id)
	}
	if conf.Repeated() {
		return alreadyMarked(conf.Message)
	}

	name := conf.Name
	if name == "" {
		name = id.Name
	}
	ts := conf.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// cancelled while in flight: nothing to reset
	if c.gen != startGen {
		return succeeded(name, ts)
	}
	c.stopTimerLocked()
	gen := c.gen
	c.timer = c.opts.AfterFunc(c.opts.ResetDelay, func() { c.reset(gen) })
	return succeeded(name, ts)
}

func (c *Coordinator) failure(err error, id Identity) Outcome {
	var sErr StatusError
	if errors.As(err, &sErr) {
		if sErr.StatusCode() == http.StatusConflict {
			return alreadyMarked(sErr.Error())
		}
		c.log("marking attendance", err, id)
		return failed(sErr.Error())
	}
	c.log("marking attendance", err, id)
	return failed(MsgMarkFailed)
}

func (c *Coordinator) log(msg string, err error, id Identity) {
	if c.opts.Logger != nil {
		c.opts.Logger.Error(msg, err, map[string]interface{}{"roll": id.Roll})
	}
}

func (c *Coordinator) reset(gen uint64) {
	c.mu.Lock()
	// stale: cancelled or superseded by a newer success
	if c.timer == nil || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	onReset, onMarked := c.opts.OnReset, c.opts.OnMarked
	c.mu.Unlock()

	if onReset != nil {
		onReset()
	}
	if onMarked != nil {
		onMarked()
	}
}

// Cancel drops the pending post-success reset.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// ResetPending reports whether a post-success reset is scheduled.
func (c *Coordinator) ResetPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *Coordinator) Records(ctx context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	records, err := c.client.Records(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "fetching attendance records")
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Stats counts the records of roll.
func (c *Coordinator) Stats(ctx context.Context, roll string) (Stats, error) {
	roll = core.CleanString(roll)
	if roll == "" {
		return Stats{}, core.NewValidationError(nil, core.FieldError{Field: "roll", Error: "this field is required"})
	}
	records, err := c.client.Records(ctx, Filter{Roll: roll})
	if err != nil {
		return Stats{}, errors.Wrap(err, "fetching student stats")
	}
	return StatsOf(records), nil
}
