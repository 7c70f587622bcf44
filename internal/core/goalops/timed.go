package goalops

import (
	"errors"
	"time"

	"github.com/zeusync/goalpipe/internal/core/archive"
	"github.com/zeusync/goalpipe/internal/core/goalop"
)

var ErrNoDuration = errors.New("timeout needs a positive duration")

// timeout succeeds once the agent clock has moved past the duration.
type timeout struct {
	duration time.Duration
	started  time.Time
}

func NewTimeout(params goalop.Params) (goalop.Operation, error) {
	d, ok := params.Duration("duration")
	if !ok || d <= 0 {
		return nil, ErrNoDuration
	}
	return goalop.NewEnterLeaveUpdate(&timeout{duration: d}), nil
}

func (t *timeout) Enter(user goalop.PipeUser) { t.started = user.Now() }

func (t *timeout) Update(user goalop.PipeUser) goalop.Result {
	if user.Now().Sub(t.started) >= t.duration {
		return goalop.Succeeded
	}
	return goalop.InProgress
}

func (t *timeout) Leave(goalop.PipeUser) { t.started = time.Time{} }

func (t *timeout) Clone() goalop.Phases {
	c := *t
	return &c
}

func (t *timeout) ParseParam(name string, value any) bool {
	if name != "duration" {
		return false
	}
	d, ok := goalop.Params{name: value}.Duration(name)
	if ok && d > 0 {
		t.duration = d
	}
	return ok
}

func (t *timeout) Serialize(ar archive.Archive) error {
	if err := ar.Value("duration", &t.duration); err != nil {
		return err
	}
	return ar.Value("started", &t.started)
}

// wait holds the pipe until in-flight non-blocking goals finish: all of them,
// or any one of those pending when the wait started.
type wait struct {
	any     bool
	pending int
}

func NewWait(params goalop.Params) (goalop.Operation, error) {
	mode, _ := params.String("mode")
	return goalop.NewEnterLeaveUpdate(&wait{any: mode == "any"}), nil
}

func (w *wait) Enter(user goalop.PipeUser) { w.pending = user.PendingGoals() }

func (w *wait) Update(user goalop.PipeUser) goalop.Result {
	now := user.PendingGoals()
	if now == 0 || (w.any && now < w.pending) {
		return goalop.Succeeded
	}
	return goalop.InProgress
}

func (w *wait) Leave(goalop.PipeUser) { w.pending = 0 }

func (w *wait) Clone() goalop.Phases {
	c := *w
	return &c
}

func (w *wait) Serialize(ar archive.Archive) error {
	return ar.Value("pending", &w.pending)
}
