// Package goalops holds the engine-core goal operations: control flow and
// small utilities every pipe author can use regardless of the game.
package goalops

import (
	"github.com/zeusync/goalpipe/internal/core/goalop"
	"github.com/zeusync/goalpipe/internal/core/observability/log"
)

var _ goalop.Factory = (*Factory)(nil)

// coreArgs names the parameters positional definition arguments bind to.
var coreArgs = map[goalop.ID][]string{
	goalop.OpBranch:     {"label", "condition"},
	goalop.OpTimeout:    {"duration"},
	goalop.OpWait:       {"mode"},
	goalop.OpRetryGroup: {"max"},
	goalop.OpSetValue:   {"key", "value"},
	goalop.OpLog:        {"message", "level"},
	goalop.OpCheck:      {"expr"},
}

// Factory is the factory of last resort over the engine-core operation ids.
// A request that fails to construct is a content error: it is logged and
// yields nil.
type Factory struct {
	logger log.Log
}

func NewFactory(logger log.Log) *Factory {
	if logger == nil {
		logger = log.Nop()
	}
	return &Factory{logger: logger}
}

func (f *Factory) GetGoalOpByName(name string, src goalop.Source, start int, out *goalop.Params) goalop.Operation {
	id, ok := goalop.CoreID(name)
	if !ok {
		return nil
	}
	args, ok := coreArgs[id]
	if !ok {
		return nil
	}
	var base goalop.Params
	if out != nil {
		base = *out
	}
	params := goalop.BindArgs(args, src, start, base)
	if out != nil {
		*out = params
	}
	return f.GetGoalOp(id, params)
}

func (f *Factory) GetGoalOp(id goalop.ID, params goalop.Params) goalop.Operation {
	var (
		op  goalop.Operation
		err error
	)
	switch id {
	case goalop.OpBranch:
		op, err = NewBranch(params)
	case goalop.OpTimeout:
		op, err = NewTimeout(params)
	case goalop.OpWait:
		op, err = NewWait(params)
	case goalop.OpRetryGroup:
		op, err = NewRetryGroup(params)
	case goalop.OpSetValue:
		op, err = NewSetValue(params)
	case goalop.OpLog:
		op, err = NewLog(params)
	case goalop.OpCheck:
		op, err = NewCheck(params)
	default:
		return nil
	}
	if err != nil {
		f.logger.Warn("invalid goal operation parameters", log.Op(id.String()), log.Error(err))
		return nil
	}
	return op
}
