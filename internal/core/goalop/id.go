package goalop

import "strconv"

// ID names an operation type. OpSubPipe is the sentinel marking a goal that
// references another pipe instead of owning an operation.
type ID uint16

const (
	OpNone ID = iota
	OpSubPipe
	OpBranch
	OpTimeout
	OpWait
	OpRetryGroup
	OpSetValue
	OpLog
	OpCheck
	OpTree

	// FirstUserID is the first id available to game-specific factories.
	FirstUserID ID = 1000
)

var coreNames = map[ID]string{
	OpNone:       "none",
	OpSubPipe:    "subpipe",
	OpBranch:     "branch",
	OpTimeout:    "timeout",
	OpWait:       "wait",
	OpRetryGroup: "retry_group",
	OpSetValue:   "set_value",
	OpLog:        "log",
	OpCheck:      "check",
	OpTree:       "tree",
}

var coreIDs = func() map[string]ID {
	m := make(map[string]ID, len(coreNames))
	for id, name := range coreNames {
		m[name] = id
	}
	return m
}()

func (id ID) String() string {
	if name, ok := coreNames[id]; ok {
		return name
	}
	return "op#" + strconv.Itoa(int(id))
}

// CoreID looks up an engine-core operation id by name.
func CoreID(name string) (ID, bool) {
	id, ok := coreIDs[name]
	return id, ok
}
