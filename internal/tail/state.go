package tail

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/osteele/pbs-jobs/internal/log"
)

// ----------------------------------
// session events
// ----------------------------------
type SessionEvent int

const (
	Open SessionEvent = iota
	Truncate
	Resume
	Close
)

func (se SessionEvent) String() string {
	return [...]string{"Open", "Truncate", "Resume", "Close"}[se]
}

// ----------------------------------
// session states
// ----------------------------------
type SessionState int

const (
	Init SessionState = iota
	Streaming
	Reset
	Terminated
)

func (ss SessionState) String() string {
	return [...]string{"Init", "Streaming", "Reset", "Terminated"}[ss]
}

func newSessionState() *fsm.FSM {
	return fsm.NewFSM(
		Init.String(), fsm.Events{
			{
				Name: Open.String(),
				Src:  []string{Init.String()},
				Dst:  Streaming.String(),
			}, {
				Name: Truncate.String(),
				Src:  []string{Streaming.String()},
				Dst:  Reset.String(),
			}, {
				Name: Resume.String(),
				Src:  []string{Reset.String()},
				Dst:  Streaming.String(),
			}, {
				Name: Close.String(),
				Src:  []string{Init.String(), Streaming.String(), Reset.String()},
				Dst:  Terminated.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, event *fsm.Event) {
				log.Logger().Debug("tail session transition",
					zap.Any("session", event.Args[0]),
					zap.String("source", event.Src),
					zap.String("destination", event.Dst),
					zap.String("event", event.Event))
			},
		},
	)
}
