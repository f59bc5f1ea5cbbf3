package connection

import (
	"strings"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

// Action is a connectivity-driven state change for one actuator.
type Action struct {
	ChangeState     bool
	TargetState     string
	ResumeLastState bool
}

// ActionFromConfig converts a binding's action section. nil yields the zero
// Action, which does nothing.
func ActionFromConfig(cfg *config.ActionConfig) Action {
	if cfg == nil {
		return Action{}
	}
	return Action{
		ChangeState:     cfg.ChangeState,
		TargetState:     strings.TrimSpace(cfg.TargetState),
		ResumeLastState: cfg.ResumeLastState,
	}
}

// token returns the command to force, or "" when the action does nothing.
// A remembered command wins over the fixed target when resuming.
func (a Action) token(act device.Actuator) string {
	if a.ResumeLastState {
		if last := act.LastCommanded(); last != "" {
			return last
		}
	}
	if a.ChangeState {
		return a.TargetState
	}
	return ""
}

type boundAction struct {
	actuator device.Actuator
	action   Action
}
