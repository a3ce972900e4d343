package admin

import (
	"sync/atomic"

	"github.com/iSundram/gruxi/pkg/models"
)

// OperationModeHolder is a process-wide, lock-free current operation mode
// (spec.md §6 /operation-mode), read on every request's access-log decision
// via models.EffectiveAccessLogEnabled and written only through the admin
// endpoint, which also re-biases the structured log level through
// LogLevelForMode.
type OperationModeHolder struct {
	value atomic.Value // holds models.OperationMode
}

// NewOperationModeHolder creates a holder seeded with initial.
func NewOperationModeHolder(initial models.OperationMode) *OperationModeHolder {
	h := &OperationModeHolder{}
	h.value.Store(initial)
	return h
}

// Get returns the current mode.
func (h *OperationModeHolder) Get() models.OperationMode {
	return h.value.Load().(models.OperationMode)
}

// Set updates the current mode.
func (h *OperationModeHolder) Set(mode models.OperationMode) {
	h.value.Store(mode)
}

// LogLevelForMode maps an operation mode to the structured-log verbosity
// floor it implies (spec.md §6): DEV and DEBUG are verbose, PRODUCTION is
// info-level, and SPEEDTEST suppresses everything but errors.
func LogLevelForMode(mode models.OperationMode) models.LogLevel {
	switch mode {
	case models.ModeDev, models.ModeDebug:
		return models.LogLevelDebug
	case models.ModeSpeedtest:
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}
