package notify

import (
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/internal/models"
)

// LogToaster renders toasts as log lines at a level matching the type.
type LogToaster struct {
	logger zerolog.Logger
}

// NewLogToaster creates a LogToaster.
func NewLogToaster(logger zerolog.Logger) *LogToaster {
	return &LogToaster{logger: logger.With().Str("component", "toast").Logger()}
}

func (t *LogToaster) Toast(n models.Notification) {
	var ev *zerolog.Event
	switch n.Type {
	case models.NotificationError:
		ev = t.logger.Error()
	case models.NotificationWarning:
		ev = t.logger.Warn()
	default:
		ev = t.logger.Info()
	}
	ev.Str("id", n.ID).Str("type", string(n.Type)).Str("title", n.Title).Msg(n.Message)
}
