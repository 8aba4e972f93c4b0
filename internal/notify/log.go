package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hackgods/resource-scheduling-engine/internal/appointment"
)

// LogSink writes intents to the log. Used when no broker is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notify").Logger()}
}

func (s *LogSink) Emit(_ context.Context, intent appointment.Intent) error {
	evt := s.logger.Info().
		Str("intent_id", intent.ID.String()).
		Str("kind", string(intent.Kind)).
		Str("target_id", intent.TargetID.String()).
		Time("scheduled_for", intent.ScheduledFor)
	if intent.AppointmentID != nil {
		evt = evt.Str("appointment_id", intent.AppointmentID.String())
	}
	if intent.Channel != "" {
		evt = evt.Str("channel", intent.Channel)
	}
	evt.Msg(intent.Message)
	return nil
}
