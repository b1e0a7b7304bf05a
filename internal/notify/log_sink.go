package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes one line per intent. It is the only sink in memory mode.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, in Intent) error {
	ev := s.logger.Info().
		Str("intent_id", in.ID.String()).
		Str("kind", string(in.Kind)).
		Str("appointment_id", in.AppointmentID.String()).
		Str("user_id", in.UserID.String()).
		Str("title", in.Title)
	if in.Email != nil {
		ev = ev.Str("email_template", in.Email.TemplateKey)
	}
	ev.Msg(in.Content)
	return nil
}
