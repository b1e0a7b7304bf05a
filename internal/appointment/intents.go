package appointment

import (
	"fmt"

	"github.com/hackgods/consultation-scheduling/internal/notify"
)

const intentType = "appointment"

func (s *Service) actionURL(a *Appointment) string {
	return s.cfg.ActionBaseURL + "/" + a.ID.String()
}

func (s *Service) emailContext(a *Appointment) map[string]any {
	ctx := map[string]any{
		"appointment_id":   a.ID.String(),
		"appointment_date": s.localTime(a.AppointmentDate),
		"status":           string(a.Status),
		"location":         string(a.Location),
	}
	if a.MeetingLink != nil {
		ctx["meeting_link"] = *a.MeetingLink
	}
	return ctx
}

// customerIntent builds an intent for the appointment's customer. An empty
// templateKey sends no email.
func (s *Service) customerIntent(kind notify.Kind, a *Appointment, title, content, templateKey string) notify.Intent {
	in := notify.Intent{
		Kind:          kind,
		AppointmentID: a.ID,
		UserID:        a.CustomerID,
		Title:         title,
		Content:       content,
		Type:          intentType,
		ActionURL:     s.actionURL(a),
	}
	if templateKey != "" {
		in.Email = &notify.Email{TemplateKey: templateKey, Context: s.emailContext(a)}
	}
	return in
}

func (s *Service) consultantIntent(kind notify.Kind, a *Appointment, c *ConsultantProfile, title, content string) notify.Intent {
	return notify.Intent{
		Kind:          kind,
		AppointmentID: a.ID,
		UserID:        c.UserID,
		Title:         title,
		Content:       content,
		Type:          intentType,
		ActionURL:     s.actionURL(a),
	}
}

func (s *Service) bookedIntents(a *Appointment, c *ConsultantProfile) []notify.Intent {
	when := s.localTime(a.AppointmentDate)
	content := fmt.Sprintf("Your appointment on %s is booked.", when)
	if a.MeetingLink != nil {
		content += " Join online at " + *a.MeetingLink + "."
	}
	return []notify.Intent{
		s.customerIntent(notify.KindBooked, a, "Appointment booked", content, "appointment_booked"),
		s.consultantIntent(notify.KindBooked, a, c, "New appointment",
			fmt.Sprintf("A new %s appointment was booked for %s.", a.Location, when)),
	}
}

func (s *Service) cancelledIntents(kind notify.Kind, a *Appointment, c *ConsultantProfile, reason string) []notify.Intent {
	when := s.localTime(a.AppointmentDate)
	intents := []notify.Intent{
		s.customerIntent(kind, a, "Appointment cancelled",
			fmt.Sprintf("Your appointment on %s was cancelled: %s.", when, reason), "appointment_cancelled"),
	}
	if c != nil {
		intents = append(intents, s.consultantIntent(kind, a, c, "Appointment cancelled",
			fmt.Sprintf("The %s appointment was cancelled: %s.", when, reason)))
	}
	return intents
}
