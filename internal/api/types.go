package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	CustomerID          string    `json:"customer_id"`
	ConsultantID        string    `json:"consultant_id,omitempty"`
	ServiceIDs          []string  `json:"service_ids,omitempty"`
	Specialties         []string  `json:"specialties,omitempty"`
	GeneralConsultation bool      `json:"general_consultation,omitempty"`
	AppointmentDate     time.Time `json:"appointment_date"`
	Location            string    `json:"location,omitempty"`
	Kind                string    `json:"kind,omitempty"`
	Notes               string    `json:"notes,omitempty"`
}

type CheckInRequest struct {
	ServiceIDs []string   `json:"service_ids,omitempty"`
	At         *time.Time `json:"at,omitempty"`
	Note       string     `json:"note,omitempty"`
}

type LateCheckInRequest struct {
	ArrivalTime *time.Time `json:"arrival_time,omitempty"`
	ServiceIDs  []string   `json:"service_ids,omitempty"`
	Note        string     `json:"note,omitempty"`
}

type ContactAttempt struct {
	Method  string    `json:"method"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
}

type NoShowRequest struct {
	Reason          string           `json:"reason,omitempty"`
	ContactAttempts []ContactAttempt `json:"contact_attempts,omitempty"`
	Note            string           `json:"note,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID       `json:"id"`
	CustomerID         uuid.UUID       `json:"customer_id"`
	ConsultantID       *uuid.UUID      `json:"consultant_id,omitempty"`
	AvailabilityID     *uuid.UUID      `json:"availability_id,omitempty"`
	AppointmentDate    time.Time       `json:"appointment_date"`
	Status             string          `json:"status"`
	FixedPrice         decimal.Decimal `json:"fixed_price"`
	Location           string          `json:"location"`
	SelectionType      string          `json:"selection_type"`
	Kind               string          `json:"kind"`
	ServiceIDs         []uuid.UUID     `json:"service_ids"`
	Notes              string          `json:"notes,omitempty"`
	MeetingLink        *string         `json:"meeting_link,omitempty"`
	CheckInTime        *time.Time      `json:"check_in_time,omitempty"`
	CheckOutTime       *time.Time      `json:"check_out_time,omitempty"`
	ReminderSent       bool            `json:"reminder_sent"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID      `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type CheckInResponse struct {
	Appointment          AppointmentResponse `json:"appointment"`
	EstimatedWaitMinutes int                 `json:"estimated_wait_minutes"`
	Room                 string              `json:"room"`
}

type LateCheckInResponse struct {
	CheckInResponse
	LateMinutes int      `json:"late_minutes"`
	Warnings    []string `json:"warnings"`
}

type ListResponse struct {
	Items []AppointmentResponse `json:"items"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	ids := a.ServiceIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return AppointmentResponse{
		ID:                 a.ID,
		CustomerID:         a.CustomerID,
		ConsultantID:       a.ConsultantID,
		AvailabilityID:     a.AvailabilityID,
		AppointmentDate:    a.AppointmentDate,
		Status:             string(a.Status),
		FixedPrice:         a.FixedPrice,
		Location:           string(a.Location),
		SelectionType:      string(a.SelectionType),
		Kind:               string(a.Kind),
		ServiceIDs:         ids,
		Notes:              a.Notes,
		MeetingLink:        a.MeetingLink,
		CheckInTime:        a.CheckInTime,
		CheckOutTime:       a.CheckOutTime,
		ReminderSent:       a.ReminderSent,
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toCheckInResponse(r *appointment.CheckInResult) CheckInResponse {
	return CheckInResponse{
		Appointment:          toResponse(r.Appointment),
		EstimatedWaitMinutes: r.EstimatedWaitMinutes,
		Room:                 r.Room,
	}
}
