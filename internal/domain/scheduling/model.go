package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Appointment maps to the appointment table. AppointmentID is the generated
// business identifier (A + yyyymm + sequence). Date and TimeOfDay are stored
// as separate columns and only combined for display.
type Appointment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID string    `db:"appointment_id" json:"appointment_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID      string    `db:"doctor_id" json:"doctor_id"`
	Date          time.Time `db:"appointment_date" json:"appointment_date"`
	TimeOfDay     string    `db:"appointment_time" json:"appointment_time"`

	EstimatedDuration int     `db:"estimated_duration" json:"estimated_duration"`
	Type              string  `db:"appointment_type" json:"appointment_type"`
	Priority          string  `db:"priority" json:"priority"`
	Status            string  `db:"status" json:"status"`
	Notes             *string `db:"notes" json:"notes,omitempty"`

	ConsultationStart *time.Time `db:"consultation_start" json:"consultation_start,omitempty"`
	ConsultationEnd   *time.Time `db:"consultation_end" json:"consultation_end,omitempty"`

	ConsultationFee decimal.Decimal `db:"consultation_fee" json:"consultation_fee"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`

	// RescheduledTo links a rescheduled appointment to its replacement.
	RescheduledTo *uuid.UUID `db:"rescheduled_to" json:"rescheduled_to,omitempty"`

	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Charges []*Charge `db:"-" json:"additional_charges,omitempty"`

	// Duration is derived: actual consultation minutes when both timestamps
	// are present, else the estimate.
	Duration int `db:"-" json:"duration"`
}

// DateString renders the appointment date in ISO form.
func (a *Appointment) DateString() string { return a.Date.Format("2006-01-02") }

// Charge maps to the appointment_charge table.
type Charge struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AppointmentID uuid.UUID       `db:"appointment_id" json:"appointment_id"`
	Description   string          `db:"description" json:"description"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
