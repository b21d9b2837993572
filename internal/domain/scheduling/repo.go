package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new appointment. A live appointment already holding
	// the (doctor, date, time) slot is reported as a double-booking error.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByAppointmentID(ctx context.Context, appointmentID string) (*Appointment, error)
	// Update applies a when the stored version matches a.VersionID. Slot
	// conflicts surface as double-booking, stale versions as conflict.
	Update(ctx context.Context, a *Appointment) error
	// FindLiveBySlot returns the live appointment occupying the slot,
	// excluding excludeID (the candidate itself on reschedule). Not-found
	// means the slot is free.
	FindLiveBySlot(ctx context.Context, doctorID string, date time.Time, timeOfDay string, excludeID uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID string, date *time.Time, limit, offset int) ([]*Appointment, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
}

type ChargeRepository interface {
	Add(ctx context.Context, c *Charge) error
	Remove(ctx context.Context, appointmentID, chargeID uuid.UUID) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Charge, error)
}
