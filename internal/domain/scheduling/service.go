package scheduling

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/derive"
	"github.com/hms/hms/internal/platform/errs"
	"github.com/hms/hms/internal/platform/sequence"
)

type idAllocator interface {
	Allocate(ctx context.Context, entity sequence.Entity, at time.Time) (string, error)
}

type txRunner interface {
	Write(ctx context.Context, fn func(ctx context.Context) error) error
}

// PatientDirectory checks that a referenced patient exists. Satisfied by the
// patient service.
type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	appointments Repository
	charges      ChargeRepository
	patients     PatientDirectory
	alloc        idAllocator
	tx           txRunner
}

func NewService(appointments Repository, charges ChargeRepository, patients PatientDirectory,
	alloc idAllocator, tx txRunner) *Service {
	return &Service{
		appointments: appointments,
		charges:      charges,
		patients:     patients,
		alloc:        alloc,
		tx:           tx,
	}
}

var timeOfDayPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

var validPriorities = map[string]bool{
	"low": true, "normal": true, "high": true, "urgent": true,
}

func validate(a *Appointment) error {
	fields := map[string]string{}
	if a.PatientID == uuid.Nil {
		fields["patient_id"] = "required"
	}
	if a.DoctorID == "" {
		fields["doctor_id"] = "required"
	}
	if a.Date.IsZero() {
		fields["appointment_date"] = "required"
	}
	if a.TimeOfDay == "" {
		fields["appointment_time"] = "required"
	} else if !timeOfDayPattern.MatchString(a.TimeOfDay) {
		fields["appointment_time"] = "must be HH:MM"
	}
	if a.EstimatedDuration < 0 {
		fields["estimated_duration"] = "must not be negative"
	}
	if a.Priority != "" && !validPriorities[a.Priority] {
		fields["priority"] = "must be one of low, normal, high, urgent"
	}
	if a.ConsultationFee.IsNegative() {
		fields["consultation_fee"] = "must not be negative"
	}
	if len(fields) > 0 {
		return errs.Validation(fields)
	}
	return nil
}

// Create books an appointment. The slot pre-check fails fast on an occupied
// slot; the storage constraint remains the source of truth under concurrency.
func (s *Service) Create(ctx context.Context, a *Appointment, charges []*Charge) error {
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.Status != StatusScheduled {
		return errs.ValidationField("status", "new appointments start as scheduled")
	}
	if a.EstimatedDuration == 0 {
		a.EstimatedDuration = 30
	}
	if a.Type == "" {
		a.Type = "consultation"
	}
	if a.Priority == "" {
		a.Priority = "normal"
	}
	if err := validate(a); err != nil {
		return err
	}
	if err := s.patients.Exists(ctx, a.PatientID); err != nil {
		return err
	}

	err := s.tx.Write(ctx, func(ctx context.Context) error {
		if existing, err := s.appointments.FindLiveBySlot(ctx, a.DoctorID, a.Date, a.TimeOfDay, uuid.Nil); err == nil && existing != nil {
			return errs.DoubleBooking(a.DoctorID, a.DateString(), a.TimeOfDay)
		} else if err != nil && !errs.Is(err, errs.KindNotFound) {
			return err
		}

		id, err := s.alloc.Allocate(ctx, sequence.EntityAppointment, time.Now())
		if err != nil {
			return err
		}
		a.AppointmentID = id

		a.TotalAmount = totalOf(a.ConsultationFee, charges)
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		for _, c := range charges {
			c.AppointmentID = a.ID
			if err := s.charges.Add(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.Charges = charges
	s.enrich(a)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Charges, err = s.charges.ListByAppointment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	s.enrich(a)
	return a, nil
}

func (s *Service) GetByAppointmentID(ctx context.Context, appointmentID string) (*Appointment, error) {
	a, err := s.appointments.GetByAppointmentID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	a.Charges, err = s.charges.ListByAppointment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	s.enrich(a)
	return a, nil
}

// Update changes booking details of a live appointment. Moving the slot
// re-runs the conflict guard, excluding the appointment's own row.
func (s *Service) Update(ctx context.Context, a *Appointment) error {
	if err := validate(a); err != nil {
		return err
	}

	current, err := s.appointments.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if IsTerminal(current.Status) {
		return errs.Locked("appointment", current.Status)
	}
	// Identifier and status are managed elsewhere.
	a.AppointmentID = current.AppointmentID
	a.Status = current.Status

	slotMoved := a.DoctorID != current.DoctorID ||
		!a.Date.Equal(current.Date) || a.TimeOfDay != current.TimeOfDay

	return s.tx.Write(ctx, func(ctx context.Context) error {
		if slotMoved {
			if existing, err := s.appointments.FindLiveBySlot(ctx, a.DoctorID, a.Date, a.TimeOfDay, a.ID); err == nil && existing != nil {
				return errs.DoubleBooking(a.DoctorID, a.DateString(), a.TimeOfDay)
			} else if err != nil && !errs.Is(err, errs.KindNotFound) {
				return err
			}
		}

		charges, err := s.charges.ListByAppointment(ctx, a.ID)
		if err != nil {
			return err
		}
		a.TotalAmount = totalOf(a.ConsultationFee, charges)
		a.Charges = charges

		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		s.enrich(a)
		return nil
	})
}

// UpdateStatus advances the appointment state machine. Terminal states are
// immutable; invalid transitions are rejected with the allowed source states.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus string) (*Appointment, error) {
	if !ValidStatus(newStatus) {
		return nil, errs.ValidationField("status", fmt.Sprintf("unknown status %q", newStatus))
	}

	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(a.Status) {
		return nil, errs.Locked("appointment", a.Status)
	}
	if !CanTransition(a.Status, newStatus) {
		return nil, errs.ValidationField("status",
			fmt.Sprintf("cannot transition from %s to %s", a.Status, newStatus))
	}

	now := time.Now().UTC()
	switch newStatus {
	case StatusInProgress:
		a.ConsultationStart = &now
	case StatusCompleted:
		a.ConsultationEnd = &now
	}
	a.Status = newStatus

	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		return s.appointments.Update(ctx, a)
	}); err != nil {
		return nil, err
	}

	// The status change is committed; a failure here is a read failure.
	charges, err := s.charges.ListByAppointment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Charges = charges
	s.enrich(a)
	return a, nil
}

// Reschedule closes the original appointment and books a replacement slot in
// the same transaction. The original keeps its history and points at the
// replacement.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate time.Time, newTime string) (*Appointment, error) {
	if !timeOfDayPattern.MatchString(newTime) {
		return nil, errs.ValidationField("appointment_time", "must be HH:MM")
	}

	orig, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(orig.Status, StatusRescheduled) {
		if IsTerminal(orig.Status) {
			return nil, errs.Locked("appointment", orig.Status)
		}
		return nil, errs.ValidationField("status",
			fmt.Sprintf("cannot reschedule an appointment in status %s", orig.Status))
	}

	replacement := &Appointment{
		PatientID:         orig.PatientID,
		DoctorID:          orig.DoctorID,
		Date:              newDate,
		TimeOfDay:         newTime,
		EstimatedDuration: orig.EstimatedDuration,
		Type:              orig.Type,
		Priority:          orig.Priority,
		Status:            StatusScheduled,
		Notes:             orig.Notes,
		ConsultationFee:   orig.ConsultationFee,
	}

	err = s.tx.Write(ctx, func(ctx context.Context) error {
		if existing, err := s.appointments.FindLiveBySlot(ctx, replacement.DoctorID, newDate, newTime, orig.ID); err == nil && existing != nil {
			return errs.DoubleBooking(replacement.DoctorID, replacement.DateString(), newTime)
		} else if err != nil && !errs.Is(err, errs.KindNotFound) {
			return err
		}

		apptID, err := s.alloc.Allocate(ctx, sequence.EntityAppointment, time.Now())
		if err != nil {
			return err
		}
		replacement.AppointmentID = apptID
		replacement.TotalAmount = replacement.ConsultationFee

		// Close the original first so its slot is free before the
		// replacement is inserted.
		orig.Status = StatusRescheduled
		if err := s.appointments.Update(ctx, orig); err != nil {
			return err
		}

		if err := s.appointments.Create(ctx, replacement); err != nil {
			return err
		}

		orig.RescheduledTo = &replacement.ID
		return s.appointments.Update(ctx, orig)
	})
	if err != nil {
		return nil, err
	}

	s.enrich(replacement)
	return replacement, nil
}

// AddCharge appends an additional charge and recomputes the total.
func (s *Service) AddCharge(ctx context.Context, c *Charge) (*Appointment, error) {
	if c.Description == "" {
		return nil, errs.ValidationField("description", "required")
	}
	if !c.Amount.IsPositive() {
		return nil, errs.ValidationField("amount", "must be positive")
	}

	a, err := s.appointments.GetByID(ctx, c.AppointmentID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(a.Status) {
		return nil, errs.Locked("appointment", a.Status)
	}

	err = s.tx.Write(ctx, func(ctx context.Context) error {
		if err := s.charges.Add(ctx, c); err != nil {
			return err
		}
		charges, err := s.charges.ListByAppointment(ctx, a.ID)
		if err != nil {
			return err
		}
		a.TotalAmount = totalOf(a.ConsultationFee, charges)
		a.Charges = charges
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.enrich(a)
	return a, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appointments.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		s.enrich(a)
	}
	return items, total, nil
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID string, date *time.Time, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appointments.ListByDoctor(ctx, doctorID, date, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		s.enrich(a)
	}
	return items, total, nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appointments.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		s.enrich(a)
	}
	return items, total, nil
}

func (s *Service) enrich(a *Appointment) {
	a.Duration = derive.VisitDuration(a.ConsultationStart, a.ConsultationEnd, a.EstimatedDuration)
}

func totalOf(fee decimal.Decimal, charges []*Charge) decimal.Decimal {
	amounts := make([]decimal.Decimal, 0, len(charges))
	for _, c := range charges {
		amounts = append(amounts, c.Amount)
	}
	return derive.AppointmentTotal(fee, amounts)
}
