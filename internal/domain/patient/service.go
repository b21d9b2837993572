package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

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

type Service struct {
	patients    Repository
	allergies   AllergyRepository
	medications MedicationRepository
	vitals      VitalsRepository
	alloc       idAllocator
	tx          txRunner
}

func NewService(patients Repository, allergies AllergyRepository, medications MedicationRepository,
	vitals VitalsRepository, alloc idAllocator, tx txRunner) *Service {
	return &Service{
		patients:    patients,
		allergies:   allergies,
		medications: medications,
		vitals:      vitals,
		alloc:       alloc,
		tx:          tx,
	}
}

var validStatuses = map[string]bool{
	StatusActive: true, StatusInactive: true, StatusDeceased: true, StatusTransferred: true,
}

func validate(p *Patient) error {
	fields := map[string]string{}
	if p.FirstName == "" {
		fields["first_name"] = "required"
	}
	if p.LastName == "" {
		fields["last_name"] = "required"
	}
	if p.BirthDate.IsZero() {
		fields["birth_date"] = "required"
	} else if p.BirthDate.After(time.Now()) {
		fields["birth_date"] = "must not be in the future"
	}
	if p.Status != "" && !validStatuses[p.Status] {
		fields["status"] = "must be one of active, inactive, deceased, transferred"
	}
	if len(fields) > 0 {
		return errs.Validation(fields)
	}
	return nil
}

// Create registers a patient, allocating its business identifier and storing
// the optional initial vitals snapshot in the same transaction. The returned
// patient carries the derived age and BMI.
func (s *Service) Create(ctx context.Context, p *Patient, vitals *VitalsSnapshot) error {
	if p.Status == "" {
		p.Status = StatusActive
	}
	if err := validate(p); err != nil {
		return err
	}

	err := s.tx.Write(ctx, func(ctx context.Context) error {
		id, err := s.alloc.Allocate(ctx, sequence.EntityPatient, time.Now())
		if err != nil {
			return err
		}
		p.PatientID = id

		if err := s.patients.Create(ctx, p); err != nil {
			return err
		}
		if vitals != nil {
			vitals.PatientID = p.ID
			if vitals.RecordedAt.IsZero() {
				vitals.RecordedAt = time.Now().UTC()
			}
			if err := s.vitals.Append(ctx, vitals); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.enrich(ctx, p)
}

// Exists reports whether the patient is present, without loading derived
// fields. Other domains use this to validate references.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) error {
	_, err := s.patients.GetByID(ctx, id)
	return err
}

// Get returns the patient with derived fields computed from the latest
// vitals snapshot.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByPatientID looks a patient up by its business identifier.
func (s *Service) GetByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	p, err := s.patients.GetByPatientID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies demographic changes. The business identifier is immutable;
// whatever the caller sends, the stored value wins.
func (s *Service) Update(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}

	current, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.PatientID = current.PatientID

	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		return s.patients.Update(ctx, p)
	}); err != nil {
		return err
	}

	return s.enrich(ctx, p)
}

// Deactivate soft-deletes a patient. The row stays; only the status changes.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Status = StatusInactive
	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		return s.patients.Update(ctx, p)
	}); err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	patients, total, err := s.patients.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	// List rows carry the age only; BMI needs a per-patient vitals lookup.
	for _, p := range patients {
		p.Age = derive.Age(p.BirthDate, time.Now())
	}
	return patients, total, nil
}

// -- Vitals --

// AddVitals appends a snapshot to the patient's vitals history.
func (s *Service) AddVitals(ctx context.Context, v *VitalsSnapshot) error {
	if _, err := s.patients.GetByID(ctx, v.PatientID); err != nil {
		return err
	}
	if v.HeightCm == nil && v.WeightKg == nil && v.SystolicBP == nil &&
		v.HeartRate == nil && v.TemperatureC == nil {
		return errs.ValidationField("vitals", "at least one measurement is required")
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now().UTC()
	}
	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		return s.vitals.Append(ctx, v)
	}); err != nil {
		return err
	}
	v.BMI = derive.BMI(v.HeightCm, v.WeightKg)
	return nil
}

func (s *Service) ListVitals(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalsSnapshot, int, error) {
	snapshots, total, err := s.vitals.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, v := range snapshots {
		v.BMI = derive.BMI(v.HeightCm, v.WeightKg)
	}
	return snapshots, total, nil
}

// -- Allergies --

func (s *Service) AddAllergy(ctx context.Context, a *AllergyEntry) error {
	if a.Substance == "" {
		return errs.ValidationField("substance", "required")
	}
	if _, err := s.patients.GetByID(ctx, a.PatientID); err != nil {
		return err
	}
	if a.NotedAt.IsZero() {
		a.NotedAt = time.Now().UTC()
	}
	return s.tx.Write(ctx, func(ctx context.Context) error {
		return s.allergies.Add(ctx, a)
	})
}

func (s *Service) UpdateAllergy(ctx context.Context, a *AllergyEntry) error {
	if a.Substance == "" {
		return errs.ValidationField("substance", "required")
	}
	return s.tx.Write(ctx, func(ctx context.Context) error {
		return s.allergies.Update(ctx, a)
	})
}

func (s *Service) RemoveAllergy(ctx context.Context, patientID, entryID uuid.UUID) error {
	return s.tx.Write(ctx, func(ctx context.Context) error {
		return s.allergies.Remove(ctx, patientID, entryID)
	})
}

func (s *Service) ListAllergies(ctx context.Context, patientID uuid.UUID) ([]*AllergyEntry, error) {
	return s.allergies.ListByPatient(ctx, patientID)
}

// -- Medications --

func (s *Service) AddMedication(ctx context.Context, m *MedicationEntry) error {
	if m.Name == "" {
		return errs.ValidationField("name", "required")
	}
	if _, err := s.patients.GetByID(ctx, m.PatientID); err != nil {
		return err
	}
	return s.tx.Write(ctx, func(ctx context.Context) error {
		return s.medications.Add(ctx, m)
	})
}

func (s *Service) UpdateMedication(ctx context.Context, m *MedicationEntry) error {
	if m.Name == "" {
		return errs.ValidationField("name", "required")
	}
	return s.tx.Write(ctx, func(ctx context.Context) error {
		return s.medications.Update(ctx, m)
	})
}

func (s *Service) RemoveMedication(ctx context.Context, patientID, entryID uuid.UUID) error {
	return s.tx.Write(ctx, func(ctx context.Context) error {
		return s.medications.Remove(ctx, patientID, entryID)
	})
}

func (s *Service) ListMedications(ctx context.Context, patientID uuid.UUID) ([]*MedicationEntry, error) {
	return s.medications.ListByPatient(ctx, patientID)
}

// enrich fills the derived fields. Height and weight are each carried
// forward from the latest snapshot that recorded them, so a weight-only
// follow-up still yields a BMI against the height already on file.
func (s *Service) enrich(ctx context.Context, p *Patient) error {
	p.Age = derive.Age(p.BirthDate, time.Now())
	height, weight, err := s.vitals.LatestMeasurements(ctx, p.ID)
	if err != nil {
		return err
	}
	p.BMI = derive.BMI(height, weight)
	return nil
}
