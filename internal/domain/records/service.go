package records

import (
	"context"
	"encoding/json"
	"fmt"
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

type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) error
}

// Accessor identifies who is touching a record and why. Every read and write
// of clinical content leaves a row in the access log.
type Accessor struct {
	ID      string
	Name    string
	Purpose string
}

type Service struct {
	records   Repository
	access    AccessRepository
	revisions RevisionRepository
	patients  PatientDirectory
	alloc     idAllocator
	tx        txRunner
}

func NewService(records Repository, access AccessRepository, revisions RevisionRepository,
	patients PatientDirectory, alloc idAllocator, tx txRunner) *Service {
	return &Service{
		records:   records,
		access:    access,
		revisions: revisions,
		patients:  patients,
		alloc:     alloc,
		tx:        tx,
	}
}

func validate(r *MedicalRecord) error {
	fields := map[string]string{}
	if r.PatientID == uuid.Nil {
		fields["patient_id"] = "required"
	}
	if r.DoctorID == "" {
		fields["doctor_id"] = "required"
	}
	if r.VisitDate.IsZero() {
		fields["visit_date"] = "required"
	}
	for i, rx := range r.Prescriptions {
		if rx.Medication == "" {
			fields[fmt.Sprintf("prescriptions[%d].medication", i)] = "required"
		}
	}
	for i, lab := range r.LabResults {
		if lab.TestName == "" {
			fields[fmt.Sprintf("lab_results[%d].test_name", i)] = "required"
		}
	}
	if len(fields) > 0 {
		return errs.Validation(fields)
	}
	return nil
}

// Create opens a new draft record.
func (s *Service) Create(ctx context.Context, r *MedicalRecord) error {
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if r.Status != StatusDraft {
		return errs.ValidationField("status", "new records start as draft")
	}
	if err := validate(r); err != nil {
		return err
	}
	if err := s.patients.Exists(ctx, r.PatientID); err != nil {
		return err
	}

	err := s.tx.Write(ctx, func(ctx context.Context) error {
		id, err := s.alloc.Allocate(ctx, sequence.EntityMedicalRecord, time.Now())
		if err != nil {
			return err
		}
		r.RecordID = id
		return s.records.Create(ctx, r)
	})
	if err != nil {
		return err
	}
	s.enrich(r)
	return nil
}

// Get fetches a record and logs the view.
func (s *Service) Get(ctx context.Context, id uuid.UUID, by Accessor) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.logAccess(ctx, r.ID, by, AccessView); err != nil {
		return nil, err
	}
	s.enrich(r)
	return r, nil
}

func (s *Service) GetByRecordID(ctx context.Context, recordID string, by Accessor) (*MedicalRecord, error) {
	r, err := s.records.GetByRecordID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.logAccess(ctx, r.ID, by, AccessView); err != nil {
		return nil, err
	}
	s.enrich(r)
	return r, nil
}

// Update edits a draft in place. Signed records reject direct edits; they
// change only through Amend or Correct.
func (s *Service) Update(ctx context.Context, r *MedicalRecord, by Accessor) error {
	if err := validate(r); err != nil {
		return err
	}

	current, err := s.records.GetByID(ctx, r.ID)
	if err != nil {
		return err
	}
	if current.Status != StatusDraft {
		return errs.Locked("medical record", current.Status)
	}
	r.RecordID = current.RecordID
	r.PatientID = current.PatientID
	r.Status = current.Status

	return s.tx.Write(ctx, func(ctx context.Context) error {
		if err := s.records.Update(ctx, r); err != nil {
			return err
		}
		if err := s.logAccess(ctx, r.ID, by, AccessEdit); err != nil {
			return err
		}
		s.enrich(r)
		return nil
	})
}

// Sign finalizes a draft. Signing is one-way: the record becomes immutable to
// direct edits and carries the signer, timestamp and signature token. An
// empty token gets a generated one.
func (s *Service) Sign(ctx context.Context, id uuid.UUID, token string, by Accessor) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusDraft {
		return nil, errs.Locked("medical record", r.Status)
	}

	now := time.Now().UTC()
	if token == "" {
		token = uuid.NewString()
	}
	r.Status = StatusFinal
	r.SignedBy = &by.ID
	r.SignedAt = &now
	r.SignatureToken = &token

	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		if err := s.records.Update(ctx, r); err != nil {
			return err
		}
		return s.logAccess(ctx, r.ID, by, AccessEdit)
	}); err != nil {
		return nil, err
	}
	s.enrich(r)
	return r, nil
}

// Amend applies changes to a signed record. The pre-change content is
// snapshotted as a revision so the signed history stays reconstructible.
func (s *Service) Amend(ctx context.Context, id uuid.UUID, changes *MedicalRecord, reason string, by Accessor) (*MedicalRecord, error) {
	return s.revise(ctx, id, changes, reason, by, StatusAmended)
}

// Correct is an amendment recorded as an error fix rather than an addendum.
func (s *Service) Correct(ctx context.Context, id uuid.UUID, changes *MedicalRecord, reason string, by Accessor) (*MedicalRecord, error) {
	return s.revise(ctx, id, changes, reason, by, StatusCorrected)
}

func (s *Service) revise(ctx context.Context, id uuid.UUID, changes *MedicalRecord, reason string, by Accessor, newStatus string) (*MedicalRecord, error) {
	if reason == "" {
		return nil, errs.ValidationField("reason", "required")
	}

	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusDraft:
		return nil, errs.ValidationField("status", "draft records are edited directly, not amended")
	case StatusArchived:
		return nil, errs.Locked("medical record", r.Status)
	}

	snapshot, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	applyChanges(r, changes)
	r.Status = newStatus
	if err := validate(r); err != nil {
		return nil, err
	}

	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		n, err := s.revisions.NextRevision(ctx, r.ID)
		if err != nil {
			return err
		}
		if err := s.revisions.Append(ctx, &Revision{
			RecordID:  r.ID,
			Revision:  n,
			Snapshot:  snapshot,
			Reason:    reason,
			ChangedBy: by.ID,
		}); err != nil {
			return err
		}
		if err := s.records.Update(ctx, r); err != nil {
			return err
		}
		return s.logAccess(ctx, r.ID, by, AccessEdit)
	}); err != nil {
		return nil, err
	}
	s.enrich(r)
	return r, nil
}

func applyChanges(r, changes *MedicalRecord) {
	if changes.ChiefComplaint != nil {
		r.ChiefComplaint = changes.ChiefComplaint
	}
	if changes.Diagnosis != nil {
		r.Diagnosis = changes.Diagnosis
	}
	if changes.TreatmentPlan != nil {
		r.TreatmentPlan = changes.TreatmentPlan
	}
	if changes.Notes != nil {
		r.Notes = changes.Notes
	}
	if changes.Vitals != nil {
		r.Vitals = changes.Vitals
	}
	if changes.Prescriptions != nil {
		r.Prescriptions = changes.Prescriptions
	}
	if changes.LabResults != nil {
		r.LabResults = changes.LabResults
	}
}

// Archive retires a record. Archived records are immutable.
func (s *Service) Archive(ctx context.Context, id uuid.UUID, by Accessor) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusArchived {
		return nil, errs.Locked("medical record", r.Status)
	}

	r.Status = StatusArchived
	if err := s.tx.Write(ctx, func(ctx context.Context) error {
		if err := s.records.Update(ctx, r); err != nil {
			return err
		}
		return s.logAccess(ctx, r.ID, by, AccessEdit)
	}); err != nil {
		return nil, err
	}
	s.enrich(r)
	return r, nil
}

// LogAccess records an explicit access event, for example a print or export
// performed outside the API's own read path.
func (s *Service) LogAccess(ctx context.Context, recordID uuid.UUID, accessType string, by Accessor) error {
	if !validAccessType(accessType) {
		return errs.ValidationField("access_type", "must be one of view, edit, print, export")
	}
	if _, err := s.records.GetByID(ctx, recordID); err != nil {
		return err
	}
	return s.logAccess(ctx, recordID, by, accessType)
}

func (s *Service) AccessLog(ctx context.Context, recordID uuid.UUID, limit, offset int) ([]*AccessEntry, int, error) {
	if _, err := s.records.GetByID(ctx, recordID); err != nil {
		return nil, 0, err
	}
	return s.access.ListByRecord(ctx, recordID, limit, offset)
}

func (s *Service) Revisions(ctx context.Context, recordID uuid.UUID) ([]*Revision, error) {
	if _, err := s.records.GetByID(ctx, recordID); err != nil {
		return nil, err
	}
	return s.revisions.ListByRecord(ctx, recordID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	items, total, err := s.records.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, r := range items {
		s.enrich(r)
	}
	return items, total, nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalRecord, int, error) {
	items, total, err := s.records.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, r := range items {
		s.enrich(r)
	}
	return items, total, nil
}

func (s *Service) logAccess(ctx context.Context, recordID uuid.UUID, by Accessor, accessType string) error {
	return s.access.Append(ctx, &AccessEntry{
		RecordID:   recordID,
		ActorID:    by.ID,
		ActorName:  by.Name,
		AccessType: accessType,
		Purpose:    by.Purpose,
	})
}

func (s *Service) enrich(r *MedicalRecord) {
	if r.Vitals != nil {
		r.Vitals.BMI = derive.BMI(r.Vitals.HeightCm, r.Vitals.WeightKg)
	}
	labs := make([]derive.LabResult, 0, len(r.LabResults))
	for _, l := range r.LabResults {
		labs = append(labs, derive.LabResult{TestName: l.TestName, Value: l.Value, Flag: l.Flag})
	}
	r.CriticalFlags = derive.CriticalLabFlags(labs)
}
