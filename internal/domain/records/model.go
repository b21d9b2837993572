package records

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/derive"
)

const (
	StatusDraft     = "draft"
	StatusFinal     = "final"
	StatusAmended   = "amended"
	StatusCorrected = "corrected"
	StatusArchived  = "archived"
)

// MedicalRecord maps to the medical_record table. RecordID is the generated
// business identifier (MR + yyyymm + sequence). The clinical sections are
// stored as jsonb columns.
type MedicalRecord struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	RecordID      string     `db:"record_id" json:"record_id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	DoctorID      string     `db:"doctor_id" json:"doctor_id"`
	VisitDate     time.Time  `db:"visit_date" json:"visit_date"`

	ChiefComplaint *string `db:"chief_complaint" json:"chief_complaint,omitempty"`
	Diagnosis      *string `db:"diagnosis" json:"diagnosis,omitempty"`
	TreatmentPlan  *string `db:"treatment_plan" json:"treatment_plan,omitempty"`
	Notes          *string `db:"notes" json:"notes,omitempty"`

	Vitals        *Vitals         `db:"vitals" json:"vitals,omitempty"`
	Prescriptions []*Prescription `db:"prescriptions" json:"prescriptions,omitempty"`
	LabResults    []*LabResult    `db:"lab_results" json:"lab_results,omitempty"`

	Status string `db:"status" json:"status"`

	SignedBy       *string    `db:"signed_by" json:"signed_by,omitempty"`
	SignedAt       *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	SignatureToken *string    `db:"signature_token" json:"signature_token,omitempty"`

	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// CriticalFlags is derived from LabResults on every read, never stored.
	CriticalFlags []derive.CriticalFlag `db:"-" json:"critical_flags,omitempty"`
}

// Vitals is the point-in-time measurement set captured during the visit.
// BMI is derived from height and weight on read.
type Vitals struct {
	HeightCm     *decimal.Decimal `json:"height_cm,omitempty"`
	WeightKg     *decimal.Decimal `json:"weight_kg,omitempty"`
	TemperatureC *decimal.Decimal `json:"temperature_c,omitempty"`
	SystolicBP   *int             `json:"systolic_bp,omitempty"`
	DiastolicBP  *int             `json:"diastolic_bp,omitempty"`
	HeartRate    *int             `json:"heart_rate,omitempty"`

	BMI *decimal.Decimal `json:"bmi,omitempty"`
}

type Prescription struct {
	Medication   string `json:"medication"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	DurationDays int    `json:"duration_days,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type LabResult struct {
	TestName       string `json:"test_name"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Flag           string `json:"flag,omitempty"`
}

// AccessEntry is one row of the append-only record_access_log.
type AccessEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	RecordID   uuid.UUID `db:"record_id" json:"record_id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	ActorName  string    `db:"actor_name" json:"actor_name,omitempty"`
	AccessType string    `db:"access_type" json:"access_type"`
	Purpose    string    `db:"purpose" json:"purpose,omitempty"`
	At         time.Time `db:"at" json:"at"`
}

const (
	AccessView   = "view"
	AccessEdit   = "edit"
	AccessPrint  = "print"
	AccessExport = "export"
)

// Revision is a pre-change snapshot of a signed record, written before an
// amendment or correction is applied.
type Revision struct {
	ID        uuid.UUID `db:"id" json:"id"`
	RecordID  uuid.UUID `db:"record_id" json:"record_id"`
	Revision  int       `db:"revision" json:"revision"`
	Snapshot  []byte    `db:"snapshot" json:"snapshot"`
	Reason    string    `db:"reason" json:"reason"`
	ChangedBy string    `db:"changed_by" json:"changed_by"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

func validAccessType(t string) bool {
	switch t {
	case AccessView, AccessEdit, AccessPrint, AccessExport:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusDraft, StatusFinal, StatusAmended, StatusCorrected, StatusArchived:
		return true
	}
	return false
}
