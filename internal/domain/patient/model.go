package patient

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Patient statuses. Patients are never hard-deleted; deactivation sets
// status to inactive.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusDeceased    = "deceased"
	StatusTransferred = "transferred"
)

// Patient maps to the patient table. PatientID is the generated business
// identifier (P + year + sequence) and never changes once assigned.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	BirthDate time.Time `db:"birth_date" json:"birth_date"`
	Gender    *string   `db:"gender" json:"gender,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Address   *string   `db:"address" json:"address,omitempty"`
	Status    string    `db:"status" json:"status"`
	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Derived on read, never stored.
	Age int              `db:"-" json:"age"`
	BMI *decimal.Decimal `db:"-" json:"bmi,omitempty"`
}

// AllergyEntry maps to the patient_allergy table. Entries are addressable
// individually by (patient_id, id).
type AllergyEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Substance string    `db:"substance" json:"substance"`
	Reaction  *string   `db:"reaction" json:"reaction,omitempty"`
	Severity  *string   `db:"severity" json:"severity,omitempty"`
	NotedAt   time.Time `db:"noted_at" json:"noted_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MedicationEntry maps to the patient_medication table.
type MedicationEntry struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Name      string     `db:"name" json:"name"`
	Dosage    *string    `db:"dosage" json:"dosage,omitempty"`
	Frequency *string    `db:"frequency" json:"frequency,omitempty"`
	StartedAt *time.Time `db:"started_at" json:"started_at,omitempty"`
	StoppedAt *time.Time `db:"stopped_at" json:"stopped_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// VitalsSnapshot maps to the patient_vitals table. Snapshots are appended,
// never edited; the latest one drives the derived BMI.
type VitalsSnapshot struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	PatientID    uuid.UUID        `db:"patient_id" json:"patient_id"`
	HeightCm     *decimal.Decimal `db:"height_cm" json:"height_cm,omitempty"`
	WeightKg     *decimal.Decimal `db:"weight_kg" json:"weight_kg,omitempty"`
	SystolicBP   *int             `db:"systolic_bp" json:"systolic_bp,omitempty"`
	DiastolicBP  *int             `db:"diastolic_bp" json:"diastolic_bp,omitempty"`
	HeartRate    *int             `db:"heart_rate" json:"heart_rate,omitempty"`
	TemperatureC *decimal.Decimal `db:"temperature_c" json:"temperature_c,omitempty"`
	RecordedAt   time.Time        `db:"recorded_at" json:"recorded_at"`

	// Derived from this snapshot on read.
	BMI *decimal.Decimal `db:"-" json:"bmi,omitempty"`
}
