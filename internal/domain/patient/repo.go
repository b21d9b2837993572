package patient

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByPatientID(ctx context.Context, patientID string) (*Patient, error)
	// Update applies p when the stored version matches p.VersionID and bumps
	// the version. A version mismatch is reported as a conflict.
	Update(ctx context.Context, p *Patient) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}

type AllergyRepository interface {
	Add(ctx context.Context, a *AllergyEntry) error
	Get(ctx context.Context, patientID, entryID uuid.UUID) (*AllergyEntry, error)
	Update(ctx context.Context, a *AllergyEntry) error
	Remove(ctx context.Context, patientID, entryID uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AllergyEntry, error)
}

type MedicationRepository interface {
	Add(ctx context.Context, m *MedicationEntry) error
	Get(ctx context.Context, patientID, entryID uuid.UUID) (*MedicationEntry, error)
	Update(ctx context.Context, m *MedicationEntry) error
	Remove(ctx context.Context, patientID, entryID uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationEntry, error)
}

type VitalsRepository interface {
	Append(ctx context.Context, v *VitalsSnapshot) error
	// LatestMeasurements returns the most recent recorded height and weight.
	// Each is carried forward independently, so they may come from different
	// snapshots; a measurement never recorded comes back nil.
	LatestMeasurements(ctx context.Context, patientID uuid.UUID) (height, weight *decimal.Decimal, err error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalsSnapshot, int, error)
}
