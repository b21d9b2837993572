package records

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetByRecordID(ctx context.Context, recordID string) (*MedicalRecord, error)
	Update(ctx context.Context, r *MedicalRecord) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalRecord, int, error)
}

// AccessRepository is append-only. Entries are never updated or deleted.
type AccessRepository interface {
	Append(ctx context.Context, e *AccessEntry) error
	ListByRecord(ctx context.Context, recordID uuid.UUID, limit, offset int) ([]*AccessEntry, int, error)
}

// RevisionRepository is append-only.
type RevisionRepository interface {
	Append(ctx context.Context, rev *Revision) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Revision, error)
	NextRevision(ctx context.Context, recordID uuid.UUID) (int, error)
}
