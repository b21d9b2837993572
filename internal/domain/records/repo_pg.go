package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Medical Record Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, record_id, patient_id, appointment_id, doctor_id, visit_date,
	chief_complaint, diagnosis, treatment_plan, notes,
	vitals, prescriptions, lab_results,
	status, signed_by, signed_at, signature_token,
	version_id, created_at, updated_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var rec MedicalRecord
	var vitalsRaw, rxRaw, labsRaw []byte
	err := row.Scan(&rec.ID, &rec.RecordID, &rec.PatientID, &rec.AppointmentID, &rec.DoctorID, &rec.VisitDate,
		&rec.ChiefComplaint, &rec.Diagnosis, &rec.TreatmentPlan, &rec.Notes,
		&vitalsRaw, &rxRaw, &labsRaw,
		&rec.Status, &rec.SignedBy, &rec.SignedAt, &rec.SignatureToken,
		&rec.VersionID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("medical record")
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalSections(&rec, vitalsRaw, rxRaw, labsRaw); err != nil {
		return nil, err
	}
	return &rec, nil
}

func unmarshalSections(rec *MedicalRecord, vitalsRaw, rxRaw, labsRaw []byte) error {
	if len(vitalsRaw) > 0 {
		if err := json.Unmarshal(vitalsRaw, &rec.Vitals); err != nil {
			return fmt.Errorf("decode vitals for %s: %w", rec.RecordID, err)
		}
	}
	if len(rxRaw) > 0 {
		if err := json.Unmarshal(rxRaw, &rec.Prescriptions); err != nil {
			return fmt.Errorf("decode prescriptions for %s: %w", rec.RecordID, err)
		}
	}
	if len(labsRaw) > 0 {
		if err := json.Unmarshal(labsRaw, &rec.LabResults); err != nil {
			return fmt.Errorf("decode lab results for %s: %w", rec.RecordID, err)
		}
	}
	return nil
}

func marshalSections(rec *MedicalRecord) (vitalsRaw, rxRaw, labsRaw []byte, err error) {
	if rec.Vitals != nil {
		if vitalsRaw, err = json.Marshal(rec.Vitals); err != nil {
			return nil, nil, nil, err
		}
	}
	if rec.Prescriptions != nil {
		if rxRaw, err = json.Marshal(rec.Prescriptions); err != nil {
			return nil, nil, nil, err
		}
	}
	if rec.LabResults != nil {
		if labsRaw, err = json.Marshal(rec.LabResults); err != nil {
			return nil, nil, nil, err
		}
	}
	return vitalsRaw, rxRaw, labsRaw, nil
}

func (r *repoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	vitalsRaw, rxRaw, labsRaw, err := marshalSections(rec)
	if err != nil {
		return err
	}
	rec.ID = uuid.New()
	rec.VersionID = 1
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_record (id, record_id, patient_id, appointment_id, doctor_id, visit_date,
			chief_complaint, diagnosis, treatment_plan, notes,
			vitals, prescriptions, lab_results, status, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.ID, rec.RecordID, rec.PatientID, rec.AppointmentID, rec.DoctorID, rec.VisitDate,
		rec.ChiefComplaint, rec.Diagnosis, rec.TreatmentPlan, rec.Notes,
		vitalsRaw, rxRaw, labsRaw, rec.Status, rec.VersionID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errs.Conflict(fmt.Sprintf("record identifier %s already exists", rec.RecordID), err)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_record WHERE id = $1`, id))
}

func (r *repoPG) GetByRecordID(ctx context.Context, recordID string) (*MedicalRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_record WHERE record_id = $1`, recordID))
}

func (r *repoPG) Update(ctx context.Context, rec *MedicalRecord) error {
	vitalsRaw, rxRaw, labsRaw, err := marshalSections(rec)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_record SET doctor_id=$2, visit_date=$3,
			chief_complaint=$4, diagnosis=$5, treatment_plan=$6, notes=$7,
			vitals=$8, prescriptions=$9, lab_results=$10,
			status=$11, signed_by=$12, signed_at=$13, signature_token=$14,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $15`,
		rec.ID, rec.DoctorID, rec.VisitDate,
		rec.ChiefComplaint, rec.Diagnosis, rec.TreatmentPlan, rec.Notes,
		vitalsRaw, rxRaw, labsRaw,
		rec.Status, rec.SignedBy, rec.SignedAt, rec.SignatureToken,
		rec.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, rec.ID); getErr != nil {
			return getErr
		}
		return errs.Conflict(fmt.Sprintf("record %s was modified concurrently", rec.RecordID), nil)
	}
	rec.VersionID++
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+`
		FROM medical_record WHERE patient_id = $1
		ORDER BY visit_date DESC, created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectRecords(rows)
	return items, total, err
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalRecord, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if doctorID, ok := params["doctor_id"]; ok && doctorID != "" {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, doctorID)
		idx++
	}
	if status, ok := params["status"]; ok && status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if from, ok := params["visit_date_from"]; ok && from != "" {
		where += fmt.Sprintf(` AND visit_date >= $%d`, idx)
		args = append(args, from)
		idx++
	}
	if to, ok := params["visit_date_to"]; ok && to != "" {
		where += fmt.Sprintf(` AND visit_date <= $%d`, idx)
		args = append(args, to)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_record `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM medical_record %s ORDER BY visit_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		recordCols, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectRecords(rows)
	return items, total, err
}

func collectRecords(rows pgx.Rows) ([]*MedicalRecord, error) {
	defer rows.Close()
	var items []*MedicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

// =========== Access Log Repository ===========

type accessRepoPG struct{ pool *pgxpool.Pool }

func NewAccessRepoPG(pool *pgxpool.Pool) AccessRepository { return &accessRepoPG{pool: pool} }

func (r *accessRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *accessRepoPG) Append(ctx context.Context, e *AccessEntry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO record_access_log (id, record_id, actor_id, actor_name, access_type, purpose)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.RecordID, e.ActorID, e.ActorName, e.AccessType, e.Purpose)
	return err
}

func (r *accessRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID, limit, offset int) ([]*AccessEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM record_access_log WHERE record_id = $1`, recordID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, record_id, actor_id, actor_name, access_type, purpose, at
		FROM record_access_log WHERE record_id = $1
		ORDER BY at, id LIMIT $2 OFFSET $3`,
		recordID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AccessEntry
	for rows.Next() {
		var e AccessEntry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.ActorID, &e.ActorName, &e.AccessType, &e.Purpose, &e.At); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

// =========== Revision Repository ===========

type revisionRepoPG struct{ pool *pgxpool.Pool }

func NewRevisionRepoPG(pool *pgxpool.Pool) RevisionRepository { return &revisionRepoPG{pool: pool} }

func (r *revisionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *revisionRepoPG) Append(ctx context.Context, rev *Revision) error {
	rev.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO record_revision (id, record_id, revision, snapshot, reason, changed_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		rev.ID, rev.RecordID, rev.Revision, rev.Snapshot, rev.Reason, rev.ChangedBy)
	return err
}

func (r *revisionRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Revision, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, record_id, revision, snapshot, reason, changed_by, changed_at
		FROM record_revision WHERE record_id = $1 ORDER BY revision`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.RecordID, &rev.Revision, &rev.Snapshot, &rev.Reason, &rev.ChangedBy, &rev.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &rev)
	}
	return items, rows.Err()
}

func (r *revisionRepoPG) NextRevision(ctx context.Context, recordID uuid.UUID) (int, error) {
	var next int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(revision), 0) + 1 FROM record_revision WHERE record_id = $1`, recordID).Scan(&next)
	return next, err
}
