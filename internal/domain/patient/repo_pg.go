package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Patient Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, patient_id, first_name, last_name, birth_date, gender,
	phone, email, address, status, version_id, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.Address, &p.Status, &p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("patient")
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, patient_id, first_name, last_name, birth_date, gender,
			phone, email, address, status, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.PatientID, p.FirstName, p.LastName, p.BirthDate, p.Gender,
		p.Phone, p.Email, p.Address, p.Status, p.VersionID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errs.Conflict(fmt.Sprintf("patient identifier %s already exists", p.PatientID), err)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE patient_id = $1`, patientID))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, birth_date=$4, gender=$5,
			phone=$6, email=$7, address=$8, status=$9,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $10`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender,
		p.Phone, p.Email, p.Address, p.Status, p.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the row is gone or another writer bumped the version.
		if _, getErr := r.GetByID(ctx, p.ID); getErr != nil {
			return getErr
		}
		return errs.Conflict(fmt.Sprintf("patient %s was modified concurrently", p.PatientID), nil)
	}
	p.VersionID++
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if status, ok := params["status"]; ok && status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if name, ok := params["name"]; ok && name != "" {
		where += fmt.Sprintf(` AND (first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+name+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM patient %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		patientCols, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}

// =========== Allergy Repository ===========

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository { return &allergyRepoPG{pool: pool} }

func (r *allergyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const allergyCols = `id, patient_id, substance, reaction, severity, noted_at, created_at, updated_at`

func scanAllergy(row pgx.Row) (*AllergyEntry, error) {
	var a AllergyEntry
	err := row.Scan(&a.ID, &a.PatientID, &a.Substance, &a.Reaction, &a.Severity,
		&a.NotedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("allergy entry")
	}
	return &a, err
}

func (r *allergyRepoPG) Add(ctx context.Context, a *AllergyEntry) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_allergy (id, patient_id, substance, reaction, severity, noted_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.PatientID, a.Substance, a.Reaction, a.Severity, a.NotedAt)
	return err
}

func (r *allergyRepoPG) Get(ctx context.Context, patientID, entryID uuid.UUID) (*AllergyEntry, error) {
	return scanAllergy(r.conn(ctx).QueryRow(ctx,
		`SELECT `+allergyCols+` FROM patient_allergy WHERE patient_id = $1 AND id = $2`, patientID, entryID))
}

func (r *allergyRepoPG) Update(ctx context.Context, a *AllergyEntry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_allergy SET substance=$3, reaction=$4, severity=$5, updated_at=NOW()
		WHERE patient_id = $1 AND id = $2`,
		a.PatientID, a.ID, a.Substance, a.Reaction, a.Severity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("allergy entry")
	}
	return nil
}

func (r *allergyRepoPG) Remove(ctx context.Context, patientID, entryID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM patient_allergy WHERE patient_id = $1 AND id = $2`, patientID, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("allergy entry")
	}
	return nil
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AllergyEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+allergyCols+` FROM patient_allergy WHERE patient_id = $1 ORDER BY noted_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AllergyEntry
	for rows.Next() {
		a, err := scanAllergy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository { return &medicationRepoPG{pool: pool} }

func (r *medicationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const medicationCols = `id, patient_id, name, dosage, frequency, started_at, stopped_at, created_at, updated_at`

func scanMedication(row pgx.Row) (*MedicationEntry, error) {
	var m MedicationEntry
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.Frequency,
		&m.StartedAt, &m.StoppedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("medication entry")
	}
	return &m, err
}

func (r *medicationRepoPG) Add(ctx context.Context, m *MedicationEntry) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_medication (id, patient_id, name, dosage, frequency, started_at, stopped_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.PatientID, m.Name, m.Dosage, m.Frequency, m.StartedAt, m.StoppedAt)
	return err
}

func (r *medicationRepoPG) Get(ctx context.Context, patientID, entryID uuid.UUID) (*MedicationEntry, error) {
	return scanMedication(r.conn(ctx).QueryRow(ctx,
		`SELECT `+medicationCols+` FROM patient_medication WHERE patient_id = $1 AND id = $2`, patientID, entryID))
}

func (r *medicationRepoPG) Update(ctx context.Context, m *MedicationEntry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_medication SET name=$3, dosage=$4, frequency=$5, started_at=$6, stopped_at=$7, updated_at=NOW()
		WHERE patient_id = $1 AND id = $2`,
		m.PatientID, m.ID, m.Name, m.Dosage, m.Frequency, m.StartedAt, m.StoppedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("medication entry")
	}
	return nil
}

func (r *medicationRepoPG) Remove(ctx context.Context, patientID, entryID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM patient_medication WHERE patient_id = $1 AND id = $2`, patientID, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("medication entry")
	}
	return nil
}

func (r *medicationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medicationCols+` FROM patient_medication WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*MedicationEntry
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// =========== Vitals Repository ===========

type vitalsRepoPG struct{ pool *pgxpool.Pool }

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository { return &vitalsRepoPG{pool: pool} }

func (r *vitalsRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const vitalsCols = `id, patient_id, height_cm, weight_kg, systolic_bp, diastolic_bp,
	heart_rate, temperature_c, recorded_at`

func scanVitals(row pgx.Row) (*VitalsSnapshot, error) {
	var v VitalsSnapshot
	err := row.Scan(&v.ID, &v.PatientID, &v.HeightCm, &v.WeightKg, &v.SystolicBP, &v.DiastolicBP,
		&v.HeartRate, &v.TemperatureC, &v.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("vitals snapshot")
	}
	return &v, err
}

func (r *vitalsRepoPG) Append(ctx context.Context, v *VitalsSnapshot) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_vitals (id, patient_id, height_cm, weight_kg, systolic_bp, diastolic_bp,
			heart_rate, temperature_c, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		v.ID, v.PatientID, v.HeightCm, v.WeightKg, v.SystolicBP, v.DiastolicBP,
		v.HeartRate, v.TemperatureC, v.RecordedAt)
	return err
}

func (r *vitalsRepoPG) LatestMeasurements(ctx context.Context, patientID uuid.UUID) (*decimal.Decimal, *decimal.Decimal, error) {
	var height, weight *decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT height_cm FROM patient_vitals
			 WHERE patient_id = $1 AND height_cm IS NOT NULL
			 ORDER BY recorded_at DESC, id DESC LIMIT 1),
			(SELECT weight_kg FROM patient_vitals
			 WHERE patient_id = $1 AND weight_kg IS NOT NULL
			 ORDER BY recorded_at DESC, id DESC LIMIT 1)`,
		patientID).Scan(&height, &weight)
	if err != nil {
		return nil, nil, err
	}
	return height, weight, nil
}

func (r *vitalsRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalsSnapshot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_vitals WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+vitalsCols+` FROM patient_vitals
		WHERE patient_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*VitalsSnapshot
	for rows.Next() {
		v, err := scanVitals(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, v)
	}
	return result, total, rows.Err()
}
