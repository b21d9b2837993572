package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// =========== Appointment Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, appointment_id, patient_id, doctor_id, appointment_date, appointment_time,
	estimated_duration, appointment_type, priority, status, notes,
	consultation_start, consultation_end, consultation_fee, total_amount,
	rescheduled_to, version_id, created_at, updated_at`

const liveStatusSQL = `('scheduled','confirmed','checked-in','in-progress')`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.AppointmentID, &a.PatientID, &a.DoctorID, &a.Date, &a.TimeOfDay,
		&a.EstimatedDuration, &a.Type, &a.Priority, &a.Status, &a.Notes,
		&a.ConsultationStart, &a.ConsultationEnd, &a.ConsultationFee, &a.TotalAmount,
		&a.RescheduledTo, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("appointment")
	}
	return &a, err
}

// mapWriteError translates constraint violations into domain errors. The
// partial unique index over live slots is the authoritative double-booking
// guard; any application-level pre-check is only a fast path.
func mapWriteError(err error, a *Appointment) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	if pgErr.ConstraintName == "uq_appointment_live_slot" {
		return errs.DoubleBooking(a.DoctorID, a.DateString(), a.TimeOfDay)
	}
	return errs.Conflict(fmt.Sprintf("appointment identifier %s already exists", a.AppointmentID), err)
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, appointment_id, patient_id, doctor_id, appointment_date,
			appointment_time, estimated_duration, appointment_type, priority, status, notes,
			consultation_start, consultation_end, consultation_fee, total_amount, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.AppointmentID, a.PatientID, a.DoctorID, a.Date,
		a.TimeOfDay, a.EstimatedDuration, a.Type, a.Priority, a.Status, a.Notes,
		a.ConsultationStart, a.ConsultationEnd, a.ConsultationFee, a.TotalAmount, a.VersionID)
	if err != nil {
		return mapWriteError(err, a)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) GetByAppointmentID(ctx context.Context, appointmentID string) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE appointment_id = $1`, appointmentID))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET doctor_id=$2, appointment_date=$3, appointment_time=$4,
			estimated_duration=$5, appointment_type=$6, priority=$7, status=$8, notes=$9,
			consultation_start=$10, consultation_end=$11, consultation_fee=$12, total_amount=$13,
			rescheduled_to=$14, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $15`,
		a.ID, a.DoctorID, a.Date, a.TimeOfDay,
		a.EstimatedDuration, a.Type, a.Priority, a.Status, a.Notes,
		a.ConsultationStart, a.ConsultationEnd, a.ConsultationFee, a.TotalAmount,
		a.RescheduledTo, a.VersionID)
	if err != nil {
		return mapWriteError(err, a)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, a.ID); getErr != nil {
			return getErr
		}
		return errs.Conflict(fmt.Sprintf("appointment %s was modified concurrently", a.AppointmentID), nil)
	}
	a.VersionID++
	return nil
}

func (r *repoPG) FindLiveBySlot(ctx context.Context, doctorID string, date time.Time, timeOfDay string, excludeID uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2 AND appointment_time = $3
		  AND status IN `+liveStatusSQL+` AND id <> $4
		LIMIT 1`,
		doctorID, date, timeOfDay, excludeID))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return collectAppointments(rows, total)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID string, date *time.Time, limit, offset int) ([]*Appointment, int, error) {
	where := `WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	if date != nil {
		where += ` AND appointment_date = $2`
		args = append(args, *date)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM appointment %s
		ORDER BY appointment_date, appointment_time LIMIT $%d OFFSET $%d`,
		apptCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return collectAppointments(rows, total)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	where := `WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if status, ok := params["status"]; ok && status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if date, ok := params["date"]; ok && date != "" {
		where += fmt.Sprintf(` AND appointment_date = $%d`, idx)
		args = append(args, date)
		idx++
	}
	if typ, ok := params["type"]; ok && typ != "" {
		where += fmt.Sprintf(` AND appointment_type = $%d`, idx)
		args = append(args, typ)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM appointment %s
		ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`,
		apptCols, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return collectAppointments(rows, total)
}

func collectAppointments(rows pgx.Rows, total int) ([]*Appointment, int, error) {
	defer rows.Close()
	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, a)
	}
	return result, total, rows.Err()
}

// =========== Charge Repository ===========

type chargeRepoPG struct{ pool *pgxpool.Pool }

func NewChargeRepoPG(pool *pgxpool.Pool) ChargeRepository { return &chargeRepoPG{pool: pool} }

func (r *chargeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *chargeRepoPG) Add(ctx context.Context, c *Charge) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_charge (id, appointment_id, description, amount)
		VALUES ($1,$2,$3,$4)`,
		c.ID, c.AppointmentID, c.Description, c.Amount)
	return err
}

func (r *chargeRepoPG) Remove(ctx context.Context, appointmentID, chargeID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment_charge WHERE appointment_id = $1 AND id = $2`, appointmentID, chargeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("charge")
	}
	return nil
}

func (r *chargeRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Charge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, description, amount, created_at
		FROM appointment_charge WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Charge
	for rows.Next() {
		var c Charge
		if err := rows.Scan(&c.ID, &c.AppointmentID, &c.Description, &c.Amount, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}
