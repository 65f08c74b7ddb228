package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is satisfied by *pgxpool.Pool and by pgxmock pools.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool dbtx
}

func NewPgRepository(pool dbtx) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, practitioner_id, center_id, therapy, scheduled_at, status, payment_method,
		patient_name, age, sex, symptoms, medical_history, allergies, current_medications, emergency_contact,
		contact_email, contact_phone, notification_status, notification_detail, notification_attempts,
		created_at, updated_at`

const therapyLogColumns = `id, appointment_id, patient_id, practitioner_id, therapy, notes, created_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var centerID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&centerID,
		&a.Therapy,
		&a.ScheduledAt,
		&a.Status,
		&a.PaymentMethod,
		&a.Intake.PatientName,
		&a.Intake.Age,
		&a.Intake.Sex,
		&a.Intake.Symptoms,
		&a.Intake.MedicalHistory,
		&a.Intake.Allergies,
		&a.Intake.CurrentMedications,
		&a.Intake.EmergencyContact,
		&a.Intake.ContactEmail,
		&a.Intake.ContactPhone,
		&a.NotificationStatus,
		&a.NotificationDetail,
		&a.NotificationAttempts,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.CenterID = centerID
	return &a, nil
}

func scanTherapyLog(row pgx.Row) (*TherapyLog, error) {
	var l TherapyLog
	err := row.Scan(
		&l.ID,
		&l.AppointmentID,
		&l.PatientID,
		&l.PractitionerID,
		&l.Therapy,
		&l.Notes,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListOccupiedTimes(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE practitioner_id = $1
		  AND scheduled_at BETWEEN $2 AND $3
		  AND status IN ('pending', 'confirmed')
		ORDER BY scheduled_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query occupied times: %w", err)
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		result = append(result, at)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.NotificationStatus == "" {
		a.NotificationStatus = NotificationPending
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, practitioner_id, center_id, therapy, scheduled_at, status, payment_method,
			patient_name, age, sex, symptoms, medical_history, allergies, current_medications, emergency_contact,
			contact_email, contact_phone, notification_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.PractitionerID, a.CenterID, a.Therapy, a.ScheduledAt, a.Status, a.PaymentMethod,
		a.Intake.PatientName, a.Intake.Age, a.Intake.Sex, a.Intake.Symptoms, a.Intake.MedicalHistory,
		a.Intake.Allergies, a.Intake.CurrentMedications, a.Intake.EmergencyContact,
		a.Intake.ContactEmail, a.Intake.ContactPhone, a.NotificationStatus,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) CompleteWithLog(ctx context.Context, id, practitionerID uuid.UUID, notes string) (log *TherapyLog, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		assigned  uuid.UUID
		patientID uuid.UUID
		therapy   TherapyType
		status    AppointmentStatus
	)
	err = tx.QueryRow(ctx, `
		SELECT practitioner_id, patient_id, therapy, status
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&assigned, &patientID, &therapy, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("lock appointment: %w", err)
	}

	switch {
	case assigned != practitionerID:
		return nil, ErrNotAssigned
	case status == StatusCompleted:
		return nil, ErrAlreadyLogged
	case status != StatusConfirmed:
		return nil, ErrInvalidStatusTransition
	}

	if _, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	log, err = scanTherapyLog(tx.QueryRow(ctx, `
		INSERT INTO therapy_logs (id, appointment_id, patient_id, practitioner_id, therapy, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+therapyLogColumns,
		uuid.New(), id, patientID, practitionerID, therapy, notes))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyLogged
		}
		return nil, fmt.Errorf("insert therapy log: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return log, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND scheduled_at BETWEEN $2 AND $3
		ORDER BY scheduled_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by practitioner: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::timestamptz IS NULL OR scheduled_at >= $2)
		  AND ($3::timestamptz IS NULL OR scheduled_at <= $3)
		ORDER BY scheduled_at DESC
		LIMIT $4 OFFSET $5
	`, status, f.From, f.To, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListLogsByPatient(ctx context.Context, patientID uuid.UUID) ([]TherapyLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+therapyLogColumns+`
		FROM therapy_logs
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list therapy logs: %w", err)
	}
	defer rows.Close()

	var result []TherapyLog
	for rows.Next() {
		l, err := scanTherapyLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) RecordDeliveries(ctx context.Context, id uuid.UUID, status NotificationStatus, detail string, deliveries []Delivery) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET notification_status = $2,
		    notification_detail = $3,
		    notification_attempts = notification_attempts + 1,
		    updated_at = now()
		WHERE id = $1
	`, id, status, detail)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}

	for _, d := range deliveries {
		if _, err = tx.Exec(ctx, `
			INSERT INTO notification_deliveries (appointment_id, channel, destination, status, error, attempts, attempted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, d.Channel, d.Destination, d.Status, d.Error, d.Attempts, d.AttemptedAt); err != nil {
			return fmt.Errorf("insert delivery %s: %w", d.Channel, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PgRepository) ListNotificationRetries(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
		  AND notification_attempts < $1
		  AND (
		        notification_status = 'failed'
		     OR (notification_status = 'pending' AND updated_at < $2)
		  )
		ORDER BY updated_at
		LIMIT $3
	`, maxAttempts, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list notification retries: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
