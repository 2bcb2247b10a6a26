// Package postgres provides the durable prescription repository adapter.
//
// Referential integrity is delegated to the schema: foreign keys cover
// doctor, patient, drug and pharmacist references, and a unique constraint
// on prescription_fills.prescription_id closes the double-fill race. The
// error mapping below relies on these constraint names:
//
//	prescriptions_doctor_id_fkey
//	prescriptions_patient_id_fkey
//	prescribed_drugs_drug_id_fkey
//	prescription_fills_prescription_id_fkey
//	prescription_fills_pharmacist_id_fkey
//	prescription_fills_prescription_id_key
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/emedica/erx/internal/domain/prescription"
	outbox "github.com/emedica/erx/internal/infrastructure/postgres"
	"github.com/emedica/erx/pkg/pagination"
)

const (
	fkViolation     = "23503"
	uniqueViolation = "23505"
)

// Repository persists prescriptions in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer

	outboxTopic string
}

// Option configures a Repository.
type Option func(*Repository)

// WithOutbox makes every domain write also append a lifecycle event to the
// outbox table, in the same transaction, addressed to the given topic.
func WithOutbox(topic string) Option {
	return func(r *Repository) {
		r.outboxTopic = topic
	}
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository.postgres"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreatePrescription inserts the header and every prescribed drug in one
// transaction. Drug rows get created_at stamps staggered by one microsecond
// each so reads can restore prescribe order.
func (r *Repository) CreatePrescription(ctx context.Context, np *prescription.NewPrescription) (*prescription.Prescription, error) {
	ctx, span := r.tracer.Start(ctx, "create_prescription",
		trace.WithAttributes(attribute.String("prescription_id", np.ID.String())))
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, &prescription.DatabaseError{Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	headerQuery := `
		INSERT INTO prescriptions (id, doctor_id, patient_id, category, code, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, headerQuery,
		np.ID, np.DoctorID, np.PatientID, np.Category, np.Code,
		np.StartDate, np.EndDate, now, now,
	)
	if err != nil {
		span.RecordError(err)
		return nil, mapHeaderError(err, np)
	}

	drugQuery := `
		INSERT INTO prescribed_drugs (id, prescription_id, drug_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	drugs := make([]prescription.PrescribedDrug, 0, len(np.PrescribedDrugs))
	for i, d := range np.PrescribedDrugs {
		stamp := now.Add(time.Duration(i) * time.Microsecond)
		row := prescription.PrescribedDrug{
			ID:             uuid.New(),
			PrescriptionID: np.ID,
			DrugID:         d.DrugID,
			Quantity:       d.Quantity,
			CreatedAt:      stamp,
			UpdatedAt:      stamp,
		}
		if _, err := tx.Exec(ctx, drugQuery,
			row.ID, row.PrescriptionID, row.DrugID, row.Quantity, row.CreatedAt, row.UpdatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, mapDrugError(err, d.DrugID)
		}
		drugs = append(drugs, row)
	}

	if r.outboxTopic != "" {
		data := prescription.CreatedEventData{
			PrescriptionID: np.ID,
			DoctorID:       np.DoctorID,
			PatientID:      np.PatientID,
			Category:       np.Category,
			Code:           np.Code,
			StartDate:      np.StartDate,
			EndDate:        np.EndDate,
			Drugs:          np.PrescribedDrugs,
		}
		if err := r.writeEvent(ctx, tx, np.ID, prescription.EventPrescriptionCreated, data); err != nil {
			span.RecordError(err)
			return nil, &prescription.DatabaseError{Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, &prescription.DatabaseError{Err: fmt.Errorf("commit: %w", err)}
	}

	r.logger.Debug("prescription stored",
		zap.String("id", np.ID.String()),
		zap.Int("drugs", len(drugs)))

	return &prescription.Prescription{
		ID:              np.ID,
		DoctorID:        np.DoctorID,
		PatientID:       np.PatientID,
		PrescribedDrugs: drugs,
		Category:        np.Category,
		Code:            np.Code,
		StartDate:       np.StartDate,
		EndDate:         np.EndDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// GetPrescriptions returns one page of prescriptions, oldest first, each
// hydrated with its drugs and fill.
func (r *Repository) GetPrescriptions(ctx context.Context, page, pageSize *int64) ([]*prescription.Prescription, error) {
	limit, offset, err := pagination.Resolve(page, pageSize)
	if err != nil {
		return nil, &prescription.InvalidPaginationError{Err: err}
	}

	ctx, span := r.tracer.Start(ctx, "get_prescriptions",
		trace.WithAttributes(
			attribute.Int64("limit", limit),
			attribute.Int64("offset", offset),
		))
	defer span.End()

	query := `
		SELECT p.id, p.doctor_id, p.patient_id, p.category, p.code,
		       p.start_date, p.end_date, p.created_at, p.updated_at,
		       pd.id, pd.drug_id, pd.quantity, pd.created_at, pd.updated_at,
		       f.id, f.pharmacist_id, f.created_at, f.updated_at
		FROM (
			SELECT id, doctor_id, patient_id, category, code, start_date, end_date, created_at, updated_at
			FROM prescriptions
			ORDER BY created_at ASC, id ASC
			LIMIT $1 OFFSET $2
		) p
		JOIN prescribed_drugs pd ON pd.prescription_id = p.id
		LEFT JOIN prescription_fills f ON f.prescription_id = p.id
		ORDER BY p.created_at ASC, p.id ASC, pd.created_at ASC, pd.id ASC
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, &prescription.DatabaseError{Err: err}
	}
	defer rows.Close()

	result, err := collectPrescriptions(rows)
	if err != nil {
		span.RecordError(err)
		return nil, &prescription.DatabaseError{Err: err}
	}
	return result, nil
}

// GetPrescriptionByID returns one fully hydrated aggregate.
func (r *Repository) GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	ctx, span := r.tracer.Start(ctx, "get_prescription_by_id",
		trace.WithAttributes(attribute.String("prescription_id", id.String())))
	defer span.End()

	query := `
		SELECT p.id, p.doctor_id, p.patient_id, p.category, p.code,
		       p.start_date, p.end_date, p.created_at, p.updated_at,
		       pd.id, pd.drug_id, pd.quantity, pd.created_at, pd.updated_at,
		       f.id, f.pharmacist_id, f.created_at, f.updated_at
		FROM prescriptions p
		JOIN prescribed_drugs pd ON pd.prescription_id = p.id
		LEFT JOIN prescription_fills f ON f.prescription_id = p.id
		WHERE p.id = $1
		ORDER BY pd.created_at ASC, pd.id ASC
	`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		span.RecordError(err)
		return nil, &prescription.DatabaseError{Err: err}
	}
	defer rows.Close()

	result, err := collectPrescriptions(rows)
	if err != nil {
		span.RecordError(err)
		return nil, &prescription.DatabaseError{Err: err}
	}
	if len(result) == 0 {
		return nil, &prescription.PrescriptionNotFoundError{ID: id}
	}
	return result[0], nil
}

// FillPrescription inserts the fill row. The unique constraint on
// prescription_id makes a concurrent second fill fail here rather than
// after a read-then-write gap.
func (r *Repository) FillPrescription(ctx context.Context, nf *prescription.NewFill) (*prescription.Fill, error) {
	ctx, span := r.tracer.Start(ctx, "fill_prescription",
		trace.WithAttributes(attribute.String("prescription_id", nf.PrescriptionID.String())))
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, &prescription.DatabaseError{Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	query := `
		INSERT INTO prescription_fills (id, prescription_id, pharmacist_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query, nf.ID, nf.PrescriptionID, nf.PharmacistID, now, now); err != nil {
		span.RecordError(err)
		return nil, mapFillError(err, nf)
	}

	if r.outboxTopic != "" {
		data := prescription.FilledEventData{
			FillID:         nf.ID,
			PrescriptionID: nf.PrescriptionID,
			PharmacistID:   nf.PharmacistID,
			FilledAt:       now,
		}
		if err := r.writeEvent(ctx, tx, nf.PrescriptionID, prescription.EventPrescriptionFilled, data); err != nil {
			span.RecordError(err)
			return nil, &prescription.DatabaseError{Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return nil, &prescription.DatabaseError{Err: fmt.Errorf("commit: %w", err)}
	}

	r.logger.Debug("prescription filled",
		zap.String("prescription_id", nf.PrescriptionID.String()),
		zap.String("pharmacist_id", nf.PharmacistID.String()))

	return &prescription.Fill{
		ID:             nf.ID,
		PrescriptionID: nf.PrescriptionID,
		PharmacistID:   nf.PharmacistID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (r *Repository) writeEvent(ctx context.Context, tx pgx.Tx, prescriptionID uuid.UUID, eventType prescription.EventType, data interface{}) error {
	event, err := prescription.NewEvent(prescriptionID, eventType, data)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	return outbox.WriteEntry(ctx, tx, &outbox.Entry{
		AggregateID:   event.PrescriptionID,
		AggregateType: "prescription",
		EventType:     string(event.EventType),
		Payload:       event.EventData,
		Topic:         r.outboxTopic,
		Key:           event.PrescriptionID,
	})
}

// collectPrescriptions groups join rows into aggregates, preserving the row
// order the queries establish.
func collectPrescriptions(rows pgx.Rows) ([]*prescription.Prescription, error) {
	var (
		order []*prescription.Prescription
		byID  = make(map[uuid.UUID]*prescription.Prescription)
	)

	for rows.Next() {
		var (
			p    prescription.Prescription
			d    prescription.PrescribedDrug
			fill struct {
				id           *uuid.UUID
				pharmacistID *uuid.UUID
				createdAt    *time.Time
				updatedAt    *time.Time
			}
		)
		err := rows.Scan(
			&p.ID, &p.DoctorID, &p.PatientID, &p.Category, &p.Code,
			&p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt,
			&d.ID, &d.DrugID, &d.Quantity, &d.CreatedAt, &d.UpdatedAt,
			&fill.id, &fill.pharmacistID, &fill.createdAt, &fill.updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		agg, ok := byID[p.ID]
		if !ok {
			agg = &p
			if fill.id != nil {
				agg.Fill = &prescription.Fill{
					ID:             *fill.id,
					PrescriptionID: p.ID,
					PharmacistID:   *fill.pharmacistID,
					CreatedAt:      *fill.createdAt,
					UpdatedAt:      *fill.updatedAt,
				}
			}
			byID[p.ID] = agg
			order = append(order, agg)
		}

		d.PrescriptionID = agg.ID
		agg.PrescribedDrugs = append(agg.PrescribedDrugs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return order, nil
}

func mapHeaderError(err error, np *prescription.NewPrescription) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
		switch pgErr.ConstraintName {
		case "prescriptions_doctor_id_fkey":
			return &prescription.DoctorNotFoundError{ID: np.DoctorID}
		case "prescriptions_patient_id_fkey":
			return &prescription.PatientNotFoundError{ID: np.PatientID}
		}
	}
	return &prescription.DatabaseError{Err: err}
}

func mapDrugError(err error, drugID uuid.UUID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == fkViolation &&
		pgErr.ConstraintName == "prescribed_drugs_drug_id_fkey" {
		return &prescription.DrugNotFoundError{ID: drugID}
	}
	return &prescription.DatabaseError{Err: err}
}

func mapFillError(err error, nf *prescription.NewFill) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation &&
			pgErr.ConstraintName == "prescription_fills_prescription_id_key":
			return prescription.ErrAlreadyFilled
		case pgErr.Code == fkViolation &&
			pgErr.ConstraintName == "prescription_fills_prescription_id_fkey":
			return &prescription.PrescriptionNotFoundError{ID: nf.PrescriptionID}
		case pgErr.Code == fkViolation &&
			pgErr.ConstraintName == "prescription_fills_pharmacist_id_fkey":
			return &prescription.PharmacistNotFoundError{ID: nf.PharmacistID}
		}
	}
	return &prescription.DatabaseError{Err: err}
}
