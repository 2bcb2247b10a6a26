// Package service orchestrates prescription use cases over the repository
// port. It owns no business rules itself: validation lives in the domain
// package, reference checks in the adapters.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/emedica/erx/internal/domain/prescription"
	"github.com/emedica/erx/internal/observability/metrics"
)

// CreatePrescriptionInput is the raw input for creating a prescription.
// StartDate and Category are optional; the domain defaults apply when nil.
type CreatePrescriptionInput struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Drugs     []prescription.NewPrescribedDrug
	StartDate *time.Time
	Category  *prescription.Category
}

// PrescriptionService exposes the prescription lifecycle operations.
type PrescriptionService struct {
	repo    prescription.Repository
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewPrescriptionService creates a service over the given repository.
// logger and m may be nil.
func NewPrescriptionService(repo prescription.Repository, logger *zap.Logger, m *metrics.Metrics) *PrescriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionService{
		repo:    repo,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("service.prescription"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreatePrescription validates the input, constructs the aggregate and
// persists it.
func (s *PrescriptionService) CreatePrescription(ctx context.Context, input CreatePrescriptionInput) (*prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "create_prescription",
		trace.WithAttributes(
			attribute.String("doctor_id", input.DoctorID.String()),
			attribute.String("patient_id", input.PatientID.String()),
		))
	defer span.End()
	defer s.observeDuration(s.now())

	var opts []prescription.Option
	if input.StartDate != nil {
		opts = append(opts, prescription.WithStartDate(*input.StartDate))
	}
	if input.Category != nil {
		opts = append(opts, prescription.WithCategory(*input.Category))
	}

	np, err := prescription.New(input.DoctorID, input.PatientID, input.Drugs, opts...)
	if err != nil {
		span.RecordError(err)
		s.countFailure()
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	created, err := s.repo.CreatePrescription(ctx, np)
	if err != nil {
		span.RecordError(err)
		s.countFailure()
		s.logger.Warn("prescription create rejected",
			zap.String("doctor_id", input.DoctorID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PrescriptionsCreated.Inc()
	}
	s.logger.Info("prescription created",
		zap.String("id", created.ID.String()),
		zap.String("category", string(created.Category)),
		zap.Int("drugs", len(created.PrescribedDrugs)))

	return created, nil
}

// GetPrescriptions returns one page of prescriptions, oldest first.
func (s *PrescriptionService) GetPrescriptions(ctx context.Context, page, pageSize *int64) ([]*prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "get_prescriptions")
	defer span.End()

	result, err := s.repo.GetPrescriptions(ctx, page, pageSize)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get prescriptions: %w", err)
	}
	span.SetAttributes(attribute.Int("count", len(result)))
	return result, nil
}

// GetPrescriptionByID returns one fully hydrated prescription.
func (s *PrescriptionService) GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "get_prescription_by_id",
		trace.WithAttributes(attribute.String("prescription_id", id.String())))
	defer span.End()

	p, err := s.repo.GetPrescriptionByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get prescription %s: %w", id, err)
	}
	return p, nil
}

// FillPrescription loads the prescription, applies the fill policy at the
// current time and persists the fill. Returns the aggregate with the fill
// attached.
func (s *PrescriptionService) FillPrescription(ctx context.Context, prescriptionID, pharmacistID uuid.UUID) (*prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "fill_prescription",
		trace.WithAttributes(
			attribute.String("prescription_id", prescriptionID.String()),
			attribute.String("pharmacist_id", pharmacistID.String()),
		))
	defer span.End()
	defer s.observeDuration(s.now())

	p, err := s.repo.GetPrescriptionByID(ctx, prescriptionID)
	if err != nil {
		span.RecordError(err)
		s.countFailure()
		return nil, fmt.Errorf("fill prescription %s: %w", prescriptionID, err)
	}

	nf, err := p.FillAt(pharmacistID, s.now())
	if err != nil {
		span.RecordError(err)
		s.countRejectedFill(err)
		s.logger.Warn("fill rejected",
			zap.String("prescription_id", prescriptionID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("fill prescription %s: %w", prescriptionID, err)
	}

	fill, err := s.repo.FillPrescription(ctx, nf)
	if err != nil {
		span.RecordError(err)
		s.countRejectedFill(err)
		return nil, fmt.Errorf("fill prescription %s: %w", prescriptionID, err)
	}

	p.Fill = fill
	p.UpdatedAt = fill.UpdatedAt

	if s.metrics != nil {
		s.metrics.PrescriptionsFilled.Inc()
	}
	s.logger.Info("prescription filled",
		zap.String("prescription_id", prescriptionID.String()),
		zap.String("pharmacist_id", pharmacistID.String()))

	return p, nil
}

func (s *PrescriptionService) observeDuration(start time.Time) {
	if s.metrics != nil {
		s.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *PrescriptionService) countFailure() {
	if s.metrics != nil {
		s.metrics.PrescriptionsFailed.Inc()
	}
}

func (s *PrescriptionService) countRejectedFill(err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, prescription.ErrInvalidDate) || errors.Is(err, prescription.ErrAlreadyFilled) {
		s.metrics.FillsRejected.Inc()
	} else {
		s.metrics.PrescriptionsFailed.Inc()
	}
}
