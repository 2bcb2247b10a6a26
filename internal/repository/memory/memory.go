// Package memory provides the in-memory prescription repository adapter.
// It backs domain and service tests without a database and serves as the
// behavioral oracle for the PostgreSQL adapter: both must produce the same
// error for the same condition and the same pagination semantics.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emedica/erx/internal/domain/prescription"
	"github.com/emedica/erx/pkg/pagination"
)

// Repository stores prescriptions in process-local collections guarded by a
// single RWMutex: one writer at a time, concurrent readers.
type Repository struct {
	logger *zap.Logger

	mu            sync.RWMutex
	prescriptions []*prescription.Prescription
	doctors       map[uuid.UUID]struct{}
	patients      map[uuid.UUID]struct{}
	pharmacists   map[uuid.UUID]struct{}
	drugs         map[uuid.UUID]struct{}
}

// NewRepository creates an empty in-memory repository.
func NewRepository(logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		logger:      logger,
		doctors:     make(map[uuid.UUID]struct{}),
		patients:    make(map[uuid.UUID]struct{}),
		pharmacists: make(map[uuid.UUID]struct{}),
		drugs:       make(map[uuid.UUID]struct{}),
	}
}

// AddDoctor registers a committed doctor id. The entity stores own doctor
// creation; this mirrors the rows the durable adapter would see.
func (r *Repository) AddDoctor(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[id] = struct{}{}
}

// AddPatient registers a committed patient id.
func (r *Repository) AddPatient(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[id] = struct{}{}
}

// AddPharmacist registers a committed pharmacist id.
func (r *Repository) AddPharmacist(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pharmacists[id] = struct{}{}
}

// AddDrug registers a committed drug id.
func (r *Repository) AddDrug(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drugs[id] = struct{}{}
}

// CreatePrescription validates every referenced id before writing anything,
// so a missing reference persists zero rows, matching the durable adapter's
// transactional behavior.
func (r *Repository) CreatePrescription(ctx context.Context, np *prescription.NewPrescription) (*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doctors[np.DoctorID]; !ok {
		return nil, &prescription.DoctorNotFoundError{ID: np.DoctorID}
	}
	if _, ok := r.patients[np.PatientID]; !ok {
		return nil, &prescription.PatientNotFoundError{ID: np.PatientID}
	}
	for _, d := range np.PrescribedDrugs {
		if _, ok := r.drugs[d.DrugID]; !ok {
			return nil, &prescription.DrugNotFoundError{ID: d.DrugID}
		}
	}

	now := time.Now().UTC()
	drugs := make([]prescription.PrescribedDrug, 0, len(np.PrescribedDrugs))
	for _, d := range np.PrescribedDrugs {
		drugs = append(drugs, prescription.PrescribedDrug{
			ID:             uuid.New(),
			PrescriptionID: np.ID,
			DrugID:         d.DrugID,
			Quantity:       d.Quantity,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	p := &prescription.Prescription{
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
	}
	r.prescriptions = append(r.prescriptions, p)

	r.logger.Debug("prescription stored",
		zap.String("id", p.ID.String()),
		zap.Int("drugs", len(p.PrescribedDrugs)))

	return clone(p), nil
}

// GetPrescriptions returns a page of prescriptions in insertion order.
func (r *Repository) GetPrescriptions(ctx context.Context, page, pageSize *int64) ([]*prescription.Prescription, error) {
	limit, offset, err := pagination.Resolve(page, pageSize)
	if err != nil {
		return nil, &prescription.InvalidPaginationError{Err: err}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*prescription.Prescription, 0, limit)
	for i := offset; i < offset+limit && i < int64(len(r.prescriptions)); i++ {
		result = append(result, clone(r.prescriptions[i]))
	}
	return result, nil
}

// GetPrescriptionByID returns one fully hydrated aggregate.
func (r *Repository) GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.prescriptions {
		if p.ID == id {
			return clone(p), nil
		}
	}
	return nil, &prescription.PrescriptionNotFoundError{ID: id}
}

// FillPrescription attaches a fill to a stored prescription. The check and
// the write happen under one write lock, matching the unique constraint the
// durable adapter enforces on the fill table.
func (r *Repository) FillPrescription(ctx context.Context, nf *prescription.NewFill) (*prescription.Fill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pharmacists[nf.PharmacistID]; !ok {
		return nil, &prescription.PharmacistNotFoundError{ID: nf.PharmacistID}
	}

	var target *prescription.Prescription
	for _, p := range r.prescriptions {
		if p.ID == nf.PrescriptionID {
			target = p
			break
		}
	}
	if target == nil {
		return nil, &prescription.PrescriptionNotFoundError{ID: nf.PrescriptionID}
	}
	if target.Fill != nil {
		return nil, prescription.ErrAlreadyFilled
	}

	now := time.Now().UTC()
	fill := &prescription.Fill{
		ID:             nf.ID,
		PrescriptionID: nf.PrescriptionID,
		PharmacistID:   nf.PharmacistID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	target.Fill = fill
	target.UpdatedAt = now

	r.logger.Debug("prescription filled",
		zap.String("prescription_id", nf.PrescriptionID.String()),
		zap.String("pharmacist_id", nf.PharmacistID.String()))

	f := *fill
	return &f, nil
}

// clone deep-copies an aggregate so callers never alias internal state.
func clone(p *prescription.Prescription) *prescription.Prescription {
	out := *p
	out.PrescribedDrugs = append([]prescription.PrescribedDrug(nil), p.PrescribedDrugs...)
	if p.Fill != nil {
		f := *p.Fill
		out.Fill = &f
	}
	return &out
}
