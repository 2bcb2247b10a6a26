package prescription

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for prescriptions and fills. Two
// adapters implement it (an in-memory store and a PostgreSQL store) and
// both must expose identical observable behavior: the same error types for
// the same conditions, the same pagination semantics, drug lines in
// prescribe order and all-or-nothing creation.
type Repository interface {
	// CreatePrescription atomically persists the header and every drug
	// line. If any referenced doctor, patient or drug id does not exist,
	// nothing is persisted and the matching *NotFoundError names the
	// offending id.
	CreatePrescription(ctx context.Context, p *NewPrescription) (*Prescription, error)

	// GetPrescriptions returns fully hydrated aggregates ordered by
	// creation time ascending. Nil page defaults to 0, nil pageSize to 10;
	// invalid values yield *InvalidPaginationError.
	GetPrescriptions(ctx context.Context, page, pageSize *int64) ([]*Prescription, error)

	// GetPrescriptionByID returns one hydrated aggregate or
	// *PrescriptionNotFoundError.
	GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error)

	// FillPrescription persists a fill record. The referenced pharmacist
	// and prescription must exist; a second fill for the same prescription
	// fails with ErrAlreadyFilled and leaves the original untouched.
	FillPrescription(ctx context.Context, f *NewFill) (*Fill, error)
}
