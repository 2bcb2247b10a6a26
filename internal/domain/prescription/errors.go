package prescription

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Validation and fill-policy errors. Always caller-correctable; never
// retried.
var (
	ErrNoPrescribedDrugs = errors.New("prescription must have at least one prescribed drug")
	ErrInvalidDate       = errors.New("current date is not between prescription's start and end date")
	ErrAlreadyFilled     = errors.New("prescription is already filled")
)

// InvalidDrugQuantityError reports a drug line with a non-positive quantity.
type InvalidDrugQuantityError struct {
	DrugID uuid.UUID
}

func (e *InvalidDrugQuantityError) Error() string {
	return fmt.Sprintf("quantity of drug with id %s must be positive", e.DrugID)
}

// DuplicateDrugError reports the same drug id appearing twice on one
// prescription.
type DuplicateDrugError struct {
	DrugID uuid.UUID
}

func (e *DuplicateDrugError) Error() string {
	return fmt.Sprintf("can't prescribe two drugs with the same id %s", e.DrugID)
}

// Referential errors returned by repository adapters when a referenced id
// does not correspond to any committed entity. Both adapters return the same
// types for the same conditions.

// DoctorNotFoundError reports a prescription referencing an unknown doctor.
type DoctorNotFoundError struct {
	ID uuid.UUID
}

func (e *DoctorNotFoundError) Error() string {
	return fmt.Sprintf("doctor with id %s not found", e.ID)
}

// PatientNotFoundError reports a prescription referencing an unknown patient.
type PatientNotFoundError struct {
	ID uuid.UUID
}

func (e *PatientNotFoundError) Error() string {
	return fmt.Sprintf("patient with id %s not found", e.ID)
}

// DrugNotFoundError reports a drug line referencing an unknown drug.
type DrugNotFoundError struct {
	ID uuid.UUID
}

func (e *DrugNotFoundError) Error() string {
	return fmt.Sprintf("drug with id %s not found", e.ID)
}

// PharmacistNotFoundError reports a fill referencing an unknown pharmacist.
type PharmacistNotFoundError struct {
	ID uuid.UUID
}

func (e *PharmacistNotFoundError) Error() string {
	return fmt.Sprintf("pharmacist with id %s not found", e.ID)
}

// PrescriptionNotFoundError reports a lookup or fill against an unknown
// prescription.
type PrescriptionNotFoundError struct {
	ID uuid.UUID
}

func (e *PrescriptionNotFoundError) Error() string {
	return fmt.Sprintf("prescription with id %s not found", e.ID)
}

// InvalidPaginationError wraps a pagination parameter failure surfaced by
// GetPrescriptions.
type InvalidPaginationError struct {
	Err error
}

func (e *InvalidPaginationError) Error() string {
	return fmt.Sprintf("invalid pagination parameters: %v", e.Err)
}

func (e *InvalidPaginationError) Unwrap() error { return e.Err }

// DatabaseError wraps any storage failure that is not a referential error.
// May be transient; the core never retries it.
type DatabaseError struct {
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error: %v", e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }
