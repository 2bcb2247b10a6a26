// Package prescription implements the prescription aggregate: construction
// rules, the validity window, the one-time fill transition and the
// persistence port both repository adapters implement.
package prescription

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Category determines how long a prescription stays fillable.
type Category string

const (
	CategoryRegular                Category = "regular"
	CategoryForAntibiotics         Category = "for_antibiotics"
	CategoryForImmunologicalDrugs  Category = "for_immunological_drugs"
	CategoryForChronicDiseaseDrugs Category = "for_chronic_disease_drugs"
)

// Duration returns the validity window length for the category.
func (c Category) Duration() time.Duration {
	const day = 24 * time.Hour
	switch c {
	case CategoryForAntibiotics:
		return 7 * day
	case CategoryForImmunologicalDrugs:
		return 120 * day
	case CategoryForChronicDiseaseDrugs:
		return 365 * day
	default:
		return 30 * day
	}
}

// NewPrescribedDrug is a single drug line on an unsaved prescription.
type NewPrescribedDrug struct {
	DrugID   uuid.UUID `json:"drug_id"`
	Quantity int       `json:"quantity"`
}

// PrescribedDrug is a persisted drug line.
type PrescribedDrug struct {
	ID             uuid.UUID
	PrescriptionID uuid.UUID
	DrugID         uuid.UUID
	Quantity       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPrescription is a validated, unsaved prescription aggregate. It is
// produced by New and consumed by Repository.CreatePrescription.
type NewPrescription struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	PrescribedDrugs []NewPrescribedDrug
	Category        Category
	Code            string
	StartDate       time.Time
	EndDate         time.Time
}

// Prescription is the persisted aggregate root: header, drug lines and the
// optional one-time fill.
type Prescription struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	PrescribedDrugs []PrescribedDrug
	Category        Category
	Code            string
	StartDate       time.Time
	EndDate         time.Time
	Fill            *Fill
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewFill is an unsaved fill record produced by the fill policy.
type NewFill struct {
	ID             uuid.UUID
	PrescriptionID uuid.UUID
	PharmacistID   uuid.UUID
}

// Fill records which pharmacist redeemed a prescription. Immutable once
// created; a prescription owns at most one.
type Fill struct {
	ID             uuid.UUID
	PrescriptionID uuid.UUID
	PharmacistID   uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Option customizes prescription construction.
type Option func(*options)

type options struct {
	id        *uuid.UUID
	startDate *time.Time
	category  *Category
	code      *string
	rand      *rand.Rand
}

// WithID overrides the generated prescription id.
func WithID(id uuid.UUID) Option {
	return func(o *options) { o.id = &id }
}

// WithStartDate sets the start of the validity window. Defaults to now.
func WithStartDate(t time.Time) Option {
	return func(o *options) { o.startDate = &t }
}

// WithCategory sets the prescription category. Defaults to CategoryRegular.
func WithCategory(c Category) Option {
	return func(o *options) { o.category = &c }
}

// WithCode overrides the generated redemption code.
func WithCode(code string) Option {
	return func(o *options) { o.code = &code }
}

// WithRand sets the random source used for code generation, keeping
// construction deterministic in tests.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rand = r }
}

// New validates raw input and constructs an unsaved prescription. The end
// date derives from the category duration. No storage is touched and no
// existence checks happen here; referenced ids are verified by the
// repository at persistence time.
func New(doctorID, patientID uuid.UUID, drugs []NewPrescribedDrug, opts ...Option) (*NewPrescription, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if len(drugs) == 0 {
		return nil, ErrNoPrescribedDrugs
	}
	seen := make(map[uuid.UUID]struct{}, len(drugs))
	for _, d := range drugs {
		if d.Quantity < 1 {
			return nil, &InvalidDrugQuantityError{DrugID: d.DrugID}
		}
		if _, dup := seen[d.DrugID]; dup {
			return nil, &DuplicateDrugError{DrugID: d.DrugID}
		}
		seen[d.DrugID] = struct{}{}
	}

	id := uuid.New()
	if o.id != nil {
		id = *o.id
	}
	startDate := time.Now().UTC()
	if o.startDate != nil {
		startDate = *o.startDate
	}
	category := CategoryRegular
	if o.category != nil {
		category = *o.category
	}
	code := GenerateCode(o.rand)
	if o.code != nil {
		code = *o.code
	}

	return &NewPrescription{
		ID:              id,
		DoctorID:        doctorID,
		PatientID:       patientID,
		PrescribedDrugs: append([]NewPrescribedDrug(nil), drugs...),
		Category:        category,
		Code:            code,
		StartDate:       startDate,
		EndDate:         startDate.Add(category.Duration()),
	}, nil
}

// FillAt validates the fill preconditions against the given instant and
// returns an unsaved fill record. The window is inclusive on both ends.
// The prescription itself is not mutated; the caller persists the fill via
// Repository.FillPrescription.
func (p *Prescription) FillAt(pharmacistID uuid.UUID, now time.Time) (*NewFill, error) {
	if now.Before(p.StartDate) || now.After(p.EndDate) {
		return nil, ErrInvalidDate
	}
	if p.Fill != nil {
		return nil, ErrAlreadyFilled
	}
	return &NewFill{
		ID:             uuid.New(),
		PrescriptionID: p.ID,
		PharmacistID:   pharmacistID,
	}, nil
}

// NewFill is FillAt evaluated at the current time.
func (p *Prescription) NewFill(pharmacistID uuid.UUID) (*NewFill, error) {
	return p.FillAt(pharmacistID, time.Now().UTC())
}
