package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emedica/erx/internal/domain/prescription"
	"github.com/emedica/erx/internal/repository/memory"
)

type fixture struct {
	svc          *PrescriptionService
	repo         *memory.Repository
	doctorID     uuid.UUID
	patientID    uuid.UUID
	pharmacistID uuid.UUID
	drugID       uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewRepository(nil)
	f := &fixture{
		svc:          NewPrescriptionService(repo, nil, nil),
		repo:         repo,
		doctorID:     uuid.New(),
		patientID:    uuid.New(),
		pharmacistID: uuid.New(),
		drugID:       uuid.New(),
	}
	repo.AddDoctor(f.doctorID)
	repo.AddPatient(f.patientID)
	repo.AddPharmacist(f.pharmacistID)
	repo.AddDrug(f.drugID)
	return f
}

func (f *fixture) createInput() CreatePrescriptionInput {
	return CreatePrescriptionInput{
		DoctorID:  f.doctorID,
		PatientID: f.patientID,
		Drugs:     []prescription.NewPrescribedDrug{{DrugID: f.drugID, Quantity: 2}},
	}
}

func TestCreatePrescription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	category := prescription.CategoryForAntibiotics
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	input := f.createInput()
	input.Category = &category
	input.StartDate = &start

	created, err := f.svc.CreatePrescription(ctx, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Category != category {
		t.Errorf("category = %s, want %s", created.Category, category)
	}
	if want := start.Add(7 * 24 * time.Hour); !created.EndDate.Equal(want) {
		t.Errorf("end date = %v, want %v", created.EndDate, want)
	}

	loaded, err := f.svc.GetPrescriptionByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("load after create: %v", err)
	}
	if loaded.Code != created.Code {
		t.Errorf("code = %q, want %q", loaded.Code, created.Code)
	}
}

func TestCreatePrescriptionValidationErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	input := f.createInput()
	input.Drugs = nil
	if _, err := f.svc.CreatePrescription(ctx, input); !errors.Is(err, prescription.ErrNoPrescribedDrugs) {
		t.Errorf("empty drug list: got %v, want ErrNoPrescribedDrugs", err)
	}

	input = f.createInput()
	input.Drugs[0].Quantity = 0
	var qtyErr *prescription.InvalidDrugQuantityError
	if _, err := f.svc.CreatePrescription(ctx, input); !errors.As(err, &qtyErr) {
		t.Errorf("zero quantity: got %v, want InvalidDrugQuantityError", err)
	}
}

func TestCreatePrescriptionUnknownDoctor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	input := f.createInput()
	input.DoctorID = uuid.New()

	_, err := f.svc.CreatePrescription(ctx, input)

	var notFound *prescription.DoctorNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected DoctorNotFoundError, got %v", err)
	}
	if notFound.ID != input.DoctorID {
		t.Errorf("error names id %s, want %s", notFound.ID, input.DoctorID)
	}
}

func TestGetPrescriptionsPropagatesPaginationErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	badSize := int64(0)
	page := int64(0)
	_, err := f.svc.GetPrescriptions(ctx, &page, &badSize)

	var pageErr *prescription.InvalidPaginationError
	if !errors.As(err, &pageErr) {
		t.Fatalf("expected InvalidPaginationError, got %v", err)
	}
}

func TestGetPrescriptionByIDNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var notFound *prescription.PrescriptionNotFoundError
	if _, err := f.svc.GetPrescriptionByID(ctx, uuid.New()); !errors.As(err, &notFound) {
		t.Fatalf("expected PrescriptionNotFoundError, got %v", err)
	}
}

func TestFillPrescription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreatePrescription(ctx, f.createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	filled, err := f.svc.FillPrescription(ctx, created.ID, f.pharmacistID)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if filled.Fill == nil {
		t.Fatal("fill not attached")
	}
	if filled.Fill.PharmacistID != f.pharmacistID {
		t.Errorf("fill pharmacist = %s, want %s", filled.Fill.PharmacistID, f.pharmacistID)
	}

	if _, err := f.svc.FillPrescription(ctx, created.ID, f.pharmacistID); !errors.Is(err, prescription.ErrAlreadyFilled) {
		t.Fatalf("second fill: got %v, want ErrAlreadyFilled", err)
	}
}

func TestFillPrescriptionOutsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	input := f.createInput()
	input.StartDate = &start

	created, err := f.svc.CreatePrescription(ctx, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Regular category closes the window 30 days after start.
	f.svc.now = func() time.Time { return start.Add(31 * 24 * time.Hour) }

	if _, err := f.svc.FillPrescription(ctx, created.ID, f.pharmacistID); !errors.Is(err, prescription.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestFillPrescriptionUnknownPharmacist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreatePrescription(ctx, f.createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var notFound *prescription.PharmacistNotFoundError
	if _, err := f.svc.FillPrescription(ctx, created.ID, uuid.New()); !errors.As(err, &notFound) {
		t.Fatalf("expected PharmacistNotFoundError, got %v", err)
	}
}
