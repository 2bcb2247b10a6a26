// Package repositorytest holds the behavioral contract suite for the
// prescription repository port. Both adapters run the same suite, which is
// what makes the in-memory store a valid oracle for the PostgreSQL store.
package repositorytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emedica/erx/internal/domain/prescription"
)

// Harness is one adapter under test plus its reference-entity seeders. The
// seeders mimic the entity stores' own create operations: they commit a new
// doctor/patient/pharmacist/drug and return its id.
type Harness struct {
	Repo          prescription.Repository
	NewDoctor     func(t *testing.T) uuid.UUID
	NewPatient    func(t *testing.T) uuid.UUID
	NewPharmacist func(t *testing.T) uuid.UUID
	NewDrug       func(t *testing.T) uuid.UUID
}

type seed struct {
	doctorID     uuid.UUID
	patientID    uuid.UUID
	pharmacistID uuid.UUID
	drugIDs      []uuid.UUID
}

func seedEntities(t *testing.T, h *Harness, drugs int) seed {
	t.Helper()
	s := seed{
		doctorID:     h.NewDoctor(t),
		patientID:    h.NewPatient(t),
		pharmacistID: h.NewPharmacist(t),
	}
	for i := 0; i < drugs; i++ {
		s.drugIDs = append(s.drugIDs, h.NewDrug(t))
	}
	return s
}

func newPrescription(t *testing.T, s seed, drugIDs ...uuid.UUID) *prescription.NewPrescription {
	t.Helper()
	drugs := make([]prescription.NewPrescribedDrug, 0, len(drugIDs))
	for i, id := range drugIDs {
		drugs = append(drugs, prescription.NewPrescribedDrug{DrugID: id, Quantity: i + 1})
	}
	np, err := prescription.New(s.doctorID, s.patientID, drugs,
		prescription.WithStartDate(time.Now().UTC().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("building prescription: %v", err)
	}
	return np
}

// Run executes the full contract against the adapter produced by setup.
// Every subtest gets a fresh harness.
func Run(t *testing.T, setup func(t *testing.T) *Harness) {
	ctx := context.Background()

	t.Run("create and read back by id", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 4)
		np := newPrescription(t, s, s.drugIDs...)

		created, err := h.Repo.CreatePrescription(ctx, np)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		assertMatchesNew(t, created, np)

		loaded, err := h.Repo.GetPrescriptionByID(ctx, np.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		assertMatchesNew(t, loaded, np)
		if loaded.Fill != nil {
			t.Error("fresh prescription must have no fill")
		}
		for i, d := range loaded.PrescribedDrugs {
			if d.DrugID != np.PrescribedDrugs[i].DrugID {
				t.Errorf("drug %d out of prescribe order: got %s, want %s",
					i, d.DrugID, np.PrescribedDrugs[i].DrugID)
			}
			if d.Quantity != np.PrescribedDrugs[i].Quantity {
				t.Errorf("drug %d quantity = %d, want %d",
					i, d.Quantity, np.PrescribedDrugs[i].Quantity)
			}
		}
	})

	t.Run("get by unknown id", func(t *testing.T) {
		h := setup(t)
		id := uuid.New()

		_, err := h.Repo.GetPrescriptionByID(ctx, id)

		var notFound *prescription.PrescriptionNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected PrescriptionNotFoundError, got %v", err)
		}
		if notFound.ID != id {
			t.Errorf("error names id %s, want %s", notFound.ID, id)
		}
	})

	t.Run("create with unknown doctor", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 1)
		s.doctorID = uuid.New()
		np := newPrescription(t, s, s.drugIDs...)

		_, err := h.Repo.CreatePrescription(ctx, np)

		var notFound *prescription.DoctorNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected DoctorNotFoundError, got %v", err)
		}
		if notFound.ID != s.doctorID {
			t.Errorf("error names id %s, want %s", notFound.ID, s.doctorID)
		}
	})

	t.Run("create with unknown patient", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 1)
		s.patientID = uuid.New()
		np := newPrescription(t, s, s.drugIDs...)

		_, err := h.Repo.CreatePrescription(ctx, np)

		var notFound *prescription.PatientNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected PatientNotFoundError, got %v", err)
		}
		if notFound.ID != s.patientID {
			t.Errorf("error names id %s, want %s", notFound.ID, s.patientID)
		}
	})

	t.Run("create with unknown drug persists nothing", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 1)
		missingDrug := uuid.New()
		np := newPrescription(t, s, s.drugIDs[0], missingDrug)

		_, err := h.Repo.CreatePrescription(ctx, np)

		var notFound *prescription.DrugNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected DrugNotFoundError, got %v", err)
		}
		if notFound.ID != missingDrug {
			t.Errorf("error names id %s, want %s", notFound.ID, missingDrug)
		}

		// All-or-nothing: the header must not be visible either.
		if _, err := h.Repo.GetPrescriptionByID(ctx, np.ID); err == nil {
			t.Fatal("header persisted despite failed drug insert")
		}
		page, err := h.Repo.GetPrescriptions(ctx, nil, nil)
		if err != nil {
			t.Fatalf("get prescriptions: %v", err)
		}
		if len(page) != 0 {
			t.Errorf("expected zero stored prescriptions, got %d", len(page))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 1)

		var createdIDs []uuid.UUID
		for i := 0; i < 11; i++ {
			np := newPrescription(t, s, s.drugIDs[0])
			if _, err := h.Repo.CreatePrescription(ctx, np); err != nil {
				t.Fatalf("create %d: %v", i, err)
			}
			createdIDs = append(createdIDs, np.ID)
		}

		firstPage, err := h.Repo.GetPrescriptions(ctx, int64Ptr(0), int64Ptr(7))
		if err != nil {
			t.Fatalf("page 0: %v", err)
		}
		if len(firstPage) != 7 {
			t.Fatalf("page 0 size = %d, want 7", len(firstPage))
		}
		for i, p := range firstPage {
			if p.ID != createdIDs[i] {
				t.Errorf("position %d: got %s, want %s (creation order)", i, p.ID, createdIDs[i])
			}
		}

		secondPage, err := h.Repo.GetPrescriptions(ctx, int64Ptr(1), int64Ptr(10))
		if err != nil {
			t.Fatalf("page 1: %v", err)
		}
		if len(secondPage) != 1 {
			t.Fatalf("page 1 size = %d, want 1", len(secondPage))
		}
		if secondPage[0].ID != createdIDs[10] {
			t.Errorf("page 1 holds %s, want %s", secondPage[0].ID, createdIDs[10])
		}

		defaults, err := h.Repo.GetPrescriptions(ctx, nil, nil)
		if err != nil {
			t.Fatalf("defaults: %v", err)
		}
		if len(defaults) != 10 {
			t.Errorf("default page size = %d, want 10", len(defaults))
		}

		var pageErr *prescription.InvalidPaginationError
		if _, err := h.Repo.GetPrescriptions(ctx, int64Ptr(0), int64Ptr(0)); !errors.As(err, &pageErr) {
			t.Errorf("page_size 0: expected InvalidPaginationError, got %v", err)
		}
		if _, err := h.Repo.GetPrescriptions(ctx, int64Ptr(-1), int64Ptr(10)); !errors.As(err, &pageErr) {
			t.Errorf("page -1: expected InvalidPaginationError, got %v", err)
		}
	})

	t.Run("fill lifecycle", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 1)
		np := newPrescription(t, s, s.drugIDs[0])
		if _, err := h.Repo.CreatePrescription(ctx, np); err != nil {
			t.Fatalf("create: %v", err)
		}

		loaded, err := h.Repo.GetPrescriptionByID(ctx, np.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		nf, err := loaded.NewFill(s.pharmacistID)
		if err != nil {
			t.Fatalf("fill policy: %v", err)
		}

		fill, err := h.Repo.FillPrescription(ctx, nf)
		if err != nil {
			t.Fatalf("fill: %v", err)
		}
		if fill.ID != nf.ID || fill.PrescriptionID != np.ID || fill.PharmacistID != s.pharmacistID {
			t.Errorf("fill record mismatch: %+v", fill)
		}

		reloaded, err := h.Repo.GetPrescriptionByID(ctx, np.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if reloaded.Fill == nil {
			t.Fatal("fill not attached to aggregate")
		}
		if reloaded.Fill.PharmacistID != s.pharmacistID {
			t.Errorf("fill pharmacist = %s, want %s", reloaded.Fill.PharmacistID, s.pharmacistID)
		}
	})

	t.Run("fill with unknown pharmacist", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 1)
		np := newPrescription(t, s, s.drugIDs[0])
		if _, err := h.Repo.CreatePrescription(ctx, np); err != nil {
			t.Fatalf("create: %v", err)
		}

		missing := uuid.New()
		_, err := h.Repo.FillPrescription(ctx, &prescription.NewFill{
			ID:             uuid.New(),
			PrescriptionID: np.ID,
			PharmacistID:   missing,
		})

		var notFound *prescription.PharmacistNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected PharmacistNotFoundError, got %v", err)
		}
		if notFound.ID != missing {
			t.Errorf("error names id %s, want %s", notFound.ID, missing)
		}
	})

	t.Run("fill unknown prescription", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 0)

		missing := uuid.New()
		_, err := h.Repo.FillPrescription(ctx, &prescription.NewFill{
			ID:             uuid.New(),
			PrescriptionID: missing,
			PharmacistID:   s.pharmacistID,
		})

		var notFound *prescription.PrescriptionNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected PrescriptionNotFoundError, got %v", err)
		}
	})

	t.Run("second fill is rejected and original kept", func(t *testing.T) {
		h := setup(t)
		s := seedEntities(t, h, 1)
		np := newPrescription(t, s, s.drugIDs[0])
		if _, err := h.Repo.CreatePrescription(ctx, np); err != nil {
			t.Fatalf("create: %v", err)
		}

		first := &prescription.NewFill{ID: uuid.New(), PrescriptionID: np.ID, PharmacistID: s.pharmacistID}
		if _, err := h.Repo.FillPrescription(ctx, first); err != nil {
			t.Fatalf("first fill: %v", err)
		}

		second := &prescription.NewFill{ID: uuid.New(), PrescriptionID: np.ID, PharmacistID: s.pharmacistID}
		if _, err := h.Repo.FillPrescription(ctx, second); !errors.Is(err, prescription.ErrAlreadyFilled) {
			t.Fatalf("expected ErrAlreadyFilled, got %v", err)
		}

		loaded, err := h.Repo.GetPrescriptionByID(ctx, np.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if loaded.Fill == nil || loaded.Fill.ID != first.ID {
			t.Error("original fill was not preserved")
		}
	})
}

func assertMatchesNew(t *testing.T, got *prescription.Prescription, want *prescription.NewPrescription) {
	t.Helper()
	if got.ID != want.ID {
		t.Errorf("id = %s, want %s", got.ID, want.ID)
	}
	if got.DoctorID != want.DoctorID {
		t.Errorf("doctor = %s, want %s", got.DoctorID, want.DoctorID)
	}
	if got.PatientID != want.PatientID {
		t.Errorf("patient = %s, want %s", got.PatientID, want.PatientID)
	}
	if got.Category != want.Category {
		t.Errorf("category = %s, want %s", got.Category, want.Category)
	}
	if got.Code != want.Code {
		t.Errorf("code = %s, want %s", got.Code, want.Code)
	}
	if !got.StartDate.Equal(want.StartDate) {
		t.Errorf("start date = %v, want %v", got.StartDate, want.StartDate)
	}
	if !got.EndDate.Equal(want.EndDate) {
		t.Errorf("end date = %v, want %v", got.EndDate, want.EndDate)
	}
	if len(got.PrescribedDrugs) != len(want.PrescribedDrugs) {
		t.Errorf("drug count = %d, want %d", len(got.PrescribedDrugs), len(want.PrescribedDrugs))
	}
}

func int64Ptr(v int64) *int64 { return &v }
