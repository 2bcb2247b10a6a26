package prescription

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewAppliesDefaults(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()
	before := time.Now().UTC()

	p, err := New(doctorID, patientID, []NewPrescribedDrug{{DrugID: uuid.New(), Quantity: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.DoctorID != doctorID || p.PatientID != patientID {
		t.Errorf("doctor/patient ids not carried over")
	}
	if p.Category != CategoryRegular {
		t.Errorf("default category = %s, want %s", p.Category, CategoryRegular)
	}
	if p.StartDate.Before(before) || p.StartDate.After(time.Now().UTC()) {
		t.Errorf("default start date %v not close to now", p.StartDate)
	}
	if got, want := p.EndDate, p.StartDate.Add(30*24*time.Hour); !got.Equal(want) {
		t.Errorf("end date = %v, want %v", got, want)
	}
	if p.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if len(p.Code) != CodeLength {
		t.Errorf("code length = %d, want %d", len(p.Code), CodeLength)
	}
}

func TestNewDurationPerCategory(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		category Category
		days     int
	}{
		{CategoryRegular, 30},
		{CategoryForAntibiotics, 7},
		{CategoryForImmunologicalDrugs, 120},
		{CategoryForChronicDiseaseDrugs, 365},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			p, err := New(uuid.New(), uuid.New(),
				[]NewPrescribedDrug{{DrugID: uuid.New(), Quantity: 1}},
				WithStartDate(start), WithCategory(tt.category))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := start.Add(time.Duration(tt.days) * 24 * time.Hour)
			if !p.EndDate.Equal(want) {
				t.Errorf("end date = %v, want %v", p.EndDate, want)
			}
			if !p.StartDate.Equal(start) {
				t.Errorf("start date = %v, want %v", p.StartDate, start)
			}
		})
	}
}

func TestNewRejectsEmptyDrugList(t *testing.T) {
	_, err := New(uuid.New(), uuid.New(), nil)
	if !errors.Is(err, ErrNoPrescribedDrugs) {
		t.Fatalf("expected ErrNoPrescribedDrugs, got %v", err)
	}
}

func TestNewRejectsNonPositiveQuantity(t *testing.T) {
	drugID := uuid.New()

	for _, qty := range []int{0, -1} {
		_, err := New(uuid.New(), uuid.New(), []NewPrescribedDrug{{DrugID: drugID, Quantity: qty}})

		var qtyErr *InvalidDrugQuantityError
		if !errors.As(err, &qtyErr) {
			t.Fatalf("quantity %d: expected InvalidDrugQuantityError, got %v", qty, err)
		}
		if qtyErr.DrugID != drugID {
			t.Errorf("error names drug %s, want %s", qtyErr.DrugID, drugID)
		}
	}
}

func TestNewRejectsDuplicateDrug(t *testing.T) {
	drugID := uuid.New()
	drugs := []NewPrescribedDrug{
		{DrugID: drugID, Quantity: 1},
		{DrugID: uuid.New(), Quantity: 2},
		{DrugID: drugID, Quantity: 3},
	}

	_, err := New(uuid.New(), uuid.New(), drugs)

	var dupErr *DuplicateDrugError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateDrugError, got %v", err)
	}
	if dupErr.DrugID != drugID {
		t.Errorf("error names drug %s, want %s", dupErr.DrugID, drugID)
	}
}

func TestNewChecksQuantityBeforeDuplicate(t *testing.T) {
	drugID := uuid.New()
	drugs := []NewPrescribedDrug{
		{DrugID: drugID, Quantity: 1},
		{DrugID: drugID, Quantity: 0},
	}

	_, err := New(uuid.New(), uuid.New(), drugs)

	var qtyErr *InvalidDrugQuantityError
	if !errors.As(err, &qtyErr) {
		t.Fatalf("expected InvalidDrugQuantityError, got %v", err)
	}
}

func testPrescription(start, end time.Time) *Prescription {
	id := uuid.New()
	return &Prescription{
		ID:        id,
		DoctorID:  uuid.New(),
		PatientID: uuid.New(),
		PrescribedDrugs: []PrescribedDrug{
			{ID: uuid.New(), PrescriptionID: id, DrugID: uuid.New(), Quantity: 1},
		},
		Category:  CategoryRegular,
		Code:      "a1B2c3D4",
		StartDate: start,
		EndDate:   end,
		CreatedAt: start,
		UpdatedAt: start,
	}
}

func TestFillAtWithinWindow(t *testing.T) {
	now := time.Now().UTC()
	p := testPrescription(now.Add(-time.Hour), now.Add(time.Hour))
	pharmacistID := uuid.New()

	fill, err := p.FillAt(pharmacistID, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.PrescriptionID != p.ID {
		t.Errorf("fill prescription id = %s, want %s", fill.PrescriptionID, p.ID)
	}
	if fill.PharmacistID != pharmacistID {
		t.Errorf("fill pharmacist id = %s, want %s", fill.PharmacistID, pharmacistID)
	}
	if fill.ID == uuid.Nil {
		t.Error("expected generated fill id")
	}
	if p.Fill != nil {
		t.Error("FillAt must not mutate the prescription")
	}
}

func TestFillAtWindowBoundaries(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{name: "exactly at start", at: start},
		{name: "exactly at end", at: end},
		{name: "before start", at: start.Add(-time.Second), wantErr: ErrInvalidDate},
		{name: "after end", at: end.Add(time.Second), wantErr: ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPrescription(start, end)
			_, err := p.FillAt(uuid.New(), tt.at)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFillAtRejectsSecondFill(t *testing.T) {
	now := time.Now().UTC()
	p := testPrescription(now.Add(-time.Hour), now.Add(time.Hour))
	p.Fill = &Fill{
		ID:             uuid.New(),
		PrescriptionID: p.ID,
		PharmacistID:   uuid.New(),
		CreatedAt:      now.Add(-time.Minute),
		UpdatedAt:      now.Add(-time.Minute),
	}

	_, err := p.FillAt(uuid.New(), now)
	if !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("expected ErrAlreadyFilled, got %v", err)
	}
}
