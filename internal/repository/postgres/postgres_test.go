package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emedica/erx/internal/domain/prescription"
	"github.com/emedica/erx/internal/repository/repositorytest"
)

func pgError(code, constraint string) *pgconn.PgError {
	return &pgconn.PgError{Code: code, ConstraintName: constraint}
}

func TestMapHeaderError(t *testing.T) {
	np := &prescription.NewPrescription{DoctorID: uuid.New(), PatientID: uuid.New()}

	err := mapHeaderError(pgError(fkViolation, "prescriptions_doctor_id_fkey"), np)
	var doctorErr *prescription.DoctorNotFoundError
	if !errors.As(err, &doctorErr) || doctorErr.ID != np.DoctorID {
		t.Errorf("doctor fk violation mapped to %v", err)
	}

	err = mapHeaderError(pgError(fkViolation, "prescriptions_patient_id_fkey"), np)
	var patientErr *prescription.PatientNotFoundError
	if !errors.As(err, &patientErr) || patientErr.ID != np.PatientID {
		t.Errorf("patient fk violation mapped to %v", err)
	}

	err = mapHeaderError(pgError("57P01", ""), np)
	var dbErr *prescription.DatabaseError
	if !errors.As(err, &dbErr) {
		t.Errorf("unrelated error mapped to %v, want DatabaseError", err)
	}
}

func TestMapDrugError(t *testing.T) {
	drugID := uuid.New()

	err := mapDrugError(pgError(fkViolation, "prescribed_drugs_drug_id_fkey"), drugID)
	var drugErr *prescription.DrugNotFoundError
	if !errors.As(err, &drugErr) || drugErr.ID != drugID {
		t.Errorf("drug fk violation mapped to %v", err)
	}

	err = mapDrugError(pgError(fkViolation, "prescribed_drugs_prescription_id_fkey"), drugID)
	var dbErr *prescription.DatabaseError
	if !errors.As(err, &dbErr) {
		t.Errorf("other fk violation mapped to %v, want DatabaseError", err)
	}
}

func TestMapFillError(t *testing.T) {
	nf := &prescription.NewFill{
		ID:             uuid.New(),
		PrescriptionID: uuid.New(),
		PharmacistID:   uuid.New(),
	}

	err := mapFillError(pgError(uniqueViolation, "prescription_fills_prescription_id_key"), nf)
	if !errors.Is(err, prescription.ErrAlreadyFilled) {
		t.Errorf("unique violation mapped to %v, want ErrAlreadyFilled", err)
	}

	err = mapFillError(pgError(fkViolation, "prescription_fills_prescription_id_fkey"), nf)
	var notFound *prescription.PrescriptionNotFoundError
	if !errors.As(err, &notFound) || notFound.ID != nf.PrescriptionID {
		t.Errorf("prescription fk violation mapped to %v", err)
	}

	err = mapFillError(pgError(fkViolation, "prescription_fills_pharmacist_id_fkey"), nf)
	var pharmErr *prescription.PharmacistNotFoundError
	if !errors.As(err, &pharmErr) || pharmErr.ID != nf.PharmacistID {
		t.Errorf("pharmacist fk violation mapped to %v", err)
	}

	err = mapFillError(errors.New("connection reset"), nf)
	var dbErr *prescription.DatabaseError
	if !errors.As(err, &dbErr) {
		t.Errorf("plain error mapped to %v, want DatabaseError", err)
	}
}

// TestRepositoryContract runs the shared adapter contract against a real
// database. It needs ERX_TEST_DATABASE_URL pointing at a database with
// testdata/schema.sql applied, and truncates the tables between subtests.
func TestRepositoryContract(t *testing.T) {
	dsn := os.Getenv("ERX_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ERX_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	seedRow := func(table string) func(t *testing.T) uuid.UUID {
		return func(t *testing.T) uuid.UUID {
			t.Helper()
			id := uuid.New()
			query := fmt.Sprintf("INSERT INTO %s (id, name) VALUES ($1, $2)", table)
			if _, err := pool.Exec(ctx, query, id, "contract-"+id.String()[:8]); err != nil {
				t.Fatalf("seed %s: %v", table, err)
			}
			return id
		}
	}

	repositorytest.Run(t, func(t *testing.T) *repositorytest.Harness {
		_, err := pool.Exec(ctx, `
			TRUNCATE prescription_fills, prescribed_drugs, prescriptions,
			         outbox, doctors, patients, pharmacists, drugs CASCADE
		`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return &repositorytest.Harness{
			Repo:          NewRepository(pool, nil),
			NewDoctor:     seedRow("doctors"),
			NewPatient:    seedRow("patients"),
			NewPharmacist: seedRow("pharmacists"),
			NewDrug:       seedRow("drugs"),
		}
	})
}
