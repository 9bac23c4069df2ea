package clinic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/phrazzld/clinicdesk/internal/domain"
	"github.com/phrazzld/clinicdesk/internal/platform/logger"
	"github.com/phrazzld/clinicdesk/internal/store"
	"github.com/phrazzld/clinicdesk/internal/task"
)

// SeedSummary counts the records a Seed run created.
type SeedSummary struct {
	Departments int `json:"departments"`
	Rooms       int `json:"rooms"`
	Diseases    int `json:"diseases"`
	Doctors     int `json:"doctors"`
	Patients    int `json:"patients"`
}

// departmentSpecialties lists the departments the desk starts with and the
// specialties their doctors practise.
var departmentSpecialties = []struct {
	name        string
	specialties []string
}{
	{"cardiology", []string{"interventional cardiology", "electrophysiology"}},
	{"emergency medicine", []string{"trauma", "toxicology"}},
	{"neurology", []string{"stroke", "epilepsy"}},
	{"oncology", []string{"medical oncology", "radiation oncology"}},
	{"pediatrics", []string{"neonatology", "pediatric cardiology"}},
	{"radiology", []string{"diagnostic radiology", "interventional radiology"}},
}

var diseaseCatalog = []struct {
	name        string
	description string
	tests       []string
	treatments  []string
}{
	{"influenza", "viral infection of the respiratory tract", []string{"rapid influenza test"}, []string{"oseltamivir"}},
	{"type 2 diabetes", "chronic high blood sugar", []string{"hba1c", "fasting glucose"}, []string{"metformin", "insulin glargine"}},
	{"hypertension", "persistently raised arterial pressure", []string{"blood pressure panel"}, []string{"lisinopril", "amlodipine"}},
	{"asthma", "chronic airway inflammation", []string{"spirometry"}, []string{"salbutamol"}},
	{"anemia", "low red blood cell count", []string{"complete blood count", "ferritin"}, []string{"ferrous sulfate"}},
}

var (
	firstNames = []string{
		"ada", "alan", "amara", "bruno", "chen", "dara", "elif", "femi", "grace", "hana",
		"ines", "jonas", "kofi", "lena", "malik", "nora", "omar", "priya", "rosa", "sven",
	}
	lastNames = []string{
		"o'neill", "okafor", "novak", "lindqvist", "haddad", "fernandez", "ito", "kowalski",
		"mensah", "nakamura", "petrov", "quinn", "rossi", "singh", "van der berg", "weiss",
	}
	genders = []string{"female", "male", "non-binary"}
	streets = []string{"elm street", "harbour road", "mill lane", "station avenue", "king's way"}
	weekly  = []string{"Mon,Wed,Fri", "Tue,Thu", "Mon,Tue,Wed,Thu,Fri", "Sat,Sun"}
	starts  = []string{"08:00", "09:00", "13:00", "18:00"}
)

// Seed fills the database with the department catalog and n fake patients,
// plus one doctor per department for every ten patients. Catalog rows that
// already exist are reused, so Seed can run repeatedly. Progress is reported
// per patient through task.ReportProgress.
func (q *Queries) Seed(n int) store.UnitOfWork[SeedSummary] {
	return func(ctx context.Context, s *store.Session) (SeedSummary, error) {
		if n < 0 {
			return SeedSummary{}, fmt.Errorf("%w: patient count must not be negative", domain.ErrValidation)
		}

		log := logger.FromContext(ctx)
		rng := rand.New(rand.NewPCG(q.seed, q.seed^0x9e3779b97f4a7c15))
		title := cases.Title(language.English)

		var summary SeedSummary
		departments, err := seedDepartments(ctx, s, title, &summary)
		if err != nil {
			return SeedSummary{}, err
		}
		if err := seedDiseases(ctx, s, title, &summary); err != nil {
			return SeedSummary{}, err
		}

		doctorsPerDepartment := max(1, n/10)
		for i, dep := range departments {
			for range doctorsPerDepartment {
				specialty := departmentSpecialties[i].specialties[rng.IntN(len(departmentSpecialties[i].specialties))]
				if err := seedDoctor(ctx, s, rng, title, dep, specialty); err != nil {
					return SeedSummary{}, err
				}
				summary.Doctors++
			}
		}

		for i := range n {
			if err := seedPatient(ctx, s, rng, title); err != nil {
				return SeedSummary{}, err
			}
			summary.Patients++
			task.ReportProgress(ctx, (i+1)*100/n)
		}

		log.Info("seeded clinic records",
			"departments", summary.Departments,
			"rooms", summary.Rooms,
			"diseases", summary.Diseases,
			"doctors", summary.Doctors,
			"patients", summary.Patients)
		return summary, nil
	}
}

func seedDepartments(ctx context.Context, s *store.Session, title cases.Caser, summary *SeedSummary) ([]int64, error) {
	ids := make([]int64, 0, len(departmentSpecialties))
	for i, dep := range departmentSpecialties {
		name := title.String(dep.name)
		created, err := insertIfMissing(ctx, s,
			`INSERT INTO department (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
		if err != nil {
			return nil, fmt.Errorf("failed to seed department %s: %w", name, err)
		}
		if created {
			summary.Departments++
		}

		var id int64
		if err := s.QueryRowContext(ctx, `SELECT id FROM department WHERE name = $1`, name).Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to look up department %s: %w", name, store.MapError(err))
		}
		ids = append(ids, id)

		// Rooms are numbered by department: 100, 101 for the first, 200, 201 for the second.
		for k := range 2 {
			number := int64((i+1)*100 + k)
			created, err := insertIfMissing(ctx, s, `
				INSERT INTO room (room_number, capacity, department_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (room_number) DO NOTHING
			`, number, k+1, id)
			if err != nil {
				return nil, fmt.Errorf("failed to seed room %d: %w", number, err)
			}
			if created {
				summary.Rooms++
			}
		}
	}
	return ids, nil
}

func seedDiseases(ctx context.Context, s *store.Session, title cases.Caser, summary *SeedSummary) error {
	for _, d := range diseaseCatalog {
		name := title.String(d.name)
		created, err := insertIfMissing(ctx, s, `
			INSERT INTO disease (name, description)
			VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`, name, d.description)
		if err != nil {
			return fmt.Errorf("failed to seed disease %s: %w", name, err)
		}
		if !created {
			continue
		}
		summary.Diseases++

		var diseaseID int64
		if err := s.QueryRowContext(ctx, `SELECT id FROM disease WHERE name = $1`, name).Scan(&diseaseID); err != nil {
			return fmt.Errorf("failed to look up disease %s: %w", name, store.MapError(err))
		}

		for _, test := range d.tests {
			if _, err := s.ExecContext(ctx,
				`INSERT INTO lab_test (disease_id, test_name) VALUES ($1, $2)`,
				diseaseID, title.String(test)); err != nil {
				return fmt.Errorf("failed to seed lab test %s: %w", test, store.MapError(err))
			}
		}
		for _, treatment := range d.treatments {
			if _, err := insertIfMissing(ctx, s,
				`INSERT INTO treatment (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
				title.String(treatment)); err != nil {
				return fmt.Errorf("failed to seed treatment %s: %w", treatment, err)
			}
		}
	}
	return nil
}

func seedDoctor(ctx context.Context, s *store.Session, rng *rand.Rand, title cases.Caser, departmentID int64, specialty string) error {
	first, last := fakeName(rng, title)

	var personID int64
	err := s.QueryRowContext(ctx,
		`INSERT INTO person (first_name, last_name) VALUES ($1, $2) RETURNING id`,
		first, last).Scan(&personID)
	if err != nil {
		return fmt.Errorf("failed to seed doctor person: %w", store.MapError(err))
	}

	var doctorID int64
	err = s.QueryRowContext(ctx, `
		INSERT INTO doctor (person_id, department_id, specialty)
		VALUES ($1, $2, $3)
		RETURNING id
	`, personID, departmentID, title.String(specialty)).Scan(&doctorID)
	if err != nil {
		return fmt.Errorf("failed to seed doctor: %w", store.MapError(err))
	}

	_, err = s.ExecContext(ctx, `
		INSERT INTO availability (doctor_id, days_available, start_time, duration_h)
		VALUES ($1, $2, $3, $4)
	`, doctorID, weekly[rng.IntN(len(weekly))], starts[rng.IntN(len(starts))], 4+rng.IntN(5))
	if err != nil {
		return fmt.Errorf("failed to seed availability: %w", store.MapError(err))
	}
	return nil
}

func seedPatient(ctx context.Context, s *store.Session, rng *rand.Rand, title cases.Caser) error {
	first, last := fakeName(rng, title)
	gender := genders[rng.IntN(len(genders))]
	sex := "F"
	if rng.IntN(2) == 0 {
		sex = "M"
	}
	dob := time.Date(1940+rng.IntN(80), time.Month(1+rng.IntN(12)), 1+rng.IntN(28), 0, 0, 0, 0, time.UTC)
	phone := fmt.Sprintf("555-%03d-%04d", rng.IntN(1000), rng.IntN(10000))
	email := strings.ToLower(strings.ReplaceAll(first+"."+last, " ", "")) + "@example.com"
	address := fmt.Sprintf("%d %s", 1+rng.IntN(400), title.String(streets[rng.IntN(len(streets))]))

	p := domain.NamedPatient{
		Patient: domain.Patient{
			Gender:      gender,
			Sex:         sex,
			DOB:         dob,
			PhoneNumber: &phone,
			Email:       &email,
			Address:     &address,
		},
		FirstName: first,
		LastName:  last,
	}
	if _, err := insertPatient(ctx, s, p); err != nil {
		return fmt.Errorf("failed to seed patient: %w", err)
	}
	return nil
}

func fakeName(rng *rand.Rand, title cases.Caser) (string, string) {
	return title.String(firstNames[rng.IntN(len(firstNames))]),
		title.String(lastNames[rng.IntN(len(lastNames))])
}

// insertIfMissing runs an INSERT ... ON CONFLICT DO NOTHING and reports
// whether a row was written.
func insertIfMissing(ctx context.Context, s *store.Session, query string, args ...any) (bool, error) {
	result, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return false, store.MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// normalizeName trims a person name and puts it in NFC so the same name typed
// with combining marks and precomposed characters compares equal.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
