package clinic

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/clinicdesk/internal/domain"
	"github.com/phrazzld/clinicdesk/internal/events"
	"github.com/phrazzld/clinicdesk/internal/platform/logger"
	"github.com/phrazzld/clinicdesk/internal/store"
)

// Queries builds the units of work of the clinic records desk.
// Reads publish their result on bus; a nil bus only disables publishing.
type Queries struct {
	bus  *events.Bus
	now  func() time.Time
	seed uint64
}

// QueriesOption configures Queries.
type QueriesOption func(*Queries)

// WithClock overrides the clock used for diagnosis timestamps.
func WithClock(now func() time.Time) QueriesOption {
	return func(q *Queries) {
		q.now = now
	}
}

// WithRandSeed fixes the seed of the fake data generator.
func WithRandSeed(seed uint64) QueriesOption {
	return func(q *Queries) {
		q.seed = seed
	}
}

// NewQueries creates the unit-of-work catalog.
func NewQueries(bus *events.Bus, opts ...QueriesOption) *Queries {
	q := &Queries{
		bus:  bus,
		now:  time.Now,
		seed: uint64(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AllTreatments loads every treatment and publishes it on events.Treatments.
func (q *Queries) AllTreatments() store.UnitOfWork[[]domain.Treatment] {
	return func(ctx context.Context, s *store.Session) ([]domain.Treatment, error) {
		treatments, err := queryAll(ctx, s, `
			SELECT id, name, generic_id
			FROM treatment
			ORDER BY id
		`, func(rows *sql.Rows) (domain.Treatment, error) {
			var t domain.Treatment
			err := rows.Scan(&t.ID, &t.Name, &t.GenericID)
			return t, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query treatments: %w", err)
		}

		return treatments, publish(ctx, q.bus, events.Treatments, treatments)
	}
}

// AllDiseases loads every disease and publishes it on events.Diseases.
func (q *Queries) AllDiseases() store.UnitOfWork[[]domain.Disease] {
	return func(ctx context.Context, s *store.Session) ([]domain.Disease, error) {
		diseases, err := queryAll(ctx, s, `
			SELECT id, name, description
			FROM disease
			ORDER BY id
		`, func(rows *sql.Rows) (domain.Disease, error) {
			var d domain.Disease
			err := rows.Scan(&d.ID, &d.Name, &d.Description)
			return d, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query diseases: %w", err)
		}

		return diseases, publish(ctx, q.bus, events.Diseases, diseases)
	}
}

// AllLabTests loads every lab test type and publishes it on events.LabTests.
func (q *Queries) AllLabTests() store.UnitOfWork[[]domain.LabTest] {
	return func(ctx context.Context, s *store.Session) ([]domain.LabTest, error) {
		tests, err := queryAll(ctx, s, `
			SELECT id, disease_id, test_name
			FROM lab_test
			ORDER BY id
		`, func(rows *sql.Rows) (domain.LabTest, error) {
			var t domain.LabTest
			err := rows.Scan(&t.ID, &t.DiseaseID, &t.TestName)
			return t, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query lab tests: %w", err)
		}

		return tests, publish(ctx, q.bus, events.LabTests, tests)
	}
}

// AllPatients loads every patient with their name and publishes the list on
// events.Patients. lastSelected is passed through so the consumer can keep
// its selection across the refresh.
func (q *Queries) AllPatients(lastSelected *int64) store.UnitOfWork[domain.PatientList] {
	return func(ctx context.Context, s *store.Session) (domain.PatientList, error) {
		patients, err := queryAll(ctx, s, `
			SELECT pa.id, pa.person_id, pa.gender, pa.sex, pa.sexual_orientation,
				pa.dob, pa.phone_number, pa.email, pa.address,
				pe.first_name, pe.last_name
			FROM patient pa
			JOIN person pe ON pe.id = pa.person_id
			ORDER BY pe.last_name, pe.first_name, pa.id
		`, scanNamedPatient)
		if err != nil {
			return domain.PatientList{}, fmt.Errorf("failed to query patients: %w", err)
		}

		list := domain.PatientList{Patients: patients, LastSelected: lastSelected}
		return list, publish(ctx, q.bus, events.Patients, list)
	}
}

// AllDoctors loads every doctor with name and department and publishes them
// on events.Doctors.
func (q *Queries) AllDoctors() store.UnitOfWork[[]domain.Doctor] {
	return func(ctx context.Context, s *store.Session) ([]domain.Doctor, error) {
		doctors, err := queryAll(ctx, s, `
			SELECT d.id, d.person_id, d.department_id, d.specialty,
				p.first_name, p.last_name, dep.name
			FROM doctor d
			JOIN person p ON p.id = d.person_id
			JOIN department dep ON dep.id = d.department_id
			ORDER BY d.id
		`, func(rows *sql.Rows) (domain.Doctor, error) {
			var d domain.Doctor
			err := rows.Scan(&d.ID, &d.PersonID, &d.DepartmentID, &d.Specialty,
				&d.FirstName, &d.LastName, &d.DepartmentName)
			return d, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query doctors: %w", err)
		}

		return doctors, publish(ctx, q.bus, events.Doctors, doctors)
	}
}

// AllAvailability loads every availability entry and publishes it on
// events.Availability.
func (q *Queries) AllAvailability() store.UnitOfWork[[]domain.Availability] {
	return func(ctx context.Context, s *store.Session) ([]domain.Availability, error) {
		availability, err := queryAll(ctx, s, `
			SELECT id, doctor_id, days_available, start_time, duration_h
			FROM availability
			ORDER BY doctor_id, id
		`, func(rows *sql.Rows) (domain.Availability, error) {
			var a domain.Availability
			err := rows.Scan(&a.ID, &a.DoctorID, &a.DaysAvailable, &a.StartTime, &a.DurationHours)
			return a, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query availability: %w", err)
		}

		return availability, publish(ctx, q.bus, events.Availability, availability)
	}
}

// DepartmentStatistics aggregates rooms, occupancy, staff and scheduled
// appointments per department and publishes them on events.DeptStatistics.
func (q *Queries) DepartmentStatistics() store.UnitOfWork[[]domain.DepartmentStatistics] {
	return func(ctx context.Context, s *store.Session) ([]domain.DepartmentStatistics, error) {
		stats, err := queryAll(ctx, s, `
			SELECT d.id, d.name,
				(SELECT COUNT(*) FROM room r WHERE r.department_id = d.id),
				(SELECT COALESCE(SUM(r.capacity), 0) FROM room r WHERE r.department_id = d.id),
				(SELECT COUNT(DISTINCT ra.patient_id)
					FROM room_assignment ra
					JOIN room r ON r.room_number = ra.room_number
					WHERE r.department_id = d.id),
				(SELECT COUNT(*) FROM doctor doc WHERE doc.department_id = d.id),
				(SELECT COUNT(*) FROM appointment a
					WHERE a.department_id = d.id AND a.status = 'scheduled')
			FROM department d
			ORDER BY d.id
		`, func(rows *sql.Rows) (domain.DepartmentStatistics, error) {
			var st domain.DepartmentStatistics
			err := rows.Scan(&st.ID, &st.DepartmentName, &st.RoomCount, &st.TotalCapacity,
				&st.NumberOfPatients, &st.NumberOfDoctors, &st.ScheduledAppointments)
			return st, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query department statistics: %w", err)
		}

		return stats, publish(ctx, q.bus, events.DeptStatistics, stats)
	}
}

// AppointmentsForPatient loads a patient's appointments and publishes them
// on events.Appointments.
func (q *Queries) AppointmentsForPatient(patientID int64) store.UnitOfWork[[]domain.NamedAppointment] {
	return func(ctx context.Context, s *store.Session) ([]domain.NamedAppointment, error) {
		appointments, err := queryAll(ctx, s, `
			SELECT a.id, a.patient_id, a.doctor_id, a.department_id, a.slot, a.status,
				a.description, pe.first_name || ' ' || pe.last_name
			FROM appointment a
			JOIN patient pa ON pa.id = a.patient_id
			LEFT JOIN person pe ON pe.id = pa.person_id
			WHERE pa.id = $1
			ORDER BY a.id
		`, func(rows *sql.Rows) (domain.NamedAppointment, error) {
			var a domain.NamedAppointment
			var name sql.NullString
			err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.DepartmentID, &a.Time,
				&a.Status, &a.Description, &name)
			a.PatientName = name.String
			return a, err
		}, patientID)
		if err != nil {
			return nil, fmt.Errorf("failed to query appointments: %w", err)
		}

		return appointments, publish(ctx, q.bus, events.Appointments, appointments)
	}
}

// TestsForPatient loads the lab tests doctorID ordered for patientID and
// publishes them on events.PatientTests.
func (q *Queries) TestsForPatient(patientID, doctorID int64) store.UnitOfWork[[]domain.NamedOrderedLabTest] {
	return func(ctx context.Context, s *store.Session) ([]domain.NamedOrderedLabTest, error) {
		tests, err := queryAll(ctx, s, `
			SELECT o.patient_id, o.lab_test_id, o.doctor_id, o.result, lt.test_name
			FROM ordered_lab_test o
			LEFT JOIN lab_test lt ON lt.id = o.lab_test_id
			WHERE o.patient_id = $1 AND o.doctor_id = $2
			ORDER BY o.lab_test_id
		`, func(rows *sql.Rows) (domain.NamedOrderedLabTest, error) {
			var t domain.NamedOrderedLabTest
			var name sql.NullString
			err := rows.Scan(&t.PatientID, &t.LabTestID, &t.DoctorID, &t.Result, &name)
			t.TestName = name.String
			return t, err
		}, patientID, doctorID)
		if err != nil {
			return nil, fmt.Errorf("failed to query ordered lab tests: %w", err)
		}

		return tests, publish(ctx, q.bus, events.PatientTests, tests)
	}
}

// DiagnosesForPatient loads a patient's diagnoses with disease names and
// publishes them on events.Diagnoses.
func (q *Queries) DiagnosesForPatient(patientID int64) store.UnitOfWork[[]domain.NamedDiagnosis] {
	return func(ctx context.Context, s *store.Session) ([]domain.NamedDiagnosis, error) {
		diagnoses, err := queryAll(ctx, s, `
			SELECT dia.patient_id, dia.doctor_id, dia.disease_id, dia.diagnosed_at,
				dia.comments, dis.name
			FROM diagnosis dia
			LEFT JOIN disease dis ON dis.id = dia.disease_id
			WHERE dia.patient_id = $1
			ORDER BY dia.diagnosed_at, dia.disease_id
		`, func(rows *sql.Rows) (domain.NamedDiagnosis, error) {
			var d domain.NamedDiagnosis
			var name sql.NullString
			err := rows.Scan(&d.PatientID, &d.DoctorID, &d.DiseaseID, &d.Date, &d.Comments, &name)
			d.DiseaseName = name.String
			return d, err
		}, patientID)
		if err != nil {
			return nil, fmt.Errorf("failed to query diagnoses: %w", err)
		}

		return diagnoses, publish(ctx, q.bus, events.Diagnoses, diagnoses)
	}
}

func scanNamedPatient(rows *sql.Rows) (domain.NamedPatient, error) {
	var p domain.NamedPatient
	err := rows.Scan(&p.ID, &p.PersonID, &p.Gender, &p.Sex, &p.SexualOrientation,
		&p.DOB, &p.PhoneNumber, &p.Email, &p.Address,
		&p.FirstName, &p.LastName)
	return p, err
}

// queryAll runs query and scans every row with scan. The result is never
// nil so empty tables publish as empty lists.
func queryAll[T any](
	ctx context.Context,
	db store.DBTX,
	query string,
	scan func(*sql.Rows) (T, error),
	args ...any,
) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logger.FromContext(ctx).Warn("failed to close rows", slog.String("error", cerr.Error()))
		}
	}()

	items := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	logger.FromContext(ctx).Debug("query returned rows", slog.Int("count", len(items)))
	return items, nil
}

func publish[T any](ctx context.Context, bus *events.Bus, ch events.Channel[T], payload T) error {
	if bus == nil {
		return nil
	}
	if err := events.Publish(ctx, bus, ch, payload); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", ch.Name(), err)
	}
	return nil
}
