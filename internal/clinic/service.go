package clinic

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/clinicdesk/internal/domain"
	"github.com/phrazzld/clinicdesk/internal/redact"
	"github.com/phrazzld/clinicdesk/internal/store"
	"github.com/phrazzld/clinicdesk/internal/task"
)

// Service submits clinic units of work to the dispatcher. Every write
// chains a refresh of the channel it affects onto its finished
// notification, whether or not the write succeeded, so subscribers see the
// current state either way.
type Service struct {
	dispatcher *task.Dispatcher
	sessions   store.SessionSource
	queries    *Queries
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(d *task.Dispatcher, sessions store.SessionSource, queries *Queries, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		dispatcher: d,
		sessions:   sessions,
		queries:    queries,
		logger:     logger.With("component", "clinic_service"),
	}
}

// RefreshCatalog reloads every table-wide channel: treatments, diseases,
// lab tests, patients, doctors, availability and department statistics.
func (s *Service) RefreshCatalog() ([]*task.Handle, error) {
	submits := []func() (*task.Handle, error){
		func() (*task.Handle, error) {
			return task.SubmitUnit(s.dispatcher, s.sessions, "all_treatments", s.queries.AllTreatments())
		},
		func() (*task.Handle, error) {
			return task.SubmitUnit(s.dispatcher, s.sessions, "all_diseases", s.queries.AllDiseases())
		},
		func() (*task.Handle, error) {
			return task.SubmitUnit(s.dispatcher, s.sessions, "all_lab_tests", s.queries.AllLabTests())
		},
		func() (*task.Handle, error) { return s.RefreshPatients(nil) },
		func() (*task.Handle, error) {
			return task.SubmitUnit(s.dispatcher, s.sessions, "all_doctors", s.queries.AllDoctors())
		},
		func() (*task.Handle, error) {
			return task.SubmitUnit(s.dispatcher, s.sessions, "all_availability", s.queries.AllAvailability())
		},
		s.RefreshDepartmentStatistics,
	}

	handles := make([]*task.Handle, 0, len(submits))
	for _, submit := range submits {
		h, err := submit()
		if err != nil {
			return handles, fmt.Errorf("failed to refresh catalog: %w", err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// RefreshPatients reloads the patients channel, keeping lastSelected selected.
func (s *Service) RefreshPatients(lastSelected *int64) (*task.Handle, error) {
	return task.SubmitUnit(s.dispatcher, s.sessions, "all_patients", s.queries.AllPatients(lastSelected))
}

// RefreshDepartmentStatistics reloads the dept_statistics channel.
func (s *Service) RefreshDepartmentStatistics() (*task.Handle, error) {
	return task.SubmitUnit(s.dispatcher, s.sessions, "department_statistics", s.queries.DepartmentStatistics())
}

// RefreshAppointments reloads the appointments channel for patientID.
func (s *Service) RefreshAppointments(patientID int64) (*task.Handle, error) {
	return task.SubmitUnit(s.dispatcher, s.sessions, "appointments_for_patient",
		s.queries.AppointmentsForPatient(patientID))
}

// RefreshPatientTests reloads the patient_tests channel.
func (s *Service) RefreshPatientTests(patientID, doctorID int64) (*task.Handle, error) {
	return task.SubmitUnit(s.dispatcher, s.sessions, "tests_for_patient",
		s.queries.TestsForPatient(patientID, doctorID))
}

// RefreshDiagnoses reloads the diagnoses channel for patientID.
func (s *Service) RefreshDiagnoses(patientID int64) (*task.Handle, error) {
	return task.SubmitUnit(s.dispatcher, s.sessions, "diagnoses_for_patient",
		s.queries.DiagnosesForPatient(patientID))
}

// OpenPatientRecord loads what the desk shows for a selected patient: the
// tests doctorID ordered, the diagnoses and the appointments.
func (s *Service) OpenPatientRecord(patientID, doctorID int64) ([]*task.Handle, error) {
	var handles []*task.Handle
	for _, submit := range []func() (*task.Handle, error){
		func() (*task.Handle, error) { return s.RefreshPatientTests(patientID, doctorID) },
		func() (*task.Handle, error) { return s.RefreshDiagnoses(patientID) },
		func() (*task.Handle, error) { return s.RefreshAppointments(patientID) },
	} {
		h, err := submit()
		if err != nil {
			return handles, fmt.Errorf("failed to open patient record: %w", err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// CreatePatient inserts p, then refreshes patients with the new patient
// selected.
func (s *Service) CreatePatient(p domain.NamedPatient) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "create_patient", s.queries.CreatePatient(p))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		var selected *int64
		if id, ok := task.Value[int64](r); ok {
			selected = &id
		}
		s.chain(r, func() (*task.Handle, error) { return s.RefreshPatients(selected) })
	}), nil
}

// UpdatePatient saves p, then refreshes patients keeping p selected.
func (s *Service) UpdatePatient(p domain.NamedPatient) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "update_patient", s.queries.UpdatePatient(p))
	if err != nil {
		return nil, err
	}
	id := p.ID
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshPatients(&id) })
	}), nil
}

// CreateDiagnosis records a diagnosis, then refreshes the patient's diagnoses.
func (s *Service) CreateDiagnosis(patientID, doctorID, diseaseID int64) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "create_diagnosis",
		s.queries.CreateDiagnosis(patientID, doctorID, diseaseID))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshDiagnoses(patientID) })
	}), nil
}

// AddDiagnosisComment updates the comments of d, then refreshes the
// patient's diagnoses.
func (s *Service) AddDiagnosisComment(d domain.Diagnosis, comment string) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "add_diagnosis_comment",
		s.queries.AddDiagnosisComment(d, comment))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshDiagnoses(d.PatientID) })
	}), nil
}

// MakeAppointment books an appointment, then refreshes the patient's
// appointments.
func (s *Service) MakeAppointment(patientID, doctorID int64, slot, description string) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "make_appointment",
		s.queries.MakeAppointment(patientID, doctorID, slot, description))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshAppointments(patientID) })
	}), nil
}

// UpdateAppointmentStatus changes an appointment's status, then refreshes
// the appointments of patientID.
func (s *Service) UpdateAppointmentStatus(patientID, appointmentID int64, status domain.AppointmentStatus) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "update_appointment_status",
		s.queries.UpdateAppointmentStatus(appointmentID, status))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshAppointments(patientID) })
	}), nil
}

// OrderLabTest orders a test, then refreshes the tests doctorID ordered for
// patientID.
func (s *Service) OrderLabTest(patientID, doctorID, labTestID int64) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "order_lab_test",
		s.queries.OrderLabTest(patientID, doctorID, labTestID))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshPatientTests(patientID, doctorID) })
	}), nil
}

// RecordTestResult stores a result, then refreshes the patient's tests.
func (s *Service) RecordTestResult(t domain.OrderedLabTest, result string) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "record_test_result",
		s.queries.RecordTestResult(t, result))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshPatientTests(t.PatientID, t.DoctorID) })
	}), nil
}

// OrderPrescription orders a prescription, then refreshes patients keeping
// the patient selected.
func (s *Service) OrderPrescription(p domain.Prescription) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "order_prescription", s.queries.OrderPrescription(p))
	if err != nil {
		return nil, err
	}
	id := p.PatientID
	return h.OnFinished(func(r task.Result) {
		s.chain(r, func() (*task.Handle, error) { return s.RefreshPatients(&id) })
	}), nil
}

// AssignRoom places a patient in a room, then refreshes department
// statistics.
func (s *Service) AssignRoom(patientID, roomNumber int64) (*task.Handle, error) {
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "assign_room", s.queries.AssignRoom(patientID, roomNumber))
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		s.chain(r, s.RefreshDepartmentStatistics)
	}), nil
}

// Seed generates n fake patients with progress, then refreshes the catalog.
// opts are passed to the submission, for example task.WithProgressObserver.
func (s *Service) Seed(n int, opts ...task.SubmitOption) (*task.Handle, error) {
	opts = append([]task.SubmitOption{task.WithProgress()}, opts...)
	h, err := task.SubmitUnit(s.dispatcher, s.sessions, "seed", s.queries.Seed(n), opts...)
	if err != nil {
		return nil, err
	}
	return h.OnFinished(func(r task.Result) {
		if !r.Succeeded() {
			return
		}
		if _, err := s.RefreshCatalog(); err != nil {
			s.logger.Warn("failed to refresh catalog after seeding", "error", redact.Error(err))
		}
	}), nil
}

// chain submits the refresh that follows a finished write. It runs on the
// consumer loop.
func (s *Service) chain(r task.Result, refresh func() (*task.Handle, error)) {
	if _, err := refresh(); err != nil {
		s.logger.Warn("failed to submit refresh",
			"after_task", r.Name,
			"task_id", r.TaskID.String(),
			"error", redact.Error(err))
	}
}
