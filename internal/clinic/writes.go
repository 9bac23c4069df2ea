package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/clinicdesk/internal/domain"
	"github.com/phrazzld/clinicdesk/internal/store"
)

// ErrRoomFull is returned by AssignRoom when a room is at capacity.
var ErrRoomFull = errors.New("room is at capacity")

// CreatePatient inserts the person and patient records of p and returns the
// new patient ID.
func (q *Queries) CreatePatient(p domain.NamedPatient) store.UnitOfWork[int64] {
	return func(ctx context.Context, s *store.Session) (int64, error) {
		if err := p.Validate(); err != nil {
			return 0, err
		}

		return insertPatient(ctx, s, p)
	}
}

func insertPatient(ctx context.Context, s *store.Session, p domain.NamedPatient) (int64, error) {
	var personID int64
	err := s.QueryRowContext(ctx, `
		INSERT INTO person (first_name, last_name)
		VALUES ($1, $2)
		RETURNING id
	`, normalizeName(p.FirstName), normalizeName(p.LastName)).Scan(&personID)
	if err != nil {
		return 0, fmt.Errorf("failed to create person: %w", store.MapError(err))
	}

	var patientID int64
	err = s.QueryRowContext(ctx, `
		INSERT INTO patient (person_id, gender, sex, sexual_orientation, dob,
			phone_number, email, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, personID, p.Gender, p.Sex, p.SexualOrientation, p.DOB,
		p.PhoneNumber, p.Email, p.Address).Scan(&patientID)
	if err != nil {
		return 0, fmt.Errorf("failed to create patient: %w", store.MapError(err))
	}

	return patientID, nil
}

// UpdatePatient replaces the name and details of the patient p.ID.
// Returns store.ErrNotFound if the patient does not exist.
func (q *Queries) UpdatePatient(p domain.NamedPatient) store.UnitOfWork[int64] {
	return func(ctx context.Context, s *store.Session) (int64, error) {
		if p.ID <= 0 {
			return 0, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidID)
		}
		if err := p.Validate(); err != nil {
			return 0, err
		}

		result, err := s.ExecContext(ctx, `
			UPDATE person
			SET first_name = $1, last_name = $2
			WHERE id = (SELECT person_id FROM patient WHERE id = $3)
		`, normalizeName(p.FirstName), normalizeName(p.LastName), p.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to update person: %w", store.MapError(err))
		}
		if err := store.CheckRowsAffected(result, "patient"); err != nil {
			return 0, err
		}

		result, err = s.ExecContext(ctx, `
			UPDATE patient
			SET gender = $1, sex = $2, sexual_orientation = $3, dob = $4,
				phone_number = $5, email = $6, address = $7
			WHERE id = $8
		`, p.Gender, p.Sex, p.SexualOrientation, p.DOB,
			p.PhoneNumber, p.Email, p.Address, p.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to update patient: %w", store.MapError(err))
		}
		if err := store.CheckRowsAffected(result, "patient"); err != nil {
			return 0, err
		}

		return p.ID, nil
	}
}

// CreateDiagnosis records that doctorID diagnosed patientID with diseaseID.
func (q *Queries) CreateDiagnosis(patientID, doctorID, diseaseID int64) store.UnitOfWork[domain.Diagnosis] {
	return func(ctx context.Context, s *store.Session) (domain.Diagnosis, error) {
		if err := requireIDs(patientID, doctorID, diseaseID); err != nil {
			return domain.Diagnosis{}, err
		}

		d := domain.Diagnosis{
			PatientID: patientID,
			DoctorID:  doctorID,
			DiseaseID: diseaseID,
			Date:      q.now().UTC(),
		}
		_, err := s.ExecContext(ctx, `
			INSERT INTO diagnosis (patient_id, doctor_id, disease_id, diagnosed_at)
			VALUES ($1, $2, $3, $4)
		`, d.PatientID, d.DoctorID, d.DiseaseID, d.Date)
		if err != nil {
			return domain.Diagnosis{}, fmt.Errorf("failed to create diagnosis: %w", store.MapError(err))
		}

		return d, nil
	}
}

// AddDiagnosisComment replaces the comments of the diagnosis identified by
// the patient, doctor and disease of d.
func (q *Queries) AddDiagnosisComment(d domain.Diagnosis, comment string) store.UnitOfWork[domain.Diagnosis] {
	return func(ctx context.Context, s *store.Session) (domain.Diagnosis, error) {
		result, err := s.ExecContext(ctx, `
			UPDATE diagnosis
			SET comments = $1
			WHERE patient_id = $2 AND doctor_id = $3 AND disease_id = $4
		`, comment, d.PatientID, d.DoctorID, d.DiseaseID)
		if err != nil {
			return domain.Diagnosis{}, fmt.Errorf("failed to update diagnosis comments: %w", store.MapError(err))
		}
		if err := store.CheckRowsAffected(result, "diagnosis"); err != nil {
			return domain.Diagnosis{}, err
		}

		d.Comments = &comment
		return d, nil
	}
}

// MakeAppointment books slot with doctorID for patientID in the doctor's
// department and returns the appointment ID. A doctor can hold each slot
// once; a second booking fails with store.ErrDuplicate.
func (q *Queries) MakeAppointment(patientID, doctorID int64, slot, description string) store.UnitOfWork[int64] {
	return func(ctx context.Context, s *store.Session) (int64, error) {
		if err := requireIDs(patientID, doctorID); err != nil {
			return 0, err
		}
		if strings.TrimSpace(slot) == "" {
			return 0, fmt.Errorf("%w: appointment slot is required", domain.ErrValidation)
		}

		var departmentID int64
		err := s.QueryRowContext(ctx, `SELECT department_id FROM doctor WHERE id = $1`, doctorID).
			Scan(&departmentID)
		if err != nil {
			return 0, store.NewStoreError("doctor", "lookup", "failed to find the doctor's department", store.MapError(err))
		}

		var id int64
		err = s.QueryRowContext(ctx, `
			INSERT INTO appointment (patient_id, doctor_id, department_id, slot, status, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, patientID, doctorID, departmentID, slot, domain.AppointmentScheduled, description).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to create appointment: %w", store.MapError(err))
		}

		return id, nil
	}
}

// UpdateAppointmentStatus moves an appointment to status.
func (q *Queries) UpdateAppointmentStatus(appointmentID int64, status domain.AppointmentStatus) store.UnitOfWork[domain.AppointmentStatus] {
	return func(ctx context.Context, s *store.Session) (domain.AppointmentStatus, error) {
		if !status.Valid() {
			return "", fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrInvalidAppointmentStatus, status)
		}

		result, err := s.ExecContext(ctx, `UPDATE appointment SET status = $1 WHERE id = $2`,
			status, appointmentID)
		if err != nil {
			return "", fmt.Errorf("failed to update appointment status: %w", store.MapError(err))
		}
		if err := store.CheckRowsAffected(result, "appointment"); err != nil {
			return "", err
		}

		return status, nil
	}
}

// OrderLabTest orders labTestID for patientID on behalf of doctorID.
func (q *Queries) OrderLabTest(patientID, doctorID, labTestID int64) store.UnitOfWork[domain.OrderedLabTest] {
	return func(ctx context.Context, s *store.Session) (domain.OrderedLabTest, error) {
		if err := requireIDs(patientID, doctorID, labTestID); err != nil {
			return domain.OrderedLabTest{}, err
		}

		_, err := s.ExecContext(ctx, `
			INSERT INTO ordered_lab_test (patient_id, lab_test_id, doctor_id)
			VALUES ($1, $2, $3)
		`, patientID, labTestID, doctorID)
		if err != nil {
			return domain.OrderedLabTest{}, fmt.Errorf("failed to order lab test: %w", store.MapError(err))
		}

		return domain.OrderedLabTest{PatientID: patientID, LabTestID: labTestID, DoctorID: doctorID}, nil
	}
}

// RecordTestResult stores the lab's result for an ordered test.
func (q *Queries) RecordTestResult(t domain.OrderedLabTest, result string) store.UnitOfWork[domain.OrderedLabTest] {
	return func(ctx context.Context, s *store.Session) (domain.OrderedLabTest, error) {
		res, err := s.ExecContext(ctx, `
			UPDATE ordered_lab_test
			SET result = $1
			WHERE patient_id = $2 AND lab_test_id = $3 AND doctor_id = $4
		`, result, t.PatientID, t.LabTestID, t.DoctorID)
		if err != nil {
			return domain.OrderedLabTest{}, fmt.Errorf("failed to record test result: %w", store.MapError(err))
		}
		if err := store.CheckRowsAffected(res, "ordered lab test"); err != nil {
			return domain.OrderedLabTest{}, err
		}

		t.Result = &result
		return t, nil
	}
}

// OrderPrescription inserts p and returns its ID.
func (q *Queries) OrderPrescription(p domain.Prescription) store.UnitOfWork[int64] {
	return func(ctx context.Context, s *store.Session) (int64, error) {
		if err := p.Validate(); err != nil {
			return 0, err
		}

		var id int64
		err := s.QueryRowContext(ctx, `
			INSERT INTO prescription (patient_id, disease_id, treatment_id, start_date, end_date,
				dosage_instructions)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, p.PatientID, p.DiseaseID, p.TreatmentID, p.StartDate, p.EndDate, p.DosageInstructions).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to order prescription: %w", store.MapError(err))
		}

		return id, nil
	}
}

// AssignRoom places patientID in roomNumber. Returns ErrRoomFull when the
// room already holds as many patients as its capacity.
func (q *Queries) AssignRoom(patientID, roomNumber int64) store.UnitOfWork[domain.Room] {
	return func(ctx context.Context, s *store.Session) (domain.Room, error) {
		// Touching the room row takes its write lock until commit, so
		// concurrent assignments to one room count occupants one at a time.
		result, err := s.ExecContext(ctx, `
			UPDATE room SET capacity = capacity WHERE room_number = $1
		`, roomNumber)
		if err != nil {
			return domain.Room{}, fmt.Errorf("failed to lock room: %w", store.MapError(err))
		}
		if err := store.CheckRowsAffected(result, "room"); err != nil {
			return domain.Room{}, store.NewStoreError("room", "lookup", "room not found", err)
		}

		var room domain.Room
		var occupied int
		err = s.QueryRowContext(ctx, `
			SELECT r.room_number, r.capacity, r.department_id,
				(SELECT COUNT(*) FROM room_assignment ra WHERE ra.room_number = r.room_number)
			FROM room r
			WHERE r.room_number = $1
		`, roomNumber).Scan(&room.RoomNumber, &room.Capacity, &room.DepartmentID, &occupied)
		if err != nil {
			return domain.Room{}, fmt.Errorf("failed to look up room: %w", store.MapError(err))
		}
		if occupied >= room.Capacity {
			return domain.Room{}, fmt.Errorf("%w: room %d holds %d", ErrRoomFull, room.RoomNumber, room.Capacity)
		}

		_, err = s.ExecContext(ctx, `
			INSERT INTO room_assignment (room_number, patient_id)
			VALUES ($1, $2)
		`, roomNumber, patientID)
		if err != nil {
			return domain.Room{}, fmt.Errorf("failed to assign room: %w", store.MapError(err))
		}

		return room, nil
	}
}

func requireIDs(ids ...int64) error {
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidID)
		}
	}
	return nil
}
