package domain

import (
	"fmt"
	"time"
)

// Treatment is a drug or therapy. GenericID points at the generic
// equivalent when this treatment is a brand.
type Treatment struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	GenericID *int64 `json:"generic_id,omitempty"`
}

// Disease is a diagnosable condition.
type Disease struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LabTest is a test type that can be ordered for a disease.
type LabTest struct {
	ID        int64  `json:"id"`
	DiseaseID int64  `json:"disease_id"`
	TestName  string `json:"test_name"`
}

// OrderedLabTest is a lab test ordered by a doctor for a patient.
// Result is nil until the lab reports back.
type OrderedLabTest struct {
	PatientID int64   `json:"patient_id"`
	LabTestID int64   `json:"lab_test_id"`
	DoctorID  int64   `json:"doctor_id"`
	Result    *string `json:"result,omitempty"`
}

// NamedOrderedLabTest is an OrderedLabTest joined with its test name.
type NamedOrderedLabTest struct {
	OrderedLabTest
	TestName string `json:"test_name"`
}

// AppointmentStatus tracks a visit from booking to completion.
type AppointmentStatus string

// Possible appointment status values
const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCheckedIn AppointmentStatus = "checked_in"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentCheckedIn, AppointmentCompleted,
		AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// Appointment is a booked visit. Time is the slot label chosen from the
// doctor's availability.
type Appointment struct {
	ID           int64             `json:"id"`
	PatientID    int64             `json:"patient_id"`
	DoctorID     int64             `json:"doctor_id"`
	DepartmentID int64             `json:"department_id"`
	Time         string            `json:"time"`
	Status       AppointmentStatus `json:"status"`
	Description  string            `json:"description"`
}

// NamedAppointment is an Appointment joined with the patient's full name.
type NamedAppointment struct {
	Appointment
	PatientName string `json:"patient_name"`
}

// Diagnosis links a patient, the diagnosing doctor and a disease.
type Diagnosis struct {
	PatientID int64     `json:"patient_id"`
	DoctorID  int64     `json:"doctor_id"`
	DiseaseID int64     `json:"disease_id"`
	Date      time.Time `json:"date"`
	Comments  *string   `json:"comments,omitempty"`
}

// NamedDiagnosis is a Diagnosis joined with the disease name.
type NamedDiagnosis struct {
	Diagnosis
	DiseaseName string `json:"disease_name"`
}

// Prescription orders a treatment for a diagnosed disease over a date range.
type Prescription struct {
	ID                 int64     `json:"id"`
	PatientID          int64     `json:"patient_id"`
	DiseaseID          int64     `json:"disease_id"`
	TreatmentID        int64     `json:"treatment_id"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	DosageInstructions *string   `json:"dosage_instructions,omitempty"`
}

// Validate checks references and the date range.
func (p *Prescription) Validate() error {
	if p.PatientID <= 0 || p.DiseaseID <= 0 || p.TreatmentID <= 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidID)
	}

	if p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidDateRange)
	}

	return nil
}
