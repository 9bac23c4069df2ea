package domain

import (
	"fmt"
	"strings"
	"time"
)

// Person is the name record shared by patients and doctors.
type Person struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Patient holds the demographic and contact details of a registered patient.
// Optional contact fields are nil when unknown.
type Patient struct {
	ID                int64     `json:"id"`
	PersonID          int64     `json:"person_id"`
	Gender            string    `json:"gender"`
	Sex               string    `json:"sex"`
	SexualOrientation *string   `json:"sexual_orientation,omitempty"`
	DOB               time.Time `json:"dob"`
	PhoneNumber       *string   `json:"phone_number,omitempty"`
	Email             *string   `json:"email,omitempty"`
	Address           *string   `json:"address,omitempty"`
}

// NamedPatient is a Patient joined with its Person name.
type NamedPatient struct {
	Patient
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName returns "First Last".
func (p NamedPatient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Validate checks the fields a create or update needs.
func (p *NamedPatient) Validate() error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyName)
	}

	if p.Email != nil && *p.Email != "" && !strings.Contains(*p.Email, "@") {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidEmail)
	}

	if p.DOB.After(time.Now()) {
		return fmt.Errorf("%w: date of birth is in the future", ErrValidation)
	}

	return nil
}

// PatientList is the payload of the patients channel. LastSelected carries
// the patient the consumer should keep selected after a refresh, or nil.
type PatientList struct {
	Patients     []NamedPatient `json:"patients"`
	LastSelected *int64         `json:"last_selected,omitempty"`
}

// Selected returns the patient whose ID matches LastSelected.
func (l PatientList) Selected() (NamedPatient, bool) {
	if l.LastSelected == nil {
		return NamedPatient{}, false
	}

	for _, p := range l.Patients {
		if p.ID == *l.LastSelected {
			return p, true
		}
	}

	return NamedPatient{}, false
}
