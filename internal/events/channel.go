package events

import (
	"bytes"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/phrazzld/clinicdesk/internal/domain"
)

// ChannelTableVersion changes whenever a channel is added, removed, renamed,
// or changes payload type. Consumers outside the process compare it before
// decoding bridge messages.
const ChannelTableVersion = 1

// Describer is implemented by every Channel and names it in the channel table.
type Describer interface {
	Name() string
	PayloadType() string
}

// Channel identifies a bus channel whose payloads have type T.
type Channel[T any] struct {
	name string
}

// NewChannel declares a channel. Channels are package-level values declared
// once; the Bus only accepts channels it was constructed with.
func NewChannel[T any](name string) Channel[T] {
	return Channel[T]{name: name}
}

// Name returns the channel identifier.
func (c Channel[T]) Name() string {
	return c.name
}

// PayloadType returns the Go type carried by the channel, e.g. "[]domain.Disease".
func (c Channel[T]) PayloadType() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// Application channels. Each read unit of work publishes on exactly one of these.
var (
	Treatments     = NewChannel[[]domain.Treatment]("treatments")
	Diseases       = NewChannel[[]domain.Disease]("diseases")
	LabTests       = NewChannel[[]domain.LabTest]("tests")
	Patients       = NewChannel[domain.PatientList]("patients")
	Doctors        = NewChannel[[]domain.Doctor]("doctors")
	Availability   = NewChannel[[]domain.Availability]("availability")
	DeptStatistics = NewChannel[[]domain.DepartmentStatistics]("dept_statistics")
	PatientTests   = NewChannel[[]domain.NamedOrderedLabTest]("patient_tests")
	Appointments   = NewChannel[[]domain.NamedAppointment]("appointments")
	Diagnoses      = NewChannel[[]domain.NamedDiagnosis]("diagnoses")
	TaskFailures   = NewChannel[domain.TaskFailure]("task_failures")
)

// Channels returns the application channel table in a stable order.
func Channels() []Describer {
	return []Describer{
		Treatments,
		Diseases,
		LabTests,
		Patients,
		Doctors,
		Availability,
		DeptStatistics,
		PatientTests,
		Appointments,
		Diagnoses,
		TaskFailures,
	}
}

// ChannelInfo is one row of the channel table.
type ChannelInfo struct {
	Name        string `json:"name" yaml:"name"`
	PayloadType string `json:"payload_type" yaml:"payload_type"`
}

// ChannelTable is the versioned channel table as published by Describe.
type ChannelTable struct {
	Version  int           `json:"version" yaml:"version"`
	Channels []ChannelInfo `json:"channels" yaml:"channels"`
}

// MarshalYAMLDocument renders the table as a YAML document with two-space indentation.
func (t ChannelTable) MarshalYAMLDocument() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("failed to encode channel table: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode channel table: %w", err)
	}
	return buf.Bytes(), nil
}
