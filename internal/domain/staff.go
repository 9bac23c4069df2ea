package domain

// Department is a hospital department.
type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Doctor is a doctor joined with name and department details.
type Doctor struct {
	ID             int64  `json:"id"`
	PersonID       int64  `json:"person_id"`
	DepartmentID   int64  `json:"department_id"`
	Specialty      string `json:"specialty"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DepartmentName string `json:"department_name"`
}

// Availability describes when a doctor takes appointments.
// DaysAvailable is a comma separated list of weekday abbreviations and
// StartTime is a wall clock time such as "09:00".
type Availability struct {
	ID            int64  `json:"id"`
	DoctorID      int64  `json:"doctor_id"`
	DaysAvailable string `json:"days_available"`
	StartTime     string `json:"start_time"`
	DurationHours int    `json:"duration_h"`
}

// Room is a bed or consultation room owned by a department.
type Room struct {
	RoomNumber   int64 `json:"room_number"`
	Capacity     int   `json:"capacity"`
	DepartmentID int64 `json:"department_id"`
}

// DepartmentStatistics aggregates occupancy and workload per department.
type DepartmentStatistics struct {
	ID                    int64  `json:"id"`
	DepartmentName        string `json:"department_name"`
	RoomCount             int64  `json:"room_count"`
	TotalCapacity         int64  `json:"total_capacity"`
	NumberOfPatients      int64  `json:"number_of_patients"`
	NumberOfDoctors       int64  `json:"number_of_doctors"`
	ScheduledAppointments int64  `json:"scheduled_appointments"`
}
