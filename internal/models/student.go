package models

import "time"

// FieldName identifies a canonical student field produced by the column mapper.
type FieldName string

const (
	FieldStudentID         FieldName = "student_id"
	FieldFullName          FieldName = "full_name"
	FieldEmail             FieldName = "email"
	FieldPhone             FieldName = "phone"
	FieldAttendancePercent FieldName = "attendance_percent"
	FieldTestScore         FieldName = "test_score"
	FieldFeeStatus         FieldName = "fee_status"
)

// CanonicalFields lists every mappable field in declaration order.
var CanonicalFields = []FieldName{
	FieldStudentID,
	FieldFullName,
	FieldEmail,
	FieldPhone,
	FieldAttendancePercent,
	FieldTestScore,
	FieldFeeStatus,
}

// RequiredFields must be mapped before any row is processed.
var RequiredFields = []FieldName{FieldStudentID, FieldFullName}

// Accepted fee states.
const (
	FeeStatusPaid    = "PAID"
	FeeStatusPartial = "PARTIAL"
	FeeStatusUnpaid  = "UNPAID"
	FeeStatusOverdue = "OVERDUE"
)

// MappedRecord is a partial canonical record keyed by field name. A missing
// key means the field was not provided by the source file, which is distinct
// from an empty string value.
type MappedRecord map[FieldName]string

// Get returns the value and whether the field was provided.
func (m MappedRecord) Get(field FieldName) (string, bool) {
	v, ok := m[field]
	return v, ok
}

// Clone returns an independent copy of the record.
func (m MappedRecord) Clone() MappedRecord {
	out := make(MappedRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Student is the canonical registry record, keyed by the institutional
// student identifier. LastUploadID tracks which upload last wrote the row;
// rollback conflict detection compares against it.
type Student struct {
	ID                string   `db:"id" json:"id"`
	StudentID         string   `db:"student_id" json:"student_id"`
	FullName          string   `db:"full_name" json:"full_name"`
	Email             *string  `db:"email" json:"email,omitempty"`
	Phone             *string  `db:"phone" json:"phone,omitempty"`
	AttendancePercent *float64 `db:"attendance_percent" json:"attendance_percent,omitempty"`
	TestScore         *float64 `db:"test_score" json:"test_score,omitempty"`
	FeeStatus         *string  `db:"fee_status" json:"fee_status,omitempty"`
	Active            bool     `db:"active" json:"active"`
	LastUploadID      *string  `db:"last_upload_id" json:"last_upload_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Active    *bool
	FeeStatus string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
