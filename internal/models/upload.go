package models

import "time"

// UploadStatus captures the lifecycle of an upload manifest.
type UploadStatus string

const (
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusSuccess    UploadStatus = "success"
	UploadStatusPartial    UploadStatus = "partial"
	UploadStatusFailed     UploadStatus = "failed"
)

// RowStatus is the validation outcome for a single source row.
type RowStatus string

const (
	RowStatusValid   RowStatus = "valid"
	RowStatusWarning RowStatus = "warning"
	RowStatusError   RowStatus = "error"
)

// ColumnMapping maps original file headers to canonical fields. The sentinel
// MappingIgnore drops a column explicitly.
type ColumnMapping map[string]FieldName

// MappingIgnore marks a header as intentionally unmapped.
const MappingIgnore FieldName = "ignore"

// RowResult records the pipeline outcome for one source row. RowIndex is
// zero-based over data rows (the header row is not counted). Failure is set
// when the commit step could not persist an admitted row.
type RowResult struct {
	UploadID       string       `db:"upload_id" json:"upload_id"`
	RowIndex       int          `db:"row_index" json:"row_index"`
	Status         RowStatus    `db:"status" json:"status"`
	TriggeredRules []string     `db:"-" json:"triggered_rules"`
	Record         MappedRecord `db:"-" json:"record"`
	Failure        *string      `db:"failure" json:"failure,omitempty"`
}

// UploadManifest is the durable description of one upload: what was received,
// what was committed, and enough prior state to reverse it. PriorValues maps
// each committed student key to its pre-upload record; a nil entry means the
// record did not exist before this upload.
type UploadManifest struct {
	ID            string       `db:"id" json:"id"`
	FileName      string       `db:"file_name" json:"file_name"`
	FileSizeBytes int64        `db:"file_size_bytes" json:"file_size_bytes"`
	UploadedBy    string       `db:"uploaded_by" json:"uploaded_by"`
	UploadedAt    time.Time    `db:"uploaded_at" json:"uploaded_at"`
	CompletedAt   *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	TotalRows     int          `db:"total_rows" json:"total_rows"`
	SuccessRows   int          `db:"success_rows" json:"success_rows"`
	FailedRows    int          `db:"failed_rows" json:"failed_rows"`
	Status        UploadStatus `db:"status" json:"status"`
	RolledBack    bool         `db:"rolled_back" json:"rolled_back"`
	RolledBackAt  *time.Time   `db:"rolled_back_at" json:"rolled_back_at,omitempty"`
	RolledBackBy  *string      `db:"rolled_back_by" json:"rolled_back_by,omitempty"`

	PriorValues map[string]*Student `db:"-" json:"prior_values,omitempty"`
}

// CommittedRecordIDs returns the student keys touched by this upload.
func (m *UploadManifest) CommittedRecordIDs() []string {
	ids := make([]string, 0, len(m.PriorValues))
	for id := range m.PriorValues {
		ids = append(ids, id)
	}
	return ids
}

// UploadFilter constrains history queries.
type UploadFilter struct {
	Status     []UploadStatus
	UploadedBy string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// CommitPolicy decides which row statuses are admitted to the commit step.
type CommitPolicy struct {
	AdmitWarnings bool
	AbortOnError  bool
}

// Admits reports whether a row with the given status may be persisted.
func (p CommitPolicy) Admits(status RowStatus) bool {
	switch status {
	case RowStatusValid:
		return true
	case RowStatusWarning:
		return p.AdmitWarnings
	default:
		return false
	}
}

// RollbackAction describes one record change a rollback would apply.
type RollbackAction struct {
	StudentKey string   `json:"student_key"`
	Action     string   `json:"action"` // "restore" or "delete"
	PriorValue *Student `json:"prior_value,omitempty"`
}

// RollbackPreview is returned by the first phase of the two-phase rollback.
type RollbackPreview struct {
	UploadID     string           `json:"upload_id"`
	Token        string           `json:"token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	RestoreCount int              `json:"restore_count"`
	DeleteCount  int              `json:"delete_count"`
	Actions      []RollbackAction `json:"actions"`
}
