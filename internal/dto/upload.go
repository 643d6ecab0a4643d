package dto

// UploadOptions is the optional JSON payload accompanying the multipart file.
// Mapping keys are original file headers; values are canonical field names or
// "ignore". Unspecified headers are inferred.
type UploadOptions struct {
	Mapping      map[string]string `json:"mapping"`
	Strict       *bool             `json:"strict"`
	AbortOnError *bool             `json:"abort_on_error"`
}

// RollbackConfirmRequest carries the one-time confirmation token issued by
// the rollback preview.
type RollbackConfirmRequest struct {
	Token string `json:"token" validate:"required"`
}
