package models

// Attachment is a file submitted with a submission under a form field key.
type Attachment struct {
	SubmissionID int64  `json:"submission_id"`
	FieldKey     string `json:"field_key"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	// Passed files are binary and handed to the user as is.
	Passed bool `json:"is_passed"`
}
