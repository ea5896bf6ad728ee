package domain

import "time"

// Artefact names written by workers on success
const (
	ArtefactTranslatedText = "translated_text"
	ArtefactOriginalImages = "original_images"
)

// Job is the orchestrator's record of a translation job
type Job struct {
	JobID       string
	Status      Status
	Detail      *string
	SubmittedAt time.Time
	UpdatedAt   time.Time
	Artefacts   map[string]string
}

// JobEvent is one append-only entry of a job's status history
type JobEvent struct {
	ID        int64
	JobID     string
	Status    Status
	Detail    *string
	CreatedAt time.Time
}

// JobPayload is the body of a ready-stream message
type JobPayload struct {
	JobID            string         `json:"job_id"`
	SourceType       string         `json:"source_type"`
	SourceURI        string         `json:"source_uri,omitempty"`
	OriginalFilename string         `json:"original_filename,omitempty"`
	Options          map[string]any `json:"options,omitempty"`
	SubmittedAt      string         `json:"submitted_at"`
}

// ToMap converts the payload into the generic form carried by queue envelopes
func (p JobPayload) ToMap() map[string]any {
	m := map[string]any{
		"job_id":       p.JobID,
		"source_type":  p.SourceType,
		"submitted_at": p.SubmittedAt,
	}
	if p.SourceURI != "" {
		m["source_uri"] = p.SourceURI
	} else {
		m["source_uri"] = nil
	}
	if p.OriginalFilename != "" {
		m["original_filename"] = p.OriginalFilename
	} else {
		m["original_filename"] = nil
	}
	if p.Options != nil {
		m["options"] = p.Options
	} else {
		m["options"] = map[string]any{}
	}
	return m
}

// StringPtr returns nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
