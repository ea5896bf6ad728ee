package domain

// Status is the lifecycle state of a translation job
type Status string

// Job status constants
const (
	StatusPending               Status = "PENDING"
	StatusProcessing            Status = "PROCESSING"
	StatusImageConversion       Status = "IMAGE_CONVERSION"
	StatusOCRProcessing         Status = "OCR_PROCESSING"
	StatusTranslationProcessing Status = "TRANSLATION_PROCESSING"
	StatusRefinementProcessing  Status = "REFINEMENT_PROCESSING"
	StatusPDFGeneration         Status = "PDF_GENERATION"
	StatusComplete              Status = "COMPLETE"
	StatusFailed                Status = "FAILED"
	StatusCancelled             Status = "CANCELLED"
)

// StatusSummary maps each status to the human readable detail reported by workers
var StatusSummary = map[Status]string{
	StatusPending:               "Job accepted by orchestrator",
	StatusProcessing:            "Preparing translation job",
	StatusImageConversion:       "Converting pages to images",
	StatusOCRProcessing:         "Extracting Lao text",
	StatusTranslationProcessing: "Translating to Korean",
	StatusRefinementProcessing:  "Refining translation output",
	StatusPDFGeneration:         "Rendering downloadable artefacts",
	StatusComplete:              "Translation finished",
	StatusFailed:                "Job failed",
	StatusCancelled:             "Job cancelled",
}

// ParseStatus validates a raw status string
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := StatusSummary[s]
	return s, ok
}

// IsTerminal reports whether no further transitions are allowed from s
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// SourceType is the kind of document submitted for translation
type SourceType string

const (
	SourceTypePDF     SourceType = "pdf"
	SourceTypeImage   SourceType = "image"
	SourceTypeRawText SourceType = "raw_text"
)

// ParseSourceType validates a raw source type string
func ParseSourceType(raw string) (SourceType, bool) {
	switch st := SourceType(raw); st {
	case SourceTypePDF, SourceTypeImage, SourceTypeRawText:
		return st, true
	default:
		return "", false
	}
}

// MIMEType returns the content type handed to the document processor
func (st SourceType) MIMEType() string {
	switch st {
	case SourceTypePDF:
		return "application/pdf"
	case SourceTypeImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
