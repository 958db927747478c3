package job

import (
	"encoding/json"
	"time"
)

// HandlerIngestion names the pipeline that produced a failed job.
const HandlerIngestion = "ingestion-pipeline"

// Job is a failed ingestion run kept for an explicit retry. Payload holds the
// original task.
type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}
