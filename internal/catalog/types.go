// Package catalog talks to the supervision backend: stream inventory, SOP
// definitions and analysis record submission.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/supervsr/supervsr/internal/vision"
)

// ID is an entity identifier. The backend is inconsistent about emitting
// identifiers as JSON strings or numbers, so both decode to the string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// SOPRef is the shallow SOP reference embedded in a stream listing. The full
// definition is fetched separately.
type SOPRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Stream is a monitored camera as the backend describes it.
type Stream struct {
	ID      ID       `json:"id"`
	Name    string   `json:"name"`
	RTSPURL string   `json:"rtsp_url"`
	SOPs    []SOPRef `json:"sops"`
}

// SOP is a full standard operating procedure: the prompt driving the vision
// model, the grid dispatch frequency and the expected output shape.
type SOP struct {
	ID        ID             `json:"id"`
	Name      string         `json:"name"`
	Prompt    string         `json:"prompt"`
	Frequency int            `json:"frequency"`
	Schema    *vision.Schema `json:"structured_output"`
}

// Analysis is the record posted back after a grid has been analyzed.
type Analysis struct {
	RTSPID ID              `json:"rtsp_id"`
	SOPID  ID              `json:"sop_id"`
	Output json.RawMessage `json:"output"`
}
