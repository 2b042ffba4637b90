package migrate

import (
	"fmt"
)

// Message titles
const (
	TitleParent              = "Parent"
	TitleChild               = "Child"
	TitleMandatoryError      = "MandatoryError"
	TitleLinkValidationError = "LinkValidationError"
)

// Indicators
const (
	IndicatorGreen = "green"
	IndicatorRed   = "red"
)

// StatusSuccess is the status of a completed import
const StatusSuccess = "Success"

// Message reports what happened to one candidate document
type Message struct {
	Title      string `json:"title"`
	Text       string `json:"text"`
	Indicator  string `json:"indicator"`
	EntityType string `json:"entity_type,omitempty"`
	DocName    string `json:"doc_name,omitempty"`
}

// Failed reports whether the message has the failure indicator
func (m Message) Failed() bool {
	return m.Indicator == IndicatorRed
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s", m.Title, m.Text)
}

// Outcome summarizes an import run
type Outcome struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
	Records int    `json:"records"`

	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Attached  int `json:"attached"`
	Orphaned  int `json:"orphaned"`
	Failed    int `json:"failed"`
	// SkippedSubRecords counts records lacking a nested list a mapping reads
	SkippedSubRecords int `json:"skipped_sub_records"`

	Messages []Message `json:"messages,omitempty"`
}

func (o *Outcome) add(m Message) {
	o.Messages = append(o.Messages, m)
}
