// Package notices defines the core types shared across the notifier's
// subsystems: the fetch, parse, translate, store, and dispatch contracts plus
// the cycle reporting model consumed by the pipeline and the HTTP API.
package notices

import "time"

// Stage identifies where in a poll cycle the pipeline currently is.
type Stage string

// Cycle stages in execution order. A failed cycle returns to StageIdle; the
// failure itself is carried in the CycleReport, not modeled as a stage.
const (
	StageIdle        Stage = "idle"
	StageFetching    Stage = "fetching"
	StageParsing     Stage = "parsing"
	StageFiltering   Stage = "filtering"
	StageTranslating Stage = "translating"
	StageDispatching Stage = "dispatching"
	StageRecording   Stage = "recording"
)

// Notice is one announcement extracted from the circulars page.
type Notice struct {
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	TitleTranslated string     `json:"title_translated,omitempty"`
	Translated      bool       `json:"translated"`
	RawDate         string     `json:"raw_date,omitempty"`
	Published       *time.Time `json:"published,omitempty"`
	URL             string     `json:"url,omitempty"`
}

// DisplayTitle prefers the translated title and falls back to the original.
func (n Notice) DisplayTitle() string {
	if n.TitleTranslated != "" {
		return n.TitleTranslated
	}
	return n.Title
}

// Document is the raw page a Fetcher returns. No HTML interpretation happens
// before the Parser.
type Document struct {
	URL       string
	Body      []byte
	FetchedAt time.Time
}

// Translation is the outcome of translating one piece of text. Text always
// holds something displayable; Translated is false only when every backend
// failed and Text is the raw input.
type Translation struct {
	Text       string
	Translated bool
	Backend    string
}

// Ack confirms a single delivery. Dispatchers return it only after the
// messaging endpoint acknowledged the send.
type Ack struct {
	ChatID      string
	MessageID   int64
	DeliveredAt time.Time
}

// DeliveryRecord is persisted for each acknowledged delivery and doubles as
// the dedup ledger row.
type DeliveryRecord struct {
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	TitleTranslated string     `json:"title_translated,omitempty"`
	URL             string     `json:"url,omitempty"`
	Published       *time.Time `json:"published,omitempty"`
	ChatID          string     `json:"chat_id"`
	MessageID       int64      `json:"message_id"`
	DeliveredAt     time.Time  `json:"delivered_at"`
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Parsed     int       `json:"parsed"`
	Known      int       `json:"known"`
	Skipped    int       `json:"skipped"`
	Dispatched int       `json:"dispatched"`
	Failed     int       `json:"failed"`
	Unrecorded int       `json:"unrecorded"`
	ErrorText  string    `json:"error_text,omitempty"`
}

// CycleFailed reports whether the cycle aborted with an error.
func (r CycleReport) CycleFailed() bool {
	return r.ErrorText != ""
}
