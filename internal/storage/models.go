package storage

import (
	"encoding/json"
	"time"

	"github.com/bher20/flightsearch/pkg/providers"
)

// Status is the lifecycle state of a search record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// ProviderReport records that one provider contributed to a record.
type ProviderReport struct {
	Provider   string    `json:"provider"`
	Offers     int       `json:"offers"`
	Error      string    `json:"error,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// SearchRecord is the per-search aggregate of status and collected offers.
type SearchRecord struct {
	ID        string            `json:"id"`
	Status    Status            `json:"status"`
	Items     []providers.Offer `json:"items"`
	Expected  int               `json:"expected"`
	Reports   []ProviderReport  `json:"reports"`
	Partial   bool              `json:"partial"`
	Deadline  time.Time         `json:"deadline"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Version   int64             `json:"-"`
}

// Reported reports whether provider already has a report on the record.
func (r *SearchRecord) Reported(provider string) bool {
	for _, rep := range r.Reports {
		if rep.Provider == provider {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func (r *SearchRecord) Clone() *SearchRecord {
	cp := *r
	if r.Items != nil {
		cp.Items = make([]providers.Offer, len(r.Items))
		for i, o := range r.Items {
			cp.Items[i] = o.Clone()
		}
	}
	if r.Reports != nil {
		cp.Reports = append([]ProviderReport(nil), r.Reports...)
	}
	return &cp
}

// storedRecord is the persisted document. Version travels with it so that
// document-only backends keep the counter.
type storedRecord struct {
	SearchRecord
	Version int64 `json:"version"`
}

func encodeRecord(rec *SearchRecord) ([]byte, error) {
	return json.Marshal(storedRecord{SearchRecord: *rec, Version: rec.Version})
}

func decodeRecord(b []byte) (*SearchRecord, error) {
	var doc storedRecord
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	rec := doc.SearchRecord
	rec.Version = doc.Version
	return &rec, nil
}

// RateSnapshot stores the rate table fetched for one calendar day. Payload
// is the JSON list [{"title": "USD", "rate": "450.12"}, ...].
type RateSnapshot struct {
	Day       string    `json:"day" gorm:"primaryKey;column:day"`
	Payload   []byte    `json:"payload" gorm:"column:payload"`
	FetchedAt time.Time `json:"fetched_at" gorm:"column:fetched_at"`
}

func (RateSnapshot) TableName() string { return "rate_snapshots" }

// ScheduledJob is the last-run bookkeeping of a cron job.
type ScheduledJob struct {
	Name           string    `json:"name" gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `json:"last_run_at" gorm:"column:last_run_at"`
	LastDurationMs int64     `json:"last_duration_ms" gorm:"column:last_duration_ms"`
	LastSuccess    int       `json:"last_success" gorm:"column:last_success"`
	LastError      string    `json:"last_error" gorm:"column:last_error"`
}

func (ScheduledJob) TableName() string { return "scheduled_jobs" }

func newScheduledJob(name string, started time.Time, dur time.Duration, success bool, errMsg string) ScheduledJob {
	status := 0
	if success {
		status = 1
	}
	return ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
}
