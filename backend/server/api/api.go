package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	rootapi "farmapp/api"
	"farmapp/backend/outbreak"

	"github.com/shopspring/decimal"
)

// SyncItem is one offline record as delivered by a client.
type SyncItem struct {
	Type      rootapi.RecordType `json:"type"`
	Data      json.RawMessage    `json:"data"`
	Timestamp string             `json:"timestamp"` // ISO8601, the client-side event time
}

type BatchSyncRequest struct {
	Items []SyncItem `json:"items"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a request body.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Err returns nil when nothing was added.
func (e *ValidationError) Err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts ISO8601 date-times with or without an offset and
// fractional seconds, and plain dates. No offset means UTC.
func ParseTimestamp(v string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// Validate appends the item's problems to verr, prefixing field names.
func (i *SyncItem) Validate(prefix string, verr *ValidationError) {
	if !i.Type.Valid() {
		verr.Add(prefix+"type", fmt.Sprintf("must be one of %v", rootapi.RecordTypes()))
	}
	if i.Timestamp == "" {
		verr.Add(prefix+"timestamp", "is required")
	} else if _, err := ParseTimestamp(i.Timestamp); err != nil {
		verr.Add(prefix+"timestamp", "must be an ISO8601 date")
	}
	data := strings.TrimSpace(string(i.Data))
	if data == "" || data == "null" {
		verr.Add(prefix+"data", "is required")
	} else if !strings.HasPrefix(data, "{") {
		verr.Add(prefix+"data", "must be an object")
	}
}

// EventTime is the parsed timestamp; call only after Validate passed.
func (i *SyncItem) EventTime() time.Time {
	t, _ := ParseTimestamp(i.Timestamp)
	return t
}

type Action string

const (
	ActionCreated   Action = "created"
	ActionSkipped   Action = "skipped"
	ActionUpdated   Action = "updated"
	ActionLogged    Action = "logged"
	ActionNoChanges Action = "no_changes"
)

// Outcome is what a reconciler did with one item.
type Outcome struct {
	Action    Action         `json:"action"`
	Reason    string         `json:"reason,omitempty"`
	ID        int64          `json:"id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Fields    []string       `json:"fields,omitempty"`
}

type SyncResponse struct {
	Message   string             `json:"message"`
	Type      rootapi.RecordType `json:"type"`
	Result    *Outcome           `json:"result"`
	Timestamp string             `json:"timestamp"`
}

const (
	ItemStatusSuccess = "success"
	ItemStatusError   = "error"
)

type BatchItemResult struct {
	Type   rootapi.RecordType `json:"type"`
	Status string             `json:"status"`
	Result *Outcome           `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type BatchSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

type BatchSyncResponse struct {
	Message   string            `json:"message"`
	Summary   BatchSummary      `json:"summary"`
	Results   []BatchItemResult `json:"results"`
	Timestamp string            `json:"timestamp"`
}

type PendingItems struct {
	Diagnoses int `json:"diagnoses"`
}

type SyncStatusResponse struct {
	LastSync     *string      `json:"lastSync"`
	PendingItems PendingItems `json:"pendingItems"`
	ServerTime   string       `json:"serverTime"`
}

type ClearResponse struct {
	Message      string `json:"message"`
	DeletedCount int64  `json:"deletedCount"`
	CutoffDate   string `json:"cutoffDate"`
}

type ErrorResponse struct {
	Error  string       `json:"error"`
	Errors []FieldError `json:"errors,omitempty"`
}

// DiagnosisResult is the classifier output stored with a diagnosis.
type DiagnosisResult struct {
	Disease     string   `json:"disease"`
	Confidence  float64  `json:"confidence,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`
	Symptoms    []string `json:"symptoms,omitempty"`
	Treatment   []string `json:"treatment,omitempty"`
	Prevention  []string `json:"prevention,omitempty"`
}

// DiagnosisPayload is the data of a "diagnosis" sync item.
type DiagnosisPayload struct {
	Crop           string          `json:"crop"`
	Result         DiagnosisResult `json:"result"`
	Location       json.RawMessage `json:"location,omitempty"`
	Weather        json.RawMessage `json:"weather,omitempty"`
	ProcessingTime int64           `json:"processingTime,omitempty"` // milliseconds
	ModelVersion   string          `json:"modelVersion,omitempty"`
	Feedback       json.RawMessage `json:"feedback,omitempty"`
}

type ProfileLocation struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
	Region    string   `json:"region,omitempty"`
}

// ProfileUpdate is the data of a "user_data" sync item. Only these fields
// can be changed through sync; anything else in the payload is ignored.
type ProfileUpdate struct {
	Preferences *json.RawMessage `json:"preferences,omitempty"`
	FarmDetails *json.RawMessage `json:"farmDetails,omitempty"`
	Location    *ProfileLocation `json:"location,omitempty"`
}

// Fields names the allow-listed fields present in the update.
func (u *ProfileUpdate) Fields() []string {
	fields := []string{}
	if u.Preferences != nil {
		fields = append(fields, "preferences")
	}
	if u.FarmDetails != nil {
		fields = append(fields, "farmDetails")
	}
	if u.Location != nil {
		fields = append(fields, "location")
	}
	return fields
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Region    string  `json:"region,omitempty"`
}

type OutbreakReportRequest struct {
	Disease      string           `json:"disease"`
	Crop         string           `json:"crop"`
	Location     *Location        `json:"location"`
	Severity     string           `json:"severity"`
	AffectedArea *decimal.Decimal `json:"affectedArea,omitempty"` // acres
	Images       []string         `json:"images,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

func (r *OutbreakReportRequest) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(r.Disease) == "" {
		verr.Add("disease", "is required")
	}
	if strings.TrimSpace(r.Crop) == "" {
		verr.Add("crop", "is required")
	}
	if r.Location == nil {
		verr.Add("location", "is required")
	} else {
		if r.Location.Latitude < -90 || r.Location.Latitude > 90 {
			verr.Add("location.latitude", "must be between -90 and 90")
		}
		if r.Location.Longitude < -180 || r.Location.Longitude > 180 {
			verr.Add("location.longitude", "must be between -180 and 180")
		}
	}
	if _, err := outbreak.ParseSeverity(r.Severity); err != nil {
		verr.Add("severity", "must be one of low, medium, high, critical")
	}
	if r.AffectedArea != nil && r.AffectedArea.IsNegative() {
		verr.Add("affectedArea", "must not be negative")
	}
	return verr.Err()
}

type OutbreakReport struct {
	ReporterID   string            `json:"reporterId"`
	Severity     outbreak.Severity `json:"severity"`
	AffectedArea decimal.Decimal   `json:"affectedArea"`
	Images       []string          `json:"images,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	ReportedAt   time.Time         `json:"reportedAt"`
}

type Outbreak struct {
	ID             int64             `json:"id"`
	Disease        string            `json:"disease"`
	Crop           string            `json:"crop"`
	Location       Location          `json:"location"`
	Severity       outbreak.Severity `json:"severity"`
	Status         outbreak.Status   `json:"status"`
	ConfirmedCases int               `json:"confirmedCases"`
	AffectedArea   decimal.Decimal   `json:"affectedArea"`
	Reports        []OutbreakReport  `json:"reportedBy,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

type OutbreakReportResponse struct {
	Message       string    `json:"message"`
	Outbreak      *Outbreak `json:"outbreak"`
	IsNewOutbreak bool      `json:"isNewOutbreak"`
	AlertsSent    bool      `json:"alertsSent"`
}

type OutbreakStatusRequest struct {
	Status string `json:"status"`
}

// OutbreakAlert is published for nearby farmers; delivery is someone else's job.
type OutbreakAlert struct {
	OutbreakID     int64             `json:"outbreakId"`
	Disease        string            `json:"disease"`
	Crop           string            `json:"crop"`
	Severity       outbreak.Severity `json:"severity"`
	ConfirmedCases int               `json:"confirmedCases"`
	Latitude       float64           `json:"latitude"`
	Longitude      float64           `json:"longitude"`
	RadiusKm       float64           `json:"radiusKm"`
	Recipients     []string          `json:"recipients"`
	Timestamp      time.Time         `json:"timestamp"`
}

type ViewPort struct {
	LatMin float64 `json:"latmin"`
	LonMin float64 `json:"lonmin"`
	LatMax float64 `json:"latmax"`
	LonMax float64 `json:"lonmax"`
}

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type MapArgs struct {
	VPort  ViewPort `json:"vport"`
	Center Point    `json:"center"`
}

type MapResult struct {
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Count      int64             `json:"count"`
	OutbreakID int64             `json:"outbreak_id"` // Ignored if Count > 1
	Severity   outbreak.Severity `json:"severity"`    // Highest severity in the pin
}
