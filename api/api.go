// Package api holds what the server and the offline client must agree on:
// endpoint paths and the closed set of syncable record types.
package api

const (
	HealthEndpoint         = "/health"
	MetricsEndpoint        = "/metrics"
	SyncEndpoint           = "/api/v1/sync"
	SyncBatchEndpoint      = "/api/v1/sync/batch"
	SyncStatusEndpoint     = "/api/v1/sync/status"
	SyncClearEndpoint      = "/api/v1/sync/clear"
	OutbreakReportEndpoint = "/api/v1/outbreaks/report"
	OutbreaksEndpoint      = "/api/v1/outbreaks"
	OutbreakMapEndpoint    = "/api/v1/outbreaks/map"
	WeatherEndpoint        = "/api/v1/weather"
	IrrigationEndpoint     = "/api/v1/irrigation/calculate"
	MarketPricesEndpoint   = "/api/v1/market/prices"
	DiagnosisEndpoint      = "/api/v1/diagnosis"
)

// RecordType is the kind of a locally generated record.
type RecordType string

const (
	RecordDiagnosis  RecordType = "diagnosis"
	RecordIrrigation RecordType = "irrigation"
	RecordMarket     RecordType = "market"
	RecordUserData   RecordType = "user_data"
)

// RecordTypes lists every syncable record type.
func RecordTypes() []RecordType {
	return []RecordType{RecordDiagnosis, RecordIrrigation, RecordMarket, RecordUserData}
}

func (t RecordType) Valid() bool {
	switch t {
	case RecordDiagnosis, RecordIrrigation, RecordMarket, RecordUserData:
		return true
	}
	return false
}
