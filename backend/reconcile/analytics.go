package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	rootapi "farmapp/api"
	"farmapp/backend/server/api"

	"github.com/shopspring/decimal"
)

var analyticsFields = map[rootapi.RecordType][]string{
	rootapi.RecordIrrigation: {"crop", "fieldSize", "soilType", "waterRequirement", "recommendation"},
	rootapi.RecordMarket:     {"crop", "market", "price", "action"},
}

// AnalyticsReconciler logs irrigation and market interactions. Nothing is
// deduplicated, a replay is logged again.
type AnalyticsReconciler struct {
	eventType rootapi.RecordType
	analytics AnalyticsRepo
}

func (r *AnalyticsReconciler) Reconcile(ctx context.Context, userID string, item *api.SyncItem) (*api.Outcome, error) {
	subset, err := pickFields(item.Data, analyticsFields[r.eventType])
	if err != nil {
		return nil, err
	}
	if price, ok := subset["price"]; ok {
		d, err := parsePrice(price)
		if err != nil {
			verr := &api.ValidationError{}
			verr.Add("data.price", "must be a number")
			return nil, verr
		}
		subset["price"] = d
	}

	if err := r.analytics.Log(ctx, userID, string(r.eventType), subset, item.EventTime()); err != nil {
		return nil, fmt.Errorf("failed to log %s event: %w", r.eventType, err)
	}
	return &api.Outcome{
		Action:    api.ActionLogged,
		Timestamp: item.Timestamp,
		Data:      subset,
	}, nil
}

// pickFields decodes an object keeping only the named keys.
func pickFields(data json.RawMessage, names []string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	all := map[string]any{}
	if err := dec.Decode(&all); err != nil {
		verr := &api.ValidationError{}
		verr.Add("data", "must be an object")
		return nil, verr
	}
	subset := map[string]any{}
	for _, name := range names {
		if v, ok := all[name]; ok {
			subset[name] = v
		}
	}
	return subset, nil
}

func parsePrice(v any) (decimal.Decimal, error) {
	switch p := v.(type) {
	case json.Number:
		return decimal.NewFromString(p.String())
	case string:
		return decimal.NewFromString(p)
	}
	return decimal.Zero, fmt.Errorf("unexpected price %v", v)
}
