// Package batch folds processed activities into issuance-ready groups.
package batch

import (
	"time"

	"github.com/verdantis/emissary/internal/model"
)

// Group buckets processed activities for token issuance: shipments by
// transport mode, every other activity by its type. Failed activities land in
// Errors instead of a bucket. Activities without dates are attributed to now;
// a missing thru date collapses to the from date. Bucket members keep input
// order.
func Group(processed []model.ProcessedActivity, now time.Time) model.GroupedResults {
	out := model.GroupedResults{
		Shipments: make(map[string]*model.GroupedResult),
		ByType:    make(map[string]*model.GroupedResult),
	}
	for _, p := range processed {
		if p.Error != "" || p.Result == nil {
			out.Errors = append(out.Errors, p)
			continue
		}

		var bucket *model.GroupedResult
		if p.Activity.Kind == model.KindShipment {
			if p.Result.Distance == nil {
				out.Errors = append(out.Errors, p)
				continue
			}
			mode := p.Result.Distance.Mode
			if out.Shipments[mode] == nil {
				out.Shipments[mode] = newBucket()
			}
			bucket = out.Shipments[mode]
		} else {
			kind := string(p.Activity.Kind)
			if out.ByType[kind] == nil {
				out.ByType[kind] = newBucket()
			}
			bucket = out.ByType[kind]
		}

		from := now
		if p.Activity.FromDate != nil {
			from = *p.Activity.FromDate
		}
		thru := from
		if p.Activity.ThruDate != nil {
			thru = *p.Activity.ThruDate
		}
		if bucket.FromDate == nil || from.Before(*bucket.FromDate) {
			bucket.FromDate = &from
		}
		if bucket.ThruDate == nil || thru.After(*bucket.ThruDate) {
			bucket.ThruDate = &thru
		}

		bucket.TotalEmissions.Value += p.Result.Emissions.Amount.Value
		bucket.Content = append(bucket.Content, p)
	}
	return out
}

func newBucket() *model.GroupedResult {
	return &model.GroupedResult{
		TotalEmissions: model.ValueAndUnit{Unit: "kgCO2e"},
	}
}
