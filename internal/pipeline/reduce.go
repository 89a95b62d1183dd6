package pipeline

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

// tokenOverhead covers the fixed prompt text around the event payload.
const tokenOverhead = 100

// EstimateTokens approximates the LLM input size for an event set plus
// rollups. JSON packs denser than prose, roughly one token per three
// characters.
func EstimateTokens(events []store.Event, rollups map[string]float64) int {
	type compactEvent struct {
		EventID   string      `json:"event_id"`
		Wallet    string      `json:"wallet"`
		EventType string      `json:"event_type"`
		Pool      string      `json:"pool"`
		Value     interface{} `json:"value"`
		Timestamp int64       `json:"timestamp"`
	}
	compact := make([]compactEvent, len(events))
	for i, e := range events {
		compact[i] = compactEvent{
			EventID:   e.EventID,
			Wallet:    e.Wallet,
			EventType: e.EventType,
			Pool:      e.Pool,
			Value:     e.Value,
			Timestamp: e.Timestamp,
		}
	}
	eventsJSON, _ := json.Marshal(compact)
	rollupsJSON, _ := json.Marshal(rollups)
	return (len(eventsJSON)+len(rollupsJSON))/3 + tokenOverhead
}

func eventUSD(e store.Event) float64 {
	v, ok := e.Value["usd_value"]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

// isOutlier flags values more than two population standard deviations from
// the mean.
func isOutlier(values []float64, value float64) bool {
	if len(values) < 2 {
		return false
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 {
		return false
	}
	return math.Abs((value-mean)/std) > 2.0
}

// ReduceEvents trims an event set to fit the token cap while keeping what
// the model needs to see: USD outliers, the first and last event per wallet
// and per pool, then the largest remaining moves by absolute USD value.
// The largest move always survives the trim.
func ReduceEvents(events []store.Event, rollups map[string]float64, tokenCap int) []store.Event {
	if len(events) == 0 {
		return nil
	}
	if EstimateTokens(events, rollups) <= tokenCap {
		return events
	}

	usdValues := make([]float64, len(events))
	for i, e := range events {
		usdValues[i] = eventUSD(e)
	}

	keep := map[string]struct{}{}
	maxIdx := 0
	for i := range usdValues {
		if math.Abs(usdValues[i]) > math.Abs(usdValues[maxIdx]) {
			maxIdx = i
		}
	}
	keep[events[maxIdx].EventID] = struct{}{}
	firstSeen := map[string]store.Event{}
	lastSeen := map[string]store.Event{}
	for i, e := range events {
		for _, key := range []string{e.Wallet, e.Pool} {
			if key == "" {
				continue
			}
			if _, ok := firstSeen[key]; !ok {
				firstSeen[key] = e
			}
			lastSeen[key] = e
		}
		if isOutlier(usdValues, usdValues[i]) {
			keep[e.EventID] = struct{}{}
		}
	}
	for _, e := range firstSeen {
		keep[e.EventID] = struct{}{}
	}
	for _, e := range lastSeen {
		keep[e.EventID] = struct{}{}
	}

	sorted := append([]store.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return math.Abs(eventUSD(sorted[i])) > math.Abs(eventUSD(sorted[j]))
	})

	var result []store.Event
	for _, e := range sorted {
		if _, ok := keep[e.EventID]; ok {
			result = append(result, e)
		}
	}
	for _, e := range sorted {
		if _, ok := keep[e.EventID]; ok {
			continue
		}
		result = append(result, e)
		if EstimateTokens(result, rollups) > tokenCap {
			result = result[:len(result)-1]
			break
		}
	}
	// Must-keeps alone can still blow the cap; shed from the tail until the
	// estimate fits. The largest move sorts first, so it sheds last and is
	// retained even when it alone would not fit.
	for EstimateTokens(result, rollups) > tokenCap && len(result) > 1 {
		result = result[:len(result)-1]
	}
	return result
}
