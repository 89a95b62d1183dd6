package schema

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"sync"
)

// Canonical field names shared by every provider after normalization.
const (
	FieldEventID      = "event_id"
	FieldEventType    = "event_type"
	FieldWallet       = "wallet"
	FieldTimestamp    = "timestamp"
	FieldBlock        = "block"
	FieldChain        = "chain"
	FieldGasUsed      = "gas_used"
	FieldValue        = "value"
	FieldTokenSymbol  = "token_symbol"
	FieldTokenAddress = "token_address"
	FieldDirection    = "direction"
	FieldCounterparty = "counterparty"
	FieldPool         = "pool"
	FieldDetails      = "details"
	FieldAmounts      = "amounts"
)

// fieldAliases maps each canonical field to the provider spellings it may
// arrive under, in probe order. The first present alias wins.
var fieldAliases = map[string][]string{
	FieldEventID:      {"tx", "txHash", "hash", "transaction_hash"},
	FieldEventType:    {"type", "kind", "transaction_type", "event_type"},
	FieldWallet:       {"wallet", "address", "from_address", "account"},
	FieldTimestamp:    {"timestamp", "ts", "block_timestamp", "time"},
	FieldBlock:        {"block", "block_number", "block_height"},
	FieldChain:        {"chain", "network", "chain_id"},
	FieldGasUsed:      {"gas_used", "gas", "gas_spent"},
	FieldValue:        {"value", "amount", "value_wei"},
	FieldTokenSymbol:  {"token_symbol", "symbol", "token"},
	FieldTokenAddress: {"token_address", "contract_address", "token_contract"},
	FieldDirection:    {"direction", "type", "transfer_type"},
	FieldCounterparty: {"counterparty", "to_address", "recipient", "sender"},
	FieldPool:         {"pool", "pool_address", "liquidity_pool"},
	FieldDetails:      {"details", "log_events", "logs"},
	FieldAmounts:      {"amounts", "token_amounts", "transfer_amounts"},
}

// requiredFields must be present after normalization for an event to be
// trustworthy. Missing ones are logged but do not reject the event.
var requiredFields = []string{FieldEventID, FieldEventType, FieldWallet, FieldTimestamp}

// Record is one normalized event: typed accessors over the canonical map.
type Record struct {
	EventID   string
	EventType string
	Wallet    string
	Pool      string
	Chain     string
	Timestamp int64
	Fields    map[string]interface{}
}

// USDValue extracts the dollar value attached to a record, 0 when absent.
func (r Record) USDValue() float64 {
	v, ok := r.Fields["usd_value"]
	if !ok {
		return 0
	}
	f, _ := toFloat64(v)
	return f
}

// DriftReport summarizes fields a provider sent that no alias list knows.
type DriftReport struct {
	Provider         string
	SampleSize       int
	UnexpectedFields []string
}

// Normalizer maps provider event payloads onto the canonical record shape.
// Mapping notices and missing-field warnings are logged once per key so a
// thousand-event response produces one line, not a thousand.
type Normalizer struct {
	logger *log.Logger

	mu       sync.Mutex
	seenLogs map[string]struct{}
}

func NewNormalizer(logger *log.Logger) *Normalizer {
	if logger == nil {
		logger = log.New(os.Stdout, "[SCHEMA] ", log.LstdFlags)
	}
	return &Normalizer{logger: logger, seenLogs: map[string]struct{}{}}
}

// Normalize maps one raw provider event onto the canonical record. Aliased
// fields are renamed, unmapped canonical fields stay nil in the map, and
// missing required fields are logged once per (provider, field).
func (n *Normalizer) Normalize(provider string, raw map[string]interface{}) Record {
	fields := make(map[string]interface{}, len(fieldAliases)+1)
	for _, std := range canonicalOrder() {
		var value interface{}
		actual := ""
		for _, alias := range fieldAliases[std] {
			if v, ok := raw[alias]; ok {
				value = v
				actual = alias
				break
			}
		}
		fields[std] = value
		if actual != "" && actual != std {
			n.logOnce(fmt.Sprintf("map:%s:%s:%s", provider, std, actual),
				"provider %s: mapped %q to %q", provider, actual, std)
		}
	}
	// usd_value has no aliases but rides along for signal math.
	if v, ok := raw["usd_value"]; ok {
		fields["usd_value"] = v
	}

	for _, req := range requiredFields {
		if fields[req] == nil {
			n.logOnce(fmt.Sprintf("missing:%s:%s", provider, req),
				"provider %s: missing required field %q", provider, req)
		}
	}

	ts, _ := toInt64(fields[FieldTimestamp])
	return Record{
		EventID:   toString(fields[FieldEventID]),
		EventType: toString(fields[FieldEventType]),
		Wallet:    toString(fields[FieldWallet]),
		Pool:      toString(fields[FieldPool]),
		Chain:     toString(fields[FieldChain]),
		Timestamp: ts,
		Fields:    fields,
	}
}

// DetectDrift samples up to the first 10 raw events and reports fields no
// alias list recognizes. A non-empty report hints the provider changed its
// schema.
func (n *Normalizer) DetectDrift(provider string, events []map[string]interface{}) DriftReport {
	report := DriftReport{Provider: provider}
	if len(events) == 0 {
		return report
	}
	sample := events
	if len(sample) > 10 {
		sample = sample[:10]
	}
	report.SampleSize = len(sample)

	known := map[string]struct{}{"usd_value": {}}
	for std, aliases := range fieldAliases {
		known[std] = struct{}{}
		for _, a := range aliases {
			known[a] = struct{}{}
		}
	}
	seen := map[string]struct{}{}
	for _, ev := range sample {
		for field := range ev {
			if _, ok := known[field]; ok {
				continue
			}
			if _, dup := seen[field]; dup {
				continue
			}
			seen[field] = struct{}{}
			report.UnexpectedFields = append(report.UnexpectedFields, field)
		}
	}
	sort.Strings(report.UnexpectedFields)
	if len(report.UnexpectedFields) > 0 {
		n.logOnce(fmt.Sprintf("drift:%s:%v", provider, report.UnexpectedFields),
			"provider %s: %d unexpected fields: %v", provider, len(report.UnexpectedFields), report.UnexpectedFields)
	}
	return report
}

func (n *Normalizer) logOnce(key, format string, args ...interface{}) {
	n.mu.Lock()
	_, seen := n.seenLogs[key]
	if !seen {
		n.seenLogs[key] = struct{}{}
	}
	n.mu.Unlock()
	if !seen {
		n.logger.Printf(format, args...)
	}
}

func canonicalOrder() []string {
	return []string{
		FieldEventID, FieldEventType, FieldWallet, FieldTimestamp, FieldBlock,
		FieldChain, FieldGasUsed, FieldValue, FieldTokenSymbol, FieldTokenAddress,
		FieldDirection, FieldCounterparty, FieldPool, FieldDetails, FieldAmounts,
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(t, 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
