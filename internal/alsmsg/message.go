// Package alsmsg defines the wire shape of messages carried on the ALS
// Kafka topic and the JSON-log side-channel topics, and the validation that
// must pass before a message is handed to the bundle assembler.
package alsmsg

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openafc/afc-telemetry-core/internal/errs"
)

// DataType identifies which of the three per-transaction roles a Message
// plays. A Bundle is complete only once one Request, one Response and a
// compatible set of Configs sharing a Kafka key have all arrived.
type DataType string

const (
	// DataTypeRequest marks the AFC request half of a transaction.
	DataTypeRequest DataType = "AFC_REQUEST"
	// DataTypeResponse marks the AFC response half of a transaction.
	DataTypeResponse DataType = "AFC_RESPONSE"
	// DataTypeConfig marks a config applicable to one or more inner requests.
	DataTypeConfig DataType = "AFC_CONFIG"
)

// SupportedVersion is the only "version" value this port understands.
const SupportedVersion = "1.0"

// Message is the decoded form of one ALS topic record. All three DataType
// variants are represented by this single struct; the Config-only fields
// are simply empty for Request/Response messages.
type Message struct {
	Version  string   `json:"version"`
	AfcServer string  `json:"afcServer"`
	Time     time.Time `json:"time"`
	DataType DataType `json:"dataType"`
	JSONData string   `json:"jsonData"`

	// Config-only fields.
	Customer        string `json:"customer,omitempty"`
	GeoDataVersion  string `json:"geoDataVersion,omitempty"`
	UlsID           string `json:"ulsId,omitempty"`
	RequestIndexes  []int  `json:"requestIndexes,omitempty"`
}

// wireMessage mirrors Message but keeps Time as a raw string so we can
// surface a precise parse error instead of encoding/json's generic one.
type wireMessage struct {
	Version        string   `json:"version"`
	AfcServer      string   `json:"afcServer"`
	Time           string   `json:"time"`
	DataType       string   `json:"dataType"`
	JSONData       string   `json:"jsonData"`
	Customer       string   `json:"customer"`
	GeoDataVersion string   `json:"geoDataVersion"`
	UlsID          string   `json:"ulsId"`
	RequestIndexes []int    `json:"requestIndexes"`
}

// ParseError wraps a decode failure with the offending raw payload so it can
// be written verbatim to the decode_error table.
type ParseError struct {
	Reason  string
	Payload []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("alsmsg: %s", e.Reason)
}

// Unwrap classifies the failure against the sentinels in internal/errs, so
// callers can use errors.Is instead of matching on Reason text (spec §7).
// "invalid json"/"not valid JSON" are ErrJSONFormat; every other structural
// problem (bad version, missing field, unknown dataType, bad timestamp) is
// a wire-envelope violation, ErrProtocol.
func (e *ParseError) Unwrap() error {
	if strings.HasPrefix(e.Reason, "invalid json") || strings.Contains(e.Reason, "not valid JSON") {
		return errs.ErrJSONFormat
	}
	return errs.ErrProtocol
}

// Parse decodes and validates a raw ALS topic record. Any structural
// problem - bad JSON, unsupported version, missing fields, bad timestamp or
// unknown dataType - is reported as a *ParseError so the caller can record
// a decode_error row and move on (spec §4.2 "Failure"). Request indexes are
// not range-checked here; the bundle assembler reports an out-of-range
// index as an *IndexOutOfRangeError once the Request is known.
func Parse(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, &ParseError{Reason: "invalid json: " + err.Error(), Payload: raw}
	}

	if w.Version != SupportedVersion {
		return Message{}, &ParseError{Reason: fmt.Sprintf("unsupported version %q", w.Version), Payload: raw}
	}
	if w.AfcServer == "" {
		return Message{}, &ParseError{Reason: "missing afcServer", Payload: raw}
	}
	if w.JSONData == "" {
		return Message{}, &ParseError{Reason: "missing jsonData", Payload: raw}
	}

	ts, err := time.Parse(time.RFC3339, w.Time)
	if err != nil {
		return Message{}, &ParseError{Reason: "invalid time: " + err.Error(), Payload: raw}
	}

	dt := DataType(w.DataType)
	switch dt {
	case DataTypeRequest, DataTypeResponse, DataTypeConfig:
	default:
		return Message{}, &ParseError{Reason: fmt.Sprintf("unknown dataType %q", w.DataType), Payload: raw}
	}

	if !json.Valid([]byte(w.JSONData)) {
		return Message{}, &ParseError{Reason: "jsonData is not valid JSON", Payload: raw}
	}

	msg := Message{
		Version:   w.Version,
		AfcServer: w.AfcServer,
		Time:      ts,
		DataType:  dt,
		JSONData:  w.JSONData,
	}

	if dt == DataTypeConfig {
		msg.Customer = w.Customer
		msg.GeoDataVersion = w.GeoDataVersion
		msg.UlsID = w.UlsID
		msg.RequestIndexes = w.RequestIndexes
	}

	return msg, nil
}

// LogRecord is a decoded record from a JSON-log side-channel topic (any
// topic not matching the ALS topic name, spec §6.1).
type LogRecord struct {
	Version   string          `json:"version"`
	AfcServer string          `json:"afcServer"`
	Time      time.Time       `json:"time"`
	JSONData  json.RawMessage `json:"jsonData"`
}

// ParseLogRecord decodes a record from a JSON-log topic.
func ParseLogRecord(raw []byte) (LogRecord, error) {
	var tmp struct {
		Version   string          `json:"version"`
		AfcServer string          `json:"afcServer"`
		Time      string          `json:"time"`
		JSONData  json.RawMessage `json:"jsonData"`
	}
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return LogRecord{}, &ParseError{Reason: "invalid json: " + err.Error(), Payload: raw}
	}
	ts, err := time.Parse(time.RFC3339, tmp.Time)
	if err != nil {
		return LogRecord{}, &ParseError{Reason: "invalid time: " + err.Error(), Payload: raw}
	}
	return LogRecord{Version: tmp.Version, AfcServer: tmp.AfcServer, Time: ts, JSONData: tmp.JSONData}, nil
}
