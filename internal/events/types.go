// Package events provides the in-process event bus and typed event payloads.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents different event types
type EventType string

const (
	// Pipeline event types
	SignalGenerated EventType = "SIGNAL_GENERATED"
	SignalFailed    EventType = "SIGNAL_FAILED"
	OrderCompleted  EventType = "ORDER_COMPLETED"
	PnLChanged      EventType = "PNL_CHANGED"
	ExitDecided     EventType = "EXIT_DECIDED"

	// Operational event types
	ErrorOccurred EventType = "ERROR_OCCURRED"
)

// Event represents a system event with typed data
// The Data field holds a map form of the payload; GetTypedData converts it
// back to the typed struct for consumers that want one.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// GetTypedData attempts to convert the Data map to typed EventData
// Returns the typed data if conversion is successful, nil otherwise
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	switch e.Type {
	case SignalGenerated:
		var data SignalGeneratedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case SignalFailed:
		var data SignalFailedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case OrderCompleted:
		var data OrderCompletedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case PnLChanged:
		var data PnLChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ExitDecided:
		var data ExitDecidedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ErrorOccurred:
		var data ErrorEventData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	}

	return nil
}

// convertMapToStruct converts a map[string]interface{} to a struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}
