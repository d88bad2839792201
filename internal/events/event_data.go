package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// SignalGeneratedData contains data for SignalGenerated events
type SignalGeneratedData struct {
	SignalID       string  `json:"signal_id"`
	AgentID        string  `json:"agent_id"`
	Symbol         string  `json:"symbol"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Priority       int     `json:"priority"`
	Queue          string  `json:"queue"`
}

// EventType returns the event type for SignalGeneratedData
func (d *SignalGeneratedData) EventType() EventType {
	return SignalGenerated
}

// SignalFailedData contains data for SignalFailed events
type SignalFailedData struct {
	SignalID string `json:"signal_id"`
	AgentID  string `json:"agent_id"`
	Symbol   string `json:"symbol"`
	Reason   string `json:"reason"`
}

// EventType returns the event type for SignalFailedData
func (d *SignalFailedData) EventType() EventType {
	return SignalFailed
}

// OrderCompletedData contains data for OrderCompleted events
// Consumers key off OrderID and must tolerate re-delivery.
type OrderCompletedData struct {
	OrderID         string   `json:"order_id"`
	UserID          string   `json:"user_id"`
	AgentID         string   `json:"agent_id,omitempty"`
	Symbol          string   `json:"symbol"`
	Side            string   `json:"side"`
	Status          string   `json:"status"`
	Amount          float64  `json:"amount"`
	ActualFillPrice *float64 `json:"actual_fill_price,omitempty"`
	Profit          *float64 `json:"profit,omitempty"`
	Fees            *float64 `json:"fees,omitempty"`
	TimedOut        bool     `json:"timed_out"`
}

// EventType returns the event type for OrderCompletedData
func (d *OrderCompletedData) EventType() EventType {
	return OrderCompleted
}

// PnLChangedData contains data for PnLChanged events
type PnLChangedData struct {
	AgentID       string  `json:"agent_id"`
	TradeID       string  `json:"trade_id"`
	Symbol        string  `json:"symbol"`
	PreviousPnL   float64 `json:"previous_pnl"`
	CurrentPnL    float64 `json:"current_pnl"`
	ChangePercent float64 `json:"change_percent"`
}

// EventType returns the event type for PnLChangedData
func (d *PnLChangedData) EventType() EventType {
	return PnLChanged
}

// ExitDecidedData contains data for ExitDecided events
type ExitDecidedData struct {
	AgentID    string  `json:"agent_id"`
	TradeID    string  `json:"trade_id"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Urgency    string  `json:"urgency"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// EventType returns the event type for ExitDecidedData
func (d *ExitDecidedData) EventType() EventType {
	return ExitDecided
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
