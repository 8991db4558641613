package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType identifies a feed event.
type EventType string

const (
	// EventTypeRunStarted is emitted when a scan run begins.
	EventTypeRunStarted EventType = "run_started"
	// EventTypeRunCompleted is emitted with the run's score and risk level.
	EventTypeRunCompleted EventType = "run_completed"
	// EventTypePIIDetection is emitted per run with the detected types.
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeDegraded is emitted when a run completes without the
	// entity recognizer or with unscannable fields.
	EventTypeDegraded EventType = "degraded"
	// EventTypeConnection reports client connect and disconnect.
	EventTypeConnection EventType = "connection"
)

// Event is one message on the feed. Data payloads never carry raw PII,
// only masked samples and counts.
type Event struct {
	Type        EventType   `json:"type"`
	Timestamp   time.Time   `json:"timestamp"`
	IngestionID string      `json:"ingestion_id,omitempty"`
	Data        interface{} `json:"data"`
}

// RunStartedEvent announces a new scan run.
type RunStartedEvent struct {
	FieldCount int    `json:"field_count"`
	SubjectID  string `json:"subject_id,omitempty"`
}

// RunCompletedEvent carries the run outcome.
type RunCompletedEvent struct {
	ComplianceScore float64 `json:"compliance_score"`
	RiskLevel       string  `json:"risk_level"`
	ConsentStatus   string  `json:"consent_status"`
	TotalInstances  int     `json:"total_pii_instances"`
	Degraded        bool    `json:"degraded"`
	ProcessingMS    float64 `json:"processing_ms"`
}

// PIIDetectionEvent lists detected types and their counts.
type PIIDetectionEvent struct {
	TypesDetected map[string]int `json:"types_detected"`
	Total         int            `json:"total"`
}

// DegradedEvent describes why a run was degraded.
type DegradedEvent struct {
	Reason string `json:"reason"`
}

// ConnectionEvent reports feed client lifecycle.
type ConnectionEvent struct {
	Action   string `json:"action"` // connected or disconnected
	ClientID string `json:"client_id"`
}

// ClientMessage is a message sent from a feed client.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest filters which event types a client receives.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client is one connected feed consumer.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	IP           string
}
