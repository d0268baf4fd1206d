package observability

const WSRoutingKey = "ws_events.coordinator"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEvent describes one websocket lifecycle transition.
type WSEvent struct {
	WS       WSDetails      `json:"ws"`
	Identity IdentityDetail `json:"identity"`
}

type WSDetails struct {
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

type IdentityDetail struct {
	Username string `json:"username,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	IP       string `json:"ip"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
