package ws

import (
	"time"

	"chat-coordinator/internal/observability"
)

type ConnInfo struct {
	ConnID      string
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) event(name, reason string, now time.Time) observability.WSEvent {
	var duration int64
	if !i.ConnectedAt.IsZero() {
		duration = now.Sub(i.ConnectedAt).Milliseconds()
	}
	return observability.WSEvent{
		WS: observability.WSDetails{
			Event:      name,
			ConnID:     i.ConnID,
			DurationMS: duration,
			Reason:     reason,
		},
		Identity: observability.IdentityDetail{
			Username: i.Username,
			DeviceID: i.DeviceID,
			IP:       i.IP,
		},
	}
}
