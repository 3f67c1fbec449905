package ws

import "time"

// ConnInfo describes one websocket connection for logs and metrics.
type ConnInfo struct {
	ConnID      string
	UserID      string
	Kind        string
	Topic       string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) logArgs() []any {
	return []any{
		"conn_id", i.ConnID,
		"kind", i.Kind,
		"topic", i.Topic,
		"user_id", i.UserID,
		"device_id", i.DeviceID,
		"ip", i.IP,
		"request_id", i.RequestID,
		"trace_id", i.TraceID,
	}
}
