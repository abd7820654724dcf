package mqtt

import (
	"encoding/json"
	"time"
)

// Relay presence on obsrelay/system/status.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonUnexpectedDisconnect = "unexpected_disconnect"
	reasonGracefulShutdown     = "graceful_shutdown"
)

// statusMessage is the retained presence payload. The broker publishes
// the offline variant as the will when the relay drops without Close.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presence(clientID, status, reason string) []byte {
	//nolint:errcheck // string fields only
	data, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
