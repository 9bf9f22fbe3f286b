package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrAuthUnavailable is returned by Connect when no valid credential exists.
var ErrAuthUnavailable = errors.New("no auth credential available")

// ErrNotConnected is returned when an outbound frame is emitted on a
// connection that is not established.
var ErrNotConnected = errors.New("connection is not established")

// ConnectionFailedError wraps a transport or handshake failure.
type ConnectionFailedError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error {
	return e.Err
}

// OperationRejectedError is a server-side rejection carried by a named error
// event (e.g. join-session-error).
type OperationRejectedError struct {
	Op      string
	Message string
}

func (e *OperationRejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

// OperationErrorMessage extracts the message from a named error event's data.
// Falls back to the raw frame text when structured decoding fails.
func OperationErrorMessage(data json.RawMessage) string {
	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &structured); err == nil {
		if structured.Error != "" {
			return structured.Error
		}
		if structured.Message != "" {
			return structured.Message
		}
	}

	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return plain
	}
	return string(data)
}
