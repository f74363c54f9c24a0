package edge

import (
	"fmt"

	"github.com/nimbus-robotics/gatewayd/internal/ipc"
)

// protocolError pairs a reply error code with a client-facing message,
// distinct from transport-level errors that never reach a reply at all.
type protocolError struct {
	code    ipc.ErrorCode
	message string
}

func (e protocolError) Error() string { return e.message }

// validateCommand checks one inbound envelope's event/data shape against the
// three command forms the realtime channel accepts, returning the
// CommandMessage to forward to the Worker. args defaults to an empty map
// when process is called without one.
func validateCommand(event string, data map[string]any) (ipc.CommandMessage, error) {
	switch event {
	case string(ipc.CommandUpdate):
		if _, ok := data["data"].(string); !ok {
			return ipc.CommandMessage{}, protocolError{ipc.ErrProtocolMissingField, `update requires a "data" string field`}
		}
		return ipc.CommandMessage{Type: ipc.CommandUpdate, Data: data}, nil

	case string(ipc.CommandStart):
		return ipc.CommandMessage{Type: ipc.CommandStart, Data: data}, nil

	case string(ipc.CommandProcess):
		params, ok := data["params"].(map[string]any)
		if !ok {
			return ipc.CommandMessage{}, protocolError{ipc.ErrProtocolMissingField, `process requires a "params" object`}
		}

		object, _ := params["object"].(string)
		method, _ := params["method"].(string)
		if object == "" || method == "" {
			return ipc.CommandMessage{}, protocolError{ipc.ErrProtocolInvalidParams, "params.object and params.method are required"}
		}

		if _, ok := params["args"].(map[string]any); !ok {
			params["args"] = map[string]any{}
		}

		return ipc.CommandMessage{Type: ipc.CommandProcess, Data: data}, nil

	default:
		return ipc.CommandMessage{}, protocolError{ipc.ErrProtocolUnknownCommand, fmt.Sprintf("unknown command %q", event)}
	}
}
