package protocol

import "encoding/json"

// Version is the JSON-RPC protocol version spoken on the stream channel.
const Version = "2.0"

// Event types pushed by the agent daemon.
const (
	EventConnected    = "connected"
	EventStatus       = "status"
	EventResponse     = "response"
	EventStatusUpdate = "status_update"
	EventError        = "error"
	EventImprovement  = "improvement"
	EventReload       = "reload"
)

// Command types sent on the push channel.
const (
	CommandMessage            = "message"
	CommandSwitchConversation = "switch_conversation"
)

// Error codes reported by the daemon.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeHandlerError   = -32000
)

// Request is the JSON-RPC request envelope on the stream channel.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

// RPCError is a remote-reported failure. It carries the daemon's message
// and code verbatim.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Kind classifies a decoded inbound message.
type Kind int

const (
	// KindResponse is a reply correlated to an outstanding call.
	KindResponse Kind = iota + 1
	// KindEvent is an unsolicited push; never matched against pending calls.
	KindEvent
)

// Inbound is one decoded wire message.
type Inbound struct {
	Kind Kind

	// Response fields.
	ID     uint64
	Result json.RawMessage
	Err    *RPCError

	// Event fields. Payload is the full frame so handlers can decode the
	// shape they expect.
	Type    string
	Payload json.RawMessage

	// Terminal marks a push-channel frame that ends the in-flight exchange
	// (type "response" or "error"). Such frames dispatch as events and, under
	// implicit correlation, also complete the outstanding call. Result/Err
	// are populated accordingly.
	Terminal bool
}

// MessageCommand asks the agent to process a user message (push channel).
type MessageCommand struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SwitchConversationCommand switches the active conversation (push channel).
type SwitchConversationCommand struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ConnectedEvent is sent once after the push channel is accepted.
type ConnectedEvent struct {
	Type           string `json:"type"`
	Message        string `json:"message,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// StatusEvent names a transient agent state such as "thinking".
type StatusEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ResponseEvent carries the terminal content of the current exchange.
type ResponseEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent reports a content-level failure of the current exchange.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StatusUpdateEvent carries an agent status snapshot pushed after an exchange.
type StatusUpdateEvent struct {
	Type   string          `json:"type"`
	Status json.RawMessage `json:"status"`
}

// ImprovementEvent announces an applied self-modification.
type ImprovementEvent struct {
	Type string          `json:"type"`
	Data ImprovementInfo `json:"data"`
}

// ImprovementInfo describes the applied change.
type ImprovementInfo struct {
	Description string   `json:"description"`
	Files       []string `json:"files,omitempty"`
}

// ReloadEvent warns that the daemon is about to restart. The following
// disconnect is expected and not an error.
type ReloadEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
