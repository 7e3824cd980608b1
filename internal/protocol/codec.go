package protocol

import (
	"encoding/json"
	"fmt"
)

// FramingError reports bytes that did not parse as a complete, classifiable
// envelope. It is logged and discarded by the reader, never fatal.
type FramingError struct {
	Data []byte
	Err  error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %v", e.Err)
	}
	return "malformed frame"
}

func (e *FramingError) Unwrap() error { return e.Err }

// Codec turns calls into wire bytes and wire bytes into classified messages.
// Implementations are stateless and safe for concurrent use.
type Codec interface {
	EncodeRequest(id uint64, method string, params any) ([]byte, error)
	Decode(data []byte) (Inbound, error)
}

// RPCCodec speaks JSON-RPC 2.0, one object per message, as used on the
// daemon's Unix socket.
type RPCCodec struct{}

func (RPCCodec) EncodeRequest(id uint64, method string, params any) ([]byte, error) {
	return json.Marshal(Request{JSONRPC: Version, Method: method, Params: params, ID: id})
}

// Decode classifies an inbound frame: an id marks a response; a bare type
// discriminator marks an event. The result is kept raw so the caller can
// direct the conversion (a bare string, a number, and an object are all
// legal results).
func (RPCCodec) Decode(data []byte) (Inbound, error) {
	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *uint64         `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
		Type    string          `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, &FramingError{Data: data, Err: err}
	}
	if env.ID != nil && !(*env.ID == 0 && env.Type != "") {
		return Inbound{Kind: KindResponse, ID: *env.ID, Result: env.Result, Err: env.Error}, nil
	}
	if env.Type != "" {
		return Inbound{Kind: KindEvent, Type: env.Type, Payload: data}, nil
	}
	return Inbound{}, &FramingError{Data: data, Err: fmt.Errorf("frame has neither id nor type")}
}

// PushCodec speaks the type-discriminated push/command wire used on the
// WebSocket channel. Correlation is implicit: at most one exchange is in
// flight, and frames of type "response" or "error" terminate it.
type PushCodec struct{}

func (PushCodec) EncodeRequest(_ uint64, method string, params any) ([]byte, error) {
	switch method {
	case "chat", CommandMessage:
		msg, err := paramString(params, "user_message", "message")
		if err != nil {
			return nil, err
		}
		return json.Marshal(MessageCommand{Type: CommandMessage, Message: msg})
	case CommandSwitchConversation:
		id, err := paramString(params, "conversation_id")
		if err != nil {
			return nil, err
		}
		return json.Marshal(SwitchConversationCommand{Type: CommandSwitchConversation, ConversationID: id})
	default:
		// Unknown commands pass their params through with the type set.
		fields := map[string]any{}
		if params != nil {
			b, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(b, &fields); err != nil {
				return nil, fmt.Errorf("push command params must be an object: %w", err)
			}
		}
		fields["type"] = method
		return json.Marshal(fields)
	}
}

func (PushCodec) Decode(data []byte) (Inbound, error) {
	var env struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, &FramingError{Data: data, Err: err}
	}
	if env.Type == "" {
		return Inbound{}, &FramingError{Data: data, Err: fmt.Errorf("frame has no type")}
	}
	in := Inbound{Kind: KindEvent, Type: env.Type, Payload: data}
	switch env.Type {
	case EventResponse:
		in.Terminal = true
		result, err := json.Marshal(env.Message)
		if err != nil {
			return Inbound{}, &FramingError{Data: data, Err: err}
		}
		in.Result = result
	case EventError:
		in.Terminal = true
		in.Err = &RPCError{Code: CodeHandlerError, Message: env.Message}
	}
	return in, nil
}

func paramString(params any, keys ...string) (string, error) {
	m, ok := params.(map[string]any)
	if !ok {
		return "", fmt.Errorf("push command params must be a map, got %T", params)
	}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s, nil
			}
			return "", fmt.Errorf("param %q must be a string", k)
		}
	}
	return "", fmt.Errorf("missing param %q", keys[0])
}
