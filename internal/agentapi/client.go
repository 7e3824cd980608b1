// Package agentapi exposes the agent daemon's remote surface as typed calls
// over a Bridge. The daemon's internals are out of reach here; only its
// named methods and their result shapes are known.
package agentapi

import (
	"context"
	"fmt"

	"github.com/twizzy/bridge/internal/bridge"
	"github.com/twizzy/bridge/internal/protocol"
)

// Status is the daemon's status snapshot.
type Status struct {
	Running             bool     `json:"running"`
	EnabledCapabilities []string `json:"enabled_capabilities"`
	RegisteredPlugins   []string `json:"registered_plugins"`
	ConversationLength  int      `json:"conversation_length"`
}

// Permissions maps capability names to whether they are enabled.
type Permissions map[string]bool

// Ack is the daemon's reply to mutating calls.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Caller is the slice of the bridge the client needs.
type Caller interface {
	Call(ctx context.Context, method string, params any, result any) error
	Notify(ctx context.Context, method string, params any) error
}

// Client issues the daemon's remote methods.
type Client struct {
	b Caller
}

// New wraps a bridge (or anything that can place calls).
func New(b Caller) *Client { return &Client{b: b} }

// Chat sends a user message and returns the agent's reply text.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	var reply string
	err := c.b.Call(ctx, "chat", map[string]any{"user_message": message}, &reply)
	return reply, err
}

// SendMessage issues a message command on the push channel and waits for the
// exchange's terminal response.
func (c *Client) SendMessage(ctx context.Context, message string) (string, error) {
	var reply string
	err := c.b.Call(ctx, protocol.CommandMessage, map[string]any{"message": message}, &reply)
	return reply, err
}

// Status fetches the agent's status snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.b.Call(ctx, "status", nil, &st)
	return st, err
}

// Clear resets the current conversation.
func (c *Client) Clear(ctx context.Context) error {
	return c.b.Call(ctx, "clear", nil, nil)
}

// GetPermissions fetches the capability map.
func (c *Client) GetPermissions(ctx context.Context) (Permissions, error) {
	var p Permissions
	err := c.b.Call(ctx, "get_permissions", nil, &p)
	return p, err
}

// SetPermissions replaces the capability map. A daemon-side save failure is
// reported in the ack rather than as an RPC error.
func (c *Client) SetPermissions(ctx context.Context, p Permissions) error {
	var ack Ack
	if err := c.b.Call(ctx, "set_permissions", map[string]any{"permissions": p}, &ack); err != nil {
		return err
	}
	if !ack.Success {
		if ack.Error == "" {
			ack.Error = "permission update rejected"
		}
		return fmt.Errorf("set_permissions: %s", ack.Error)
	}
	return nil
}

// SwitchConversation switches the active conversation on the push channel.
// The daemon sends no terminal frame for this command, so it is issued as a
// notification.
func (c *Client) SwitchConversation(ctx context.Context, conversationID string) error {
	return c.b.Notify(ctx, protocol.CommandSwitchConversation, map[string]any{"conversation_id": conversationID})
}

var _ Caller = (*bridge.Bridge)(nil)
