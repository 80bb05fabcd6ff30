package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Command type strings stored in the command log.
const (
	CommandEnqueue          = "enqueue"
	CommandRedemptionUpdate = "redemption.update"
	CommandQueueComplete    = "queue.complete"
	CommandQueueRemove      = "queue.remove"
	CommandSettingsUpdate   = "settings.update"
	CommandStreamOnline     = "stream.online"
	CommandStreamOffline    = "stream.offline"
)

// Command sources.
const (
	SourcePolicy = "policy"
	SourceAdmin  = "admin"
)

// Redemption update modes and capability results.
const (
	UpdateModeConsume = "consume"
	UpdateModeRefund  = "refund"

	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Command is a state-changing directive produced by the policy engine or an
// administrative endpoint and applied by the executor under a fresh version.
type Command interface {
	// CommandType returns the log type string for the command.
	CommandType() string
	// Broadcaster returns the tenant the command applies to.
	Broadcaster() string
	// Op returns the client idempotency key, or "" for policy commands.
	Op() string
	// Redacted returns a tap-safe representation with identifiers masked.
	Redacted() map[string]any
}

// EnqueueCommand inserts a new queue entry and bumps the user's daily
// counter.
type EnqueueCommand struct {
	BroadcasterID string    `json:"broadcaster_id"`
	IssuedAt      time.Time `json:"issued_at"`
	Source        string    `json:"source"`
	User          User      `json:"user"`
	Reward        Reward    `json:"reward"`
	RedemptionID  string    `json:"redemption_id"`
	Managed       bool      `json:"managed"`
}

func (c EnqueueCommand) CommandType() string { return CommandEnqueue }
func (c EnqueueCommand) Broadcaster() string { return c.BroadcasterID }
func (c EnqueueCommand) Op() string          { return "" }

func (c EnqueueCommand) Redacted() map[string]any {
	return map[string]any{
		"type":           CommandEnqueue,
		"broadcaster_id": c.BroadcasterID,
		"issued_at":      c.IssuedAt,
		"source":         c.Source,
		"user":           c.User.Masked(),
		"reward":         c.Reward,
		"redemption_id":  c.RedemptionID,
	}
}

// RedemptionUpdateCommand records the outcome of invoking the external
// redemption-update capability (consume or refund). Applicable is false when
// the capability was not invoked (dry-run or no upstream redemption).
type RedemptionUpdateCommand struct {
	BroadcasterID string    `json:"broadcaster_id"`
	IssuedAt      time.Time `json:"issued_at"`
	Source        string    `json:"source"`
	RedemptionID  string    `json:"redemption_id"`
	Mode          string    `json:"mode"`
	Applicable    bool      `json:"applicable"`
	Result        string    `json:"result"`
	Managed       bool      `json:"managed"`
	Error         string    `json:"error,omitempty"`
}

func (c RedemptionUpdateCommand) CommandType() string { return CommandRedemptionUpdate }
func (c RedemptionUpdateCommand) Broadcaster() string { return c.BroadcasterID }
func (c RedemptionUpdateCommand) Op() string          { return "" }

func (c RedemptionUpdateCommand) Redacted() map[string]any {
	return map[string]any{
		"type":           CommandRedemptionUpdate,
		"broadcaster_id": c.BroadcasterID,
		"issued_at":      c.IssuedAt,
		"source":         c.Source,
		"redemption_id":  c.RedemptionID,
		"mode":           c.Mode,
		"applicable":     c.Applicable,
		"result":         c.Result,
	}
}

// QueueCompleteCommand transitions an entry QUEUED→COMPLETED. The daily
// counter is unchanged. IssuedAt is excluded from the serialized payload so
// that an op_id replay with an identical body compares equal byte-for-byte.
type QueueCompleteCommand struct {
	BroadcasterID string    `json:"broadcaster_id"`
	IssuedAt      time.Time `json:"-"`
	Source        string    `json:"source"`
	EntryID       string    `json:"entry_id"`
	OpID          string    `json:"op_id"`
}

func (c QueueCompleteCommand) CommandType() string { return CommandQueueComplete }
func (c QueueCompleteCommand) Broadcaster() string { return c.BroadcasterID }
func (c QueueCompleteCommand) Op() string          { return c.OpID }

func (c QueueCompleteCommand) Redacted() map[string]any {
	return map[string]any{
		"type":           CommandQueueComplete,
		"broadcaster_id": c.BroadcasterID,
		"source":         c.Source,
		"entry_id":       c.EntryID,
	}
}

// QueueRemoveCommand transitions an entry QUEUED→REMOVED. Reason UNDO also
// decrements the user's counter for the entry's day.
type QueueRemoveCommand struct {
	BroadcasterID string    `json:"broadcaster_id"`
	IssuedAt      time.Time `json:"-"`
	Source        string    `json:"source"`
	EntryID       string    `json:"entry_id"`
	Reason        string    `json:"reason"`
	OpID          string    `json:"op_id,omitempty"`
}

func (c QueueRemoveCommand) CommandType() string { return CommandQueueRemove }
func (c QueueRemoveCommand) Broadcaster() string { return c.BroadcasterID }
func (c QueueRemoveCommand) Op() string          { return c.OpID }

func (c QueueRemoveCommand) Redacted() map[string]any {
	return map[string]any{
		"type":           CommandQueueRemove,
		"broadcaster_id": c.BroadcasterID,
		"source":         c.Source,
		"entry_id":       c.EntryID,
		"reason":         c.Reason,
	}
}

// SettingsUpdateCommand merges a partial patch into the broadcaster's
// settings document.
type SettingsUpdateCommand struct {
	BroadcasterID string          `json:"broadcaster_id"`
	IssuedAt      time.Time       `json:"-"`
	Source        string          `json:"source"`
	Patch         json.RawMessage `json:"patch"`
	OpID          string          `json:"op_id"`
}

func (c SettingsUpdateCommand) CommandType() string { return CommandSettingsUpdate }
func (c SettingsUpdateCommand) Broadcaster() string { return c.BroadcasterID }
func (c SettingsUpdateCommand) Op() string          { return c.OpID }

func (c SettingsUpdateCommand) Redacted() map[string]any {
	// The patch may carry theme names and reward ids only, safe to keep.
	return map[string]any{
		"type":           CommandSettingsUpdate,
		"broadcaster_id": c.BroadcasterID,
		"source":         c.Source,
		"patch":          c.Patch,
	}
}

// StreamOnlineCommand opens (or continues) the broadcaster's stream session.
type StreamOnlineCommand struct {
	BroadcasterID string    `json:"broadcaster_id"`
	IssuedAt      time.Time `json:"issued_at"`
	Source        string    `json:"source"`
	StartedAt     time.Time `json:"started_at"`
}

func (c StreamOnlineCommand) CommandType() string { return CommandStreamOnline }
func (c StreamOnlineCommand) Broadcaster() string { return c.BroadcasterID }
func (c StreamOnlineCommand) Op() string          { return "" }

func (c StreamOnlineCommand) Redacted() map[string]any {
	return map[string]any{
		"type":           CommandStreamOnline,
		"broadcaster_id": c.BroadcasterID,
		"started_at":     c.StartedAt,
	}
}

// StreamOfflineCommand closes the broadcaster's open stream session, if any.
type StreamOfflineCommand struct {
	BroadcasterID string    `json:"broadcaster_id"`
	IssuedAt      time.Time `json:"issued_at"`
	Source        string    `json:"source"`
	EndedAt       time.Time `json:"ended_at"`
}

func (c StreamOfflineCommand) CommandType() string { return CommandStreamOffline }
func (c StreamOfflineCommand) Broadcaster() string { return c.BroadcasterID }
func (c StreamOfflineCommand) Op() string          { return "" }

func (c StreamOfflineCommand) Redacted() map[string]any {
	return map[string]any{
		"type":           CommandStreamOffline,
		"broadcaster_id": c.BroadcasterID,
		"ended_at":       c.EndedAt,
	}
}

// EncodeCommand serializes a command payload for the command log.
func EncodeCommand(c Command) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode command %s: %w", c.CommandType(), err)
	}
	return string(b), nil
}

// DecodeCommand reconstructs a command from its log type and payload.
// Unknown types are rejected; capture replay depends on this being the exact
// inverse of EncodeCommand.
func DecodeCommand(commandType, payload string) (Command, error) {
	switch commandType {
	case CommandEnqueue:
		var c EnqueueCommand
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", commandType, err)
		}
		return c, nil
	case CommandRedemptionUpdate:
		var c RedemptionUpdateCommand
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", commandType, err)
		}
		return c, nil
	case CommandQueueComplete:
		var c QueueCompleteCommand
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", commandType, err)
		}
		return c, nil
	case CommandQueueRemove:
		var c QueueRemoveCommand
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", commandType, err)
		}
		return c, nil
	case CommandSettingsUpdate:
		var c SettingsUpdateCommand
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", commandType, err)
		}
		return c, nil
	case CommandStreamOnline:
		var c StreamOnlineCommand
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", commandType, err)
		}
		return c, nil
	case CommandStreamOffline:
		var c StreamOfflineCommand
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", commandType, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", commandType)
	}
}
