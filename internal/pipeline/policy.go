package pipeline

import (
	"time"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// Policy outcome classifications, used for logging and tap output.
const (
	ActionApplied   = "applied"
	ActionDuplicate = "duplicate"
	ActionIgnored   = "ignored"
)

// RedemptionKey identifies a (user, reward) pair for anti-spam tracking.
type RedemptionKey struct {
	UserID   string
	RewardID string
}

// Activity is the explicit recent-activity snapshot the policy engine
// consults. The engine never reads storage; callers assemble this from the
// state store before evaluation so that evaluation stays pure and
// reproducible.
type Activity struct {
	// LastRedemptions maps (user, reward) to the occurrence time of the most
	// recent prior RedemptionAdd.
	LastRedemptions map[RedemptionKey]time.Time
	// QueuedEntries is the current set of QUEUED entries, consulted for
	// stream-start clears.
	QueuedEntries []domain.QueueEntry
	// Today is the current day string in the broadcaster's zone, consulted
	// when clear_decrement_counts restricts decrements to same-day entries.
	Today string
}

// Outcome is the result of evaluating one event.
type Outcome struct {
	Commands []domain.Command
	Action   string
	Reason   string
}

// Redacted returns a tap-safe representation of the outcome.
func (o Outcome) Redacted() map[string]any {
	cmds := make([]map[string]any, 0, len(o.Commands))
	for _, c := range o.Commands {
		cmds = append(cmds, c.Redacted())
	}
	out := map[string]any{"action": o.Action, "commands": cmds}
	if o.Reason != "" {
		out["reason"] = o.Reason
	}
	return out
}

func ignored(reason string) Outcome {
	return Outcome{Action: ActionIgnored, Reason: reason}
}

// Evaluate translates a normalized event plus the broadcaster's settings and
// recent activity into an ordered command list. The function is pure: given
// identical inputs it returns identical outputs, across processes.
func Evaluate(settings domain.Settings, activity Activity, event domain.NormalizedEvent, issuedAt time.Time) Outcome {
	switch e := event.(type) {
	case domain.RedemptionAdd:
		return evaluateRedemptionAdd(settings, activity, e, issuedAt)
	case domain.RedemptionUpdate:
		return evaluateRedemptionUpdate(e, issuedAt)
	case domain.StreamOnline:
		return evaluateStreamOnline(settings, activity, e, issuedAt)
	case domain.StreamOffline:
		return Outcome{
			Action: ActionApplied,
			Commands: []domain.Command{domain.StreamOfflineCommand{
				BroadcasterID: e.BroadcasterID,
				IssuedAt:      issuedAt,
				Source:        domain.SourcePolicy,
				EndedAt:       e.At,
			}},
		}
	default:
		return ignored("event_not_supported")
	}
}

func evaluateRedemptionAdd(settings domain.Settings, activity Activity, e domain.RedemptionAdd, issuedAt time.Time) Outcome {
	policy := settings.Policy
	if !policy.RewardEnabled(e.Reward.ID) {
		return ignored("reward_not_targeted")
	}

	duplicate := false
	if last, ok := activity.LastRedemptions[RedemptionKey{UserID: e.User.ID, RewardID: e.Reward.ID}]; ok && policy.AntiSpamWindowSec > 0 {
		delta := e.At.Sub(last)
		if delta < 0 {
			delta = -delta
		}
		duplicate = delta <= time.Duration(policy.AntiSpamWindowSec)*time.Second
	}

	update := func(mode string) domain.RedemptionUpdateCommand {
		return domain.RedemptionUpdateCommand{
			BroadcasterID: e.BroadcasterID,
			IssuedAt:      issuedAt,
			Source:        domain.SourcePolicy,
			RedemptionID:  e.RedemptionID,
			Mode:          mode,
			Applicable:    true,
		}
	}
	enqueue := domain.EnqueueCommand{
		BroadcasterID: e.BroadcasterID,
		IssuedAt:      issuedAt,
		Source:        domain.SourcePolicy,
		User:          e.User,
		Reward:        e.Reward,
		RedemptionID:  e.RedemptionID,
	}

	if !duplicate {
		return Outcome{Action: ActionApplied, Commands: []domain.Command{enqueue}}
	}

	// Duplicate inside the window: refund rejects the redemption outright,
	// consume still enqueues but explicitly settles the upstream redemption.
	if policy.DuplicatePolicy == domain.DuplicateRefund {
		return Outcome{
			Action:   ActionDuplicate,
			Reason:   "duplicate_within_window",
			Commands: []domain.Command{update(domain.UpdateModeRefund)},
		}
	}
	return Outcome{
		Action:   ActionDuplicate,
		Reason:   "duplicate_within_window",
		Commands: []domain.Command{enqueue, update(domain.UpdateModeConsume)},
	}
}

// evaluateRedemptionUpdate reconciles a status change that happened outside
// this system (e.g. refunded from the platform dashboard). The resulting
// command flips the managed flag on the affected entry; Applicable is false
// because the upstream state already changed.
func evaluateRedemptionUpdate(e domain.RedemptionUpdate, issuedAt time.Time) Outcome {
	var mode string
	switch e.Status {
	case domain.RedemptionStatusFulfilled:
		mode = domain.UpdateModeConsume
	case domain.RedemptionStatusCanceled:
		mode = domain.UpdateModeRefund
	default:
		return ignored("redemption_status_not_actionable")
	}
	return Outcome{
		Action: ActionApplied,
		Commands: []domain.Command{domain.RedemptionUpdateCommand{
			BroadcasterID: e.BroadcasterID,
			IssuedAt:      issuedAt,
			Source:        domain.SourcePolicy,
			RedemptionID:  e.RedemptionID,
			Mode:          mode,
			Applicable:    false,
			Result:        domain.ResultSkipped,
			Managed:       true,
		}},
	}
}

func evaluateStreamOnline(settings domain.Settings, activity Activity, e domain.StreamOnline, issuedAt time.Time) Outcome {
	commands := []domain.Command{domain.StreamOnlineCommand{
		BroadcasterID: e.BroadcasterID,
		IssuedAt:      issuedAt,
		Source:        domain.SourcePolicy,
		StartedAt:     e.At,
	}}

	if settings.ClearOnStreamStart {
		for _, entry := range activity.QueuedEntries {
			commands = append(commands, domain.QueueRemoveCommand{
				BroadcasterID: e.BroadcasterID,
				IssuedAt:      issuedAt,
				Source:        domain.SourcePolicy,
				EntryID:       entry.ID,
				Reason:        domain.ReasonStreamStartClear,
			})
		}
	}
	return Outcome{Action: ActionApplied, Commands: commands}
}
