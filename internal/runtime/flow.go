package runtime

import "strings"

// Trigger is the kind of event that started a run.
type Trigger string

const (
	TriggerAuto     Trigger = "auto"
	TriggerPush     Trigger = "push"
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
	TriggerWebhook  Trigger = "webhook"
)

// ResolveTrigger maps a CI event name onto a Trigger unless one is forced.
func ResolveTrigger(eventName string, forced Trigger) Trigger {
	if forced != "" && forced != TriggerAuto {
		return forced
	}
	switch strings.ToLower(strings.TrimSpace(eventName)) {
	case "push":
		return TriggerPush
	case "schedule":
		return TriggerSchedule
	case "webhook":
		return TriggerWebhook
	default:
		// workflow_dispatch, repository_dispatch, local runs
		return TriggerManual
	}
}

// CarriesDiff reports whether the trigger kind can provide changed files.
func (t Trigger) CarriesDiff() bool {
	return t == TriggerPush || t == TriggerWebhook
}
