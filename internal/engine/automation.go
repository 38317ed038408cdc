package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/omnidesk/omnidesk/internal/database"
	"github.com/omnidesk/omnidesk/internal/notify"
)

// runAutomations evaluates the config's active rules against one event.
// Rules run in creation order against the event's snapshot; an action
// mutating the conversation never changes what later rules in the same
// pass see, and action side effects do not emit new automation events.
// Action failures are logged and never abort the pass.
func (e *Engine) runAutomations(ctx context.Context, ev Event) {
	rules, err := e.rulesFor(ctx, ev)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load automations",
			"config_id", ev.Config.ID, "event", ev.Kind, "error", err)
		return
	}

	for _, rule := range rules {
		if !rule.AppliesToChannel(ev.Conversation.Channel) {
			continue
		}
		if rule.TriggerType == database.TriggerKeyword {
			if ev.Message == nil || !containsFold(ev.Message.Body, rule.TriggerValue) {
				continue
			}
		}
		if !e.matchesConditions(rule.Conditions, ev) {
			continue
		}
		e.fireAutomation(ctx, rule, ev)
	}
}

// rulesFor loads the rules eligible for the event kind. Keyword rules ride
// on new_message events; the merged list keeps creation order.
func (e *Engine) rulesFor(ctx context.Context, ev Event) ([]*database.Automation, error) {
	switch ev.Kind {
	case EventNewConversation:
		return e.store.ListActiveAutomations(ctx, ev.Config.ID, database.TriggerNewConversation)

	case EventNewMessage:
		plain, err := e.store.ListActiveAutomations(ctx, ev.Config.ID, database.TriggerNewMessage)
		if err != nil {
			return nil, err
		}
		keyword, err := e.store.ListActiveAutomations(ctx, ev.Config.ID, database.TriggerKeyword)
		if err != nil {
			return nil, err
		}
		rules := append(plain, keyword...)
		sort.Slice(rules, func(i, j int) bool {
			if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
				return rules[i].ID < rules[j].ID
			}
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		})
		return rules, nil

	default:
		return nil, fmt.Errorf("no rule source for event kind %q", ev.Kind)
	}
}

// fireAutomation stamps the rule as triggered exactly once for this event
// and then executes its action.
func (e *Engine) fireAutomation(ctx context.Context, rule *database.Automation, ev Event) {
	if err := e.store.MarkAutomationTriggered(ctx, rule.ID, time.Now().UTC()); err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark automation triggered",
			"automation_id", rule.ID, "error", err)
	}

	if err := e.executeAction(ctx, rule, ev); err != nil {
		e.logger.WarnContext(ctx, "Automation action failed",
			"automation_id", rule.ID, "rule", rule.Name,
			"action", rule.ActionType, "conversation_id", ev.Conversation.ID, "error", err)
		return
	}

	e.logger.InfoContext(ctx, "Automation fired",
		"automation_id", rule.ID, "rule", rule.Name,
		"action", rule.ActionType, "conversation_id", ev.Conversation.ID)
}

func (e *Engine) executeAction(ctx context.Context, rule *database.Automation, ev Event) error {
	cfg := ev.Config
	convID := ev.Conversation.ID

	switch rule.ActionType {
	case database.ActionAssign:
		conv, err := e.router.Mutate(ctx, cfg.ID, convID, func(conv *database.Conversation) error {
			conv.AssignedTo = nullString(rule.ActionValue)
			if conv.Status == database.StatusOpen {
				conv.Status = database.StatusAssigned
			}
			return nil
		})
		if err != nil {
			return err
		}
		e.publish("conversation_updated", conv)
		return nil

	case database.ActionTag:
		conv, err := e.router.Mutate(ctx, cfg.ID, convID, func(conv *database.Conversation) error {
			if !conv.Tags.Contains(rule.ActionValue) {
				conv.Tags = append(conv.Tags, rule.ActionValue)
			}
			return nil
		})
		if err != nil {
			return err
		}
		e.publish("conversation_updated", conv)
		return nil

	case database.ActionSendTemplate:
		_, err := e.SendTemplate(ctx, cfg.ID, convID, rule.ActionValue)
		return err

	case database.ActionNotify:
		body := rule.ActionValue
		if body == "" {
			body = ev.Conversation.LastMessagePreview
		}
		e.sendNotification(ctx, cfg, notify.Notification{
			Kind:           notify.KindAutomation,
			ConfigID:       cfg.ID,
			ConversationID: convID,
			Subject:        rule.Name,
			Body:           body,
		})
		return nil

	case database.ActionEscalate:
		conv, err := e.router.Mutate(ctx, cfg.ID, convID, func(conv *database.Conversation) error {
			conv.AIEscalated = true
			conv.AIHandoffReason = "automation:" + rule.Name
			if !conv.AssignedTo.Valid && conv.Status == database.StatusOpen {
				conv.Status = database.StatusAssigned
			}
			return nil
		})
		if err != nil {
			return err
		}
		e.publish("conversation_updated", conv)
		e.sendNotification(ctx, cfg, notify.Notification{
			Kind:           notify.KindEscalation,
			ConfigID:       cfg.ID,
			ConversationID: convID,
			Subject:        "Conversation escalated by rule " + rule.Name,
			Body:           ev.Conversation.LastMessagePreview,
		})
		return nil

	default:
		// The closed set is validated at save time; this is unreachable for
		// stored rules.
		return fmt.Errorf("unknown action type %q", rule.ActionType)
	}
}

// matchesConditions reports whether every condition holds against the
// event snapshot (conjunction). An unknown field fails the rule.
func (e *Engine) matchesConditions(conds database.ConditionList, ev Event) bool {
	for _, cond := range conds {
		if !e.evalCondition(cond, ev) {
			return false
		}
	}
	return true
}

func (e *Engine) evalCondition(cond database.Condition, ev Event) bool {
	// Tag membership is set semantics, not substring.
	if cond.Field == "conversation.tags" {
		has := ev.Conversation.Tags.Contains(cond.Value)
		switch cond.Op {
		case database.OpContains, database.OpEquals:
			return has
		case database.OpNotEquals:
			return !has
		}
		return false
	}

	value, ok := fieldValue(cond.Field, ev)
	if !ok {
		e.logger.Debug("Condition references unknown field", "field", cond.Field)
		return false
	}

	switch cond.Op {
	case database.OpEquals:
		return value == cond.Value
	case database.OpNotEquals:
		return value != cond.Value
	case database.OpContains:
		return containsFold(value, cond.Value)
	}
	return false
}

func fieldValue(field string, ev Event) (string, bool) {
	switch field {
	case "conversation.status":
		return ev.Conversation.Status, true
	case "conversation.priority":
		return ev.Conversation.Priority, true
	case "conversation.channel":
		return ev.Conversation.Channel, true
	case "conversation.contact_id":
		return ev.Conversation.ContactID, true
	case "conversation.contact_name":
		return ev.Conversation.ContactName, true
	case "conversation.assigned_to":
		return ev.Conversation.AssignedTo.String, true
	}

	if ev.Message == nil {
		return "", false
	}
	switch field {
	case "message.body":
		return ev.Message.Body, true
	case "message.type":
		return ev.Message.Type, true
	case "message.direction":
		return ev.Message.Direction, true
	}
	return "", false
}

// SweepTimeElapsed runs the periodic pass over time_elapsed rules. A rule
// fires for each open conversation silent longer than its threshold, once
// per silence window: after firing, the conversation must receive a newer
// message before the same rule fires for it again.
func (e *Engine) SweepTimeElapsed(ctx context.Context) error {
	rules, err := e.store.ListTimeElapsedAutomations(ctx)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	now := time.Now().UTC()
	fired := 0

	for _, rule := range rules {
		secs, err := strconv.Atoi(rule.TriggerValue)
		if err != nil || secs <= 0 {
			e.logger.WarnContext(ctx, "Skipping time_elapsed rule with invalid threshold",
				"automation_id", rule.ID, "trigger_value", rule.TriggerValue)
			continue
		}

		stale, err := e.store.FindStaleConversations(ctx, now.Add(-time.Duration(secs)*time.Second))
		if err != nil {
			return err
		}

		for _, conv := range stale {
			if conv.ConfigID != rule.ConfigID || !rule.AppliesToChannel(conv.Channel) {
				continue
			}

			gateKey := rule.ID + "|" + conv.ID
			if v, ok := e.sweepGate.Load(gateKey); ok {
				lastFire := v.(time.Time)
				if !conv.LastMessageAt.Valid || !conv.LastMessageAt.Time.After(lastFire) {
					continue
				}
			}

			cfg, err := e.Config(ctx, conv.ConfigID)
			if err != nil {
				continue
			}

			ev := Event{Kind: EventTimeElapsed, Config: cfg, Conversation: *conv}
			if !e.matchesConditions(rule.Conditions, ev) {
				continue
			}

			e.fireAutomation(ctx, rule, ev)
			e.sweepGate.Store(gateKey, now)
			fired++
		}
	}

	if fired > 0 {
		e.logger.InfoContext(ctx, "Time elapsed sweep completed", "fired", fired)
	}
	return nil
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
