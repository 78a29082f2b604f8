// Package chatnotifier implements the agent that delivers chat_notification
// events to a connected chat workspace, grounded on
// original_source/backend/app/agents/slack_notifier.py.
package chatnotifier

import (
	"context"
	"log/slog"

	"github.com/rogerkorantenng/shipit/bus"
	"github.com/rogerkorantenng/shipit/capability"
	"github.com/rogerkorantenng/shipit/event"
	"github.com/rogerkorantenng/shipit/store"
)

const Name = "chat_notifier"

// DefaultChannel is used when neither the event nor the project's chat
// credential names a target channel.
const DefaultChannel = "general"

// Agent delivers every chat_notification raised by other agents to the
// project's connected chat workspace.
type Agent struct {
	bus         *bus.Bus
	credentials *store.CredentialStore
	logger      *slog.Logger
}

func New(b *bus.Bus, credentials *store.CredentialStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{bus: b, credentials: credentials, logger: logger}
}

func (a *Agent) Name() string { return Name }

func (a *Agent) Description() string {
	return "Delivers chat notifications from all agents to connected workspaces"
}

func (a *Agent) SubscribedKinds() []event.Kind {
	return []event.Kind{event.KindChatNotification}
}

func (a *Agent) Handle(ctx context.Context, e event.Event) error {
	message := e.Payload.Str("message")
	projectID := projectIDOf(e.ProjectScope)
	a.logger.InfoContext(ctx, "chat notification received", "project_id", projectID, "message_len", len(message))

	if message == "" {
		a.logger.InfoContext(ctx, "empty message, skipping")
		return nil
	}

	cred, ok := a.chatConnection(e.ProjectScope)
	if !ok {
		a.logger.InfoContext(ctx, "no chat connection for project", "project_id", projectID)
		return nil
	}

	channel := e.Payload.Str("channel")
	if channel == "" {
		channel = cred.ConfigStr("default_channel")
	}
	if channel == "" {
		channel = DefaultChannel
	}

	chat := capability.NewSlackAdapter(cred.APIToken)
	a.logger.InfoContext(ctx, "sending chat notification", "channel", channel)
	if err := chat.PostMessage(ctx, channel, message); err != nil {
		a.logger.WarnContext(ctx, "chat_notifier: failed to send message", "project_id", projectID, "error", err)
		return nil
	}
	a.logger.InfoContext(ctx, "chat notification sent", "channel", channel, "project_id", projectID)
	return nil
}

// chatConnection looks up the project's enabled "slack" credential, or
// falls back to any enabled slack credential across all projects when the
// event carries no project scope.
func (a *Agent) chatConnection(projectScope *int) (store.Credential, bool) {
	if a.credentials == nil {
		return store.Credential{}, false
	}
	if projectScope == nil {
		return a.credentials.FindAnyEnabled("slack")
	}
	cred, ok := a.credentials.Get(*projectScope, "slack")
	if !ok || !cred.Enabled {
		return store.Credential{}, false
	}
	return cred, true
}

func projectIDOf(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
