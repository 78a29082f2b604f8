package capability

import (
	"context"
	"fmt"
	"net/http"
)

const slackAPI = "https://slack.com/api"

// SlackAdapter implements ChatService against the Slack Web API, grounded
// on original_source/backend/app/adapters/slack_adapter.py.
type SlackAdapter struct {
	baseAPI  string
	botToken string
	client   *http.Client
}

// NewSlackAdapter constructs an adapter authenticated with a bot token.
func NewSlackAdapter(botToken string) *SlackAdapter {
	return &SlackAdapter{baseAPI: slackAPI, botToken: botToken, client: defaultHTTPClient()}
}

func (s *SlackAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.botToken}
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *SlackAdapter) call(ctx context.Context, endpoint string, body any) error {
	var resp slackResponse
	if err := doJSON(ctx, s.client, http.MethodPost, s.baseAPI+"/"+endpoint, s.headers(), body, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("capability: slack api error: %s", resp.Error)
	}
	return nil
}

// TestConnection verifies the bot token via auth.test.
func (s *SlackAdapter) TestConnection(ctx context.Context) error {
	return s.call(ctx, "auth.test", nil)
}

// PostMessage implements ChatService.
func (s *SlackAdapter) PostMessage(ctx context.Context, channel, text string) error {
	return s.call(ctx, "chat.postMessage", map[string]any{"channel": channel, "text": text})
}
