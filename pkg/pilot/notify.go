/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package pilot

import (
	"context"

	"github.com/slack-go/slack"
)

// Notifier delivers a human-readable heads-up about a pilot action. A nil
// Notifier is valid everywhere in this package — kill_switch/waive simply
// skip the notification step when one isn't configured.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// SlackNotifier posts to one fixed channel — the pilot escalation channel
// for whichever instance this engine deployment serves.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier builds a Notifier backed by the Slack Web API.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func (n *SlackNotifier) Notify(ctx context.Context, text string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	return err
}
