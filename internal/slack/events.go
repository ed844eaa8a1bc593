package slack

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// EventKind classifies an incoming Events API payload.
type EventKind int

const (
	// KindIgnored covers bot messages, unrelated events and messages that do not address the bot.
	KindIgnored EventKind = iota
	KindVerification
	KindMention
	KindThreadReply
)

// Event is the part of a Slack callback the operator acts on.
type Event struct {
	Kind      EventKind
	Challenge string
	Channel   string
	User      string
	Text      string
	TS        string
	ThreadTS  string
}

// ReplyTS is the thread that responses to this event belong to.
func (e Event) ReplyTS() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// Goal strips the bot mention from a mention's text.
func (e Event) Goal(botUserID string) string {
	return strings.TrimSpace(strings.Replace(e.Text, mention(botUserID), "", 1))
}

func mention(botUserID string) string {
	return "<@" + botUserID + ">"
}

// ParseEvent decodes and classifies an Events API body.
func ParseEvent(body []byte, botUserID string) (Event, error) {
	outer, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return Event{}, fmt.Errorf("parsing slack event: %w", err)
	}

	switch outer.Type {
	case slackevents.URLVerification:
		v, ok := outer.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			return Event{}, fmt.Errorf("unexpected url_verification payload %T", outer.Data)
		}
		return Event{Kind: KindVerification, Challenge: v.Challenge}, nil
	case slackevents.CallbackEvent:
	default:
		return Event{Kind: KindIgnored}, nil
	}

	msg, ok := outer.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return Event{Kind: KindIgnored}, nil
	}
	ev := Event{
		Channel:  msg.Channel,
		User:     msg.User,
		Text:     msg.Text,
		TS:       msg.TimeStamp,
		ThreadTS: msg.ThreadTimeStamp,
	}
	switch {
	case msg.BotID != "" || (botUserID != "" && msg.User == botUserID):
		ev.Kind = KindIgnored
	case msg.ThreadTimeStamp != "":
		ev.Kind = KindThreadReply
	case botUserID != "" && strings.Contains(msg.Text, mention(botUserID)):
		ev.Kind = KindMention
	default:
		ev.Kind = KindIgnored
	}
	return ev, nil
}

// VerifyRequest checks the Slack signature headers against body.
func VerifyRequest(header http.Header, body []byte, signingSecret string) error {
	sv, err := slackapi.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return fmt.Errorf("invalid slack signature headers: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// IsStop reports whether a reply asks to end the session.
func IsStop(text, keyword string) bool {
	if keyword == "" {
		keyword = "stop"
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}
