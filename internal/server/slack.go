package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/internal/browserbase"
	"github.com/xkilldash9x/browser-operator/internal/region"
	"github.com/xkilldash9x/browser-operator/internal/service"
	"github.com/xkilldash9x/browser-operator/internal/slack"
)

const (
	transportSlack = "slack"

	// maxEventBody caps Events API payloads.
	maxEventBody  = 1 << 20
	noticeTimeout = 30 * time.Second
)

type challengeResponse struct {
	Challenge string `json:"challenge"`
}

type ackResponse struct {
	OK bool `json:"ok"`
}

// handleSlackEvents acknowledges every callback immediately and runs the
// work in the background.
func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	cfg := s.bot.Config()
	if cfg.SigningSecret != "" {
		if err := slack.VerifyRequest(r.Header, body, cfg.SigningSecret); err != nil {
			s.logger.Warn("Rejected Slack request with a bad signature.", zap.Error(err))
			s.respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	ev, err := slack.ParseEvent(body, cfg.BotUserID)
	if err != nil {
		s.logger.Error("Error handling Slack event.", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	switch ev.Kind {
	case slack.KindVerification:
		s.respondJSON(w, http.StatusOK, challengeResponse{Challenge: ev.Challenge})
		return
	case slack.KindMention, slack.KindThreadReply:
		s.background(func(ctx context.Context) { s.processEvent(ctx, ev) })
	}
	s.respondJSON(w, http.StatusOK, ackResponse{OK: true})
}

// processEvent handles one mention or reply. Work for the same thread is serialized.
func (s *Server) processEvent(ctx context.Context, ev slack.Event) {
	unlock := s.threads.Lock(ev.ReplyTS())
	defer unlock()

	start := time.Now()
	logger := s.logger.With(zap.String("channel", ev.Channel), zap.String("thread_ts", ev.ReplyTS()))

	var err error
	switch ev.Kind {
	case slack.KindMention:
		err = s.handleMention(ctx, ev, logger)
	case slack.KindThreadReply:
		err = s.handleReply(ctx, ev, logger)
	}

	outcome := "ok"
	if err != nil {
		outcome = outcomeFor(err)
		s.reportFailure(ev, err, logger)
	}
	s.metrics.Invocation(transportSlack, outcome, time.Since(start))
}

func (s *Server) handleMention(ctx context.Context, ev slack.Event, logger *zap.Logger) error {
	existing, err := s.op.FindSessions(ctx, ev.TS)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("Found existing session for message.", zap.String("session_id", existing[0].ID))
		return nil
	}

	sess, err := s.op.CreateSession(ctx, region.Local(), &browserbase.Metadata{
		SlackChannel: ev.Channel,
		MessageTS:    ev.TS,
		UserID:       ev.User,
	})
	if err != nil {
		return err
	}
	logger.Info("Created session for mention.", zap.String("session_id", sess.ID))

	_, err = s.op.Run(ctx, service.RunParams{
		SessionID: sess.ID,
		Goal:      ev.Goal(s.bot.Config().BotUserID),
		Observer:  s.bot.Thread(ev.Channel, ev.TS, s.op.SessionURL(sess.ID)),
	})
	return err
}

func (s *Server) handleReply(ctx context.Context, ev slack.Event, logger *zap.Logger) error {
	sessions, err := s.op.FindSessions(ctx, ev.ThreadTS)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	id := sessions[0].ID
	logger = logger.With(zap.String("session_id", id))

	if slack.IsStop(ev.Text, s.bot.Config().StopKeyword) {
		if err := s.op.ReleaseSession(ctx, id); err != nil {
			return err
		}
		logger.Info("Session stopped on request.")
		return s.bot.Post(ctx, ev.Channel, ev.ThreadTS, slack.StoppedText)
	}

	saved, err := s.op.LoadState(ctx, id)
	if err != nil {
		logger.Warn("Failed to load saved state.", zap.Error(err))
	}
	if saved == nil {
		debugURL, err := s.op.DebugURL(ctx, id)
		if err != nil {
			return err
		}
		return s.bot.Post(ctx, ev.Channel, ev.ThreadTS, fmt.Sprintf(slack.FoundRunningText, debugURL))
	}

	if err := s.bot.Post(ctx, ev.Channel, ev.ThreadTS, slack.ContinuingText); err != nil {
		logger.Warn("Failed to acknowledge reply.", zap.Error(err))
	}
	_, err = s.op.Run(ctx, service.RunParams{
		SessionID: id,
		Goal:      saved.Goal,
		Reply:     ev.Text,
		Saved:     saved,
		Observer:  s.bot.Thread(ev.Channel, ev.ThreadTS, s.op.SessionURL(id)),
	})
	return err
}

// reportFailure posts the error or timeout notice. The invocation context is
// usually gone by now, so the post gets its own.
func (s *Server) reportFailure(ev slack.Event, err error, logger *zap.Logger) {
	text := fmt.Sprintf(slack.ErrorText, err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		text = slack.TimeoutText
	}
	logger.Error("Slack event processing failed.", zap.Error(err))

	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()
	if postErr := s.bot.Post(ctx, ev.Channel, ev.ReplyTS(), text); postErr != nil {
		logger.Warn("Failed to post failure notice.", zap.Error(postErr))
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
