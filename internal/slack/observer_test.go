package slack

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/browser-operator/internal/config"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	args := m.Called(ctx, channelID, options)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockAPI) UploadFileV2Context(ctx context.Context, params slackapi.UploadFileV2Parameters) (*slackapi.FileSummary, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*slackapi.FileSummary), args.Error(1)
}

func testConfig() config.SlackConfig {
	return config.SlackConfig{BotToken: "xoxb-test", BotUserID: "U0BOT", MessagePrefix: "🤖 Browser Operator:", StopKeyword: "stop"}
}

// recordingSlack serves chat.postMessage and keeps the posted forms.
type recordingSlack struct {
	mu    sync.Mutex
	posts []map[string]string
}

func (r *recordingSlack) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "/chat.postMessage", req.URL.Path)
		r.mu.Lock()
		r.posts = append(r.posts, map[string]string{
			"channel":   req.Form.Get("channel"),
			"text":      req.Form.Get("text"),
			"thread_ts": req.Form.Get("thread_ts"),
		})
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1700000000.000200"}`)
	})
}

func TestThreadObserver_PostsThroughWebAPI(t *testing.T) {
	rec := &recordingSlack{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	bot := NewBot(testConfig(), zap.NewNop(), slackapi.OptionAPIURL(srv.URL+"/"))
	obs := bot.Thread("C1", "1700000000.000100", "https://www.browserbase.com/sessions/sess-1")

	require.NoError(t, obs.Started(context.Background(), "find flights"))
	require.NoError(t, obs.Notify(context.Background(), TimeoutText))

	require.Len(t, rec.posts, 2)
	assert.Equal(t, "C1", rec.posts[0]["channel"])
	assert.Equal(t, "1700000000.000100", rec.posts[0]["thread_ts"])
	assert.Equal(t, "🤖 Browser Operator: Starting up to complete the task!\n\nYou can follow along at https://www.browserbase.com/sessions/sess-1", rec.posts[0]["text"])
	assert.Equal(t, TimeoutText, rec.posts[1]["text"])
}

func TestThreadObserver_Message(t *testing.T) {
	api := new(mockAPI)
	bot := NewBotWithAPI(api, testConfig(), zap.NewNop())
	obs := bot.Thread("C1", "111.222", "https://follow/1")
	png := []byte("png-bytes")

	api.On("UploadFileV2Context", mock.Anything, mock.MatchedBy(func(p slackapi.UploadFileV2Parameters) bool {
		return p.Filename == "screenshot.png" && p.FileSize == len(png) && p.Channel == "C1" && p.ThreadTimestamp == "111.222"
	})).Return(&slackapi.FileSummary{ID: "F1"}, nil).Once()
	api.On("PostMessageContext", mock.Anything, "C1", mock.Anything).Return("C1", "333.444", nil).Once()

	require.NoError(t, obs.Message(context.Background(), "The price is $5.", png))
	api.AssertExpectations(t)
}

func TestThreadObserver_MessageWithoutScreenshotSkipsUpload(t *testing.T) {
	api := new(mockAPI)
	obs := NewBotWithAPI(api, testConfig(), zap.NewNop()).Thread("C1", "111.222", "u")
	api.On("PostMessageContext", mock.Anything, "C1", mock.Anything).Return("C1", "1", nil).Once()

	require.NoError(t, obs.Message(context.Background(), "done", nil))
	api.AssertNotCalled(t, "UploadFileV2Context", mock.Anything, mock.Anything)
}

func TestThreadObserver_UploadFailureStillPosts(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	api := new(mockAPI)
	obs := NewBotWithAPI(api, testConfig(), zap.New(core)).Thread("C1", "111.222", "u")

	api.On("UploadFileV2Context", mock.Anything, mock.Anything).Return(nil, errors.New("not_in_channel")).Once()
	api.On("PostMessageContext", mock.Anything, "C1", mock.Anything).Return("C1", "1", nil).Once()

	require.NoError(t, obs.Message(context.Background(), "done", []byte("png")))
	assert.Equal(t, 1, logs.FilterMessage("Failed to upload final screenshot.").Len())
}

func TestThreadObserver_Screenshot(t *testing.T) {
	api := new(mockAPI)
	obs := NewBotWithAPI(api, testConfig(), zap.NewNop()).Thread("C1", "111.222", "u")
	api.On("UploadFileV2Context", mock.Anything, mock.MatchedBy(func(p slackapi.UploadFileV2Parameters) bool {
		return p.Title == "Current Browser View"
	})).Return(&slackapi.FileSummary{ID: "F2"}, nil).Once()

	require.NoError(t, obs.Screenshot(context.Background(), []byte("png"), "Current Browser View"))
	api.AssertExpectations(t)
}

func TestBot_PostError(t *testing.T) {
	api := new(mockAPI)
	api.On("PostMessageContext", mock.Anything, "C9", mock.Anything).Return("", "", errors.New("channel_not_found"))

	err := NewBotWithAPI(api, testConfig(), zap.NewNop()).Post(context.Background(), "C9", "1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
