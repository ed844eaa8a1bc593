package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/browserbase"
	"github.com/xkilldash9x/browser-operator/internal/config"
	"github.com/xkilldash9x/browser-operator/internal/service"
	"github.com/xkilldash9x/browser-operator/internal/slack"
)

type mockOperator struct {
	mock.Mock
}

func (m *mockOperator) Run(ctx context.Context, p service.RunParams) (service.RunResult, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(service.RunResult), args.Error(1)
}

func (m *mockOperator) CreateSession(ctx context.Context, region schemas.Region, meta *browserbase.Metadata) (*browserbase.Session, error) {
	args := m.Called(ctx, region, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*browserbase.Session), args.Error(1)
}

func (m *mockOperator) FindSessions(ctx context.Context, messageTS string) ([]browserbase.Session, error) {
	args := m.Called(ctx, messageTS)
	sessions, _ := args.Get(0).([]browserbase.Session)
	return sessions, args.Error(1)
}

func (m *mockOperator) ReleaseSession(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockOperator) DebugURL(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockOperator) SessionURL(id string) string {
	return "https://www.browserbase.com/sessions/" + id
}

func (m *mockOperator) LoadState(ctx context.Context, id string) (*schemas.AgentState, error) {
	args := m.Called(ctx, id)
	state, _ := args.Get(0).(*schemas.AgentState)
	return state, args.Error(1)
}

type post struct {
	Channel  string
	Text     string
	ThreadTS string
}

// fakeSlack records chat.postMessage calls.
type fakeSlack struct {
	mu    sync.Mutex
	posts []post
}

func (f *fakeSlack) Posts() []post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]post(nil), f.posts...)
}

func (f *fakeSlack) start(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.posts = append(f.posts, post{
			Channel:  r.Form.Get("channel"),
			Text:     r.Form.Get("text"),
			ThreadTS: r.Form.Get("thread_ts"),
		})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1700000000.000900"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func slackConfig() config.SlackConfig {
	return config.SlackConfig{
		BotToken:      "xoxb-test",
		BotUserID:     "U0BOT",
		MessagePrefix: "🤖 Browser Operator:",
		StopKeyword:   "stop",
	}
}

type testRig struct {
	op     *mockOperator
	slack  *fakeSlack
	server *Server
	http   *httptest.Server
}

func newTestRig(t *testing.T, slackCfg config.SlackConfig) *testRig {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rig := &testRig{op: &mockOperator{}, slack: &fakeSlack{}}
	slackSrv := rig.slack.start(t)

	bot := slack.NewBot(slackCfg, logger, slackapi.OptionAPIURL(slackSrv.URL+"/"))
	rig.server = New(rig.op, Options{
		Server: config.ServerConfig{MaxDuration: time.Minute, SafetyMargin: time.Second},
		Bot:    bot,
		Logger: logger,
	})
	rig.http = httptest.NewServer(rig.server.Handler())
	t.Cleanup(func() {
		rig.http.Close()
		rig.server.Close()
	})
	return rig
}

// drain waits for dispatched Slack work.
func (r *testRig) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.server.Drain(ctx))
}

func newHTTPServer(t *testing.T, s *Server) string {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}
