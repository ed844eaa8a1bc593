package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/browser-operator/api/schemas"
)

// -- Test Setup Helper --

// setupRouter creates a standard LLMRouter instance for testing, along with its mocks and a log observer.
func setupRouter(t *testing.T) (*LLMRouter, *MockLLMClient, *MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	loggerCore, observedLogs := observer.New(zap.DebugLevel)
	logger := zap.New(loggerCore)

	fastClient := &MockLLMClient{Name: "FastClient"}
	powerfulClient := &MockLLMClient{Name: "PowerfulClient"}

	router, err := NewLLMRouter(logger, fastClient, powerfulClient)
	require.NoError(t, err, "NewLLMRouter should initialize successfully")

	return router, fastClient, powerfulClient, observedLogs
}

// -- Test Cases: Initialization (NewLLMRouter) --

func TestNewLLMRouter_Success(t *testing.T) {
	router, fastClient, powerfulClient, _ := setupRouter(t)

	require.NotNil(t, router)
	assert.Equal(t, fastClient, router.clients[schemas.TierFast])
	assert.Equal(t, powerfulClient, router.clients[schemas.TierPowerful])
}

func TestNewLLMRouter_Failure_MissingClients(t *testing.T) {
	logger := setupTestLogger(t)
	validClient := new(MockLLMClient)
	expectedError := "both fast and powerful tier clients must be provided"

	tests := []struct {
		name     string
		fast     schemas.LLMClient
		powerful schemas.LLMClient
	}{
		{"Missing Fast Client", nil, validClient},
		{"Missing Powerful Client", validClient, nil},
		{"Missing Both Clients", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewLLMRouter(logger, tt.fast, tt.powerful)
			assert.Error(t, err)
			assert.Nil(t, router)
			assert.Contains(t, err.Error(), expectedError)
		})
	}
}

// -- Test Cases: Routing Logic --

func TestGenerate_Routing(t *testing.T) {
	tests := []struct {
		name         string
		tier         schemas.ModelTier
		wantFast     bool
		expectedTier string
	}{
		{"Fast tier", schemas.TierFast, true, "fast"},
		{"Powerful tier", schemas.TierPowerful, false, "powerful"},
		{"Empty tier defaults to powerful", "", false, "powerful"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, fastClient, powerfulClient, observedLogs := setupRouter(t)
			ctx := context.Background()
			req := schemas.GenerationRequest{UserPrompt: "hi", Tier: tt.tier}

			target, other := powerfulClient, fastClient
			if tt.wantFast {
				target, other = fastClient, powerfulClient
			}
			target.On("Generate", ctx, req).Return("routed", nil).Once()

			got, err := router.Generate(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, "routed", got)

			target.AssertExpectations(t)
			other.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

			logs := observedLogs.FilterMessage("Routing LLM request").All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.expectedTier, logs[0].ContextMap()["tier"])
		})
	}
}

func TestConverse_RoutesAndPropagatesErrors(t *testing.T) {
	router, fastClient, powerfulClient, _ := setupRouter(t)
	ctx := context.Background()

	resp := &schemas.GenerationResponse{ID: "r1", Text: "done"}
	fastReq := schemas.GenerationRequest{Tier: schemas.TierFast, UserPrompt: "a"}
	fastClient.On("Converse", ctx, fastReq).Return(resp, nil).Once()

	got, err := router.Converse(ctx, fastReq)
	require.NoError(t, err)
	assert.Same(t, resp, got)

	boom := errors.New("provider down")
	powerfulReq := schemas.GenerationRequest{UserPrompt: "b"}
	powerfulClient.On("Converse", ctx, powerfulReq).Return(nil, boom).Once()

	_, err = router.Converse(ctx, powerfulReq)
	assert.ErrorIs(t, err, boom)
}

func TestRouter_UnknownTier(t *testing.T) {
	router, fastClient, powerfulClient, _ := setupRouter(t)

	_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: "experimental"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM client configured for tier: experimental")

	_, err = router.Converse(context.Background(), schemas.GenerationRequest{Tier: "experimental"})
	require.Error(t, err)

	fastClient.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	powerfulClient.AssertNotCalled(t, "Converse", mock.Anything, mock.Anything)
}

func TestRouter_Close(t *testing.T) {
	t.Run("ClosesEachClientOnce", func(t *testing.T) {
		shared := new(MockLLMClient)
		shared.On("Close").Return(nil).Once()

		router, err := NewLLMRouter(zap.NewNop(), shared, shared)
		require.NoError(t, err)
		require.NoError(t, router.Close())
		shared.AssertExpectations(t)
	})

	t.Run("JoinsErrors", func(t *testing.T) {
		router, fastClient, powerfulClient, _ := setupRouter(t)
		fastClient.On("Close").Return(errors.New("fast close")).Once()
		powerfulClient.On("Close").Return(nil).Once()

		err := router.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closing fast tier client")
		powerfulClient.AssertExpectations(t)
	})
}
