// Package mocks holds testify mocks shared across package tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/browser-operator/api/schemas"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

var _ schemas.LLMClient = (*MockLLMClient)(nil)

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Converse provides a mock function for tool-enabled turns.
func (m *MockLLMClient) Converse(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.GenerationResponse), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Browser Agent Mock --

// MockBrowserAgent mocks the schemas.BrowserAgent interface.
type MockBrowserAgent struct {
	mock.Mock
}

func (m *MockBrowserAgent) Execute(ctx context.Context, req schemas.ExecuteRequest) (*schemas.ExecuteResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ExecuteResult), args.Error(1)
}

// -- State Store Mock --

// MockStateStore mocks the schemas.StateStore interface.
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Save(ctx context.Context, sessionID string, state schemas.AgentState) error {
	return m.Called(ctx, sessionID, state).Error(0)
}

func (m *MockStateStore) Get(ctx context.Context, sessionID string) (*schemas.AgentState, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.AgentState), args.Error(1)
}

// -- Observer Mock --

// MockObserver mocks the schemas.Observer interface.
type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) Started(ctx context.Context, goal string) error {
	return m.Called(ctx, goal).Error(0)
}

func (m *MockObserver) Message(ctx context.Context, text string, screenshot []byte) error {
	return m.Called(ctx, text, screenshot).Error(0)
}

func (m *MockObserver) Screenshot(ctx context.Context, png []byte, title string) error {
	return m.Called(ctx, png, title).Error(0)
}

func (m *MockObserver) Notify(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

// -- Page Mock --

// MockPage implements the schemas.Page interface for testing.
type MockPage struct {
	mock.Mock
}

var _ schemas.Page = (*MockPage)(nil)

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockPage) Back(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockPage) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockPage) Text(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockPage) Elements(ctx context.Context) ([]schemas.Element, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Element), args.Error(1)
}
func (m *MockPage) Click(ctx context.Context, elementID int) error {
	return m.Called(ctx, elementID).Error(0)
}
func (m *MockPage) Type(ctx context.Context, elementID int, text string) error {
	return m.Called(ctx, elementID, text).Error(0)
}
func (m *MockPage) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockPage) Scroll(ctx context.Context, deltaY int) error {
	return m.Called(ctx, deltaY).Error(0)
}
func (m *MockPage) Close() error { return m.Called().Error(0) }
