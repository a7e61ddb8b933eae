package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"discuzz/internal/eventstore"
	"discuzz/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockSubscriptionRepository is a mock of the SubscriptionRepository interface
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) FollowersOf(ctx context.Context, targetID uint) ([]uint, error) {
	args := m.Called(ctx, targetID)
	return args.Get(0).([]uint), args.Error(1)
}

func (m *MockSubscriptionRepository) SpaceSubscribers(ctx context.Context, spaceID uint) ([]uint, error) {
	args := m.Called(ctx, spaceID)
	return args.Get(0).([]uint), args.Error(1)
}

func (m *MockSubscriptionRepository) ParticipantsOf(ctx context.Context, threadID uint) ([]uint, error) {
	args := m.Called(ctx, threadID)
	return args.Get(0).([]uint), args.Error(1)
}

func (m *MockSubscriptionRepository) IsSubscribed(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) (bool, error) {
	args := m.Called(ctx, subscriberID, targetID, kind)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepository) DelegateOptIn(ctx context.Context, userID uint) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepository) Subscribe(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) Unsubscribe(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) error {
	args := m.Called(ctx, subscriberID, targetID, kind)
	return args.Error(0)
}

func newSubscriptionTestApp(subs *MockSubscriptionRepository, events *MockEventRepository) *fiber.App {
	app := fiber.New()
	s := &Server{
		subsRepo: subs,
		store:    eventstore.New(events, nil),
	}

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", uint(1))
		return c.Next()
	})
	app.Post("/subscriptions", s.Subscribe)
	app.Delete("/subscriptions/:targetId", s.Unsubscribe)
	return app
}

func TestSubscribe(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]interface{}
		mockSetup      func(subs *MockSubscriptionRepository, events *MockEventRepository)
		expectedStatus int
	}{
		{
			name: "New Follow",
			body: map[string]interface{}{"target_id": 2},
			mockSetup: func(subs *MockSubscriptionRepository, events *MockEventRepository) {
				subs.On("IsSubscribed", mock.Anything, uint(1), uint(2), models.SubscriptionFollow).
					Return(false, nil)
				subs.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
				events.On("Append", mock.Anything, mock.Anything).Return(nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "Already Subscribed",
			body: map[string]interface{}{"target_id": 2},
			mockSetup: func(subs *MockSubscriptionRepository, events *MockEventRepository) {
				subs.On("IsSubscribed", mock.Anything, uint(1), uint(2), models.SubscriptionFollow).
					Return(true, nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name: "Space Subscription Is Silent",
			body: map[string]interface{}{"target_id": 7, "kind": "space"},
			mockSetup: func(subs *MockSubscriptionRepository, events *MockEventRepository) {
				subs.On("IsSubscribed", mock.Anything, uint(1), uint(7), models.SubscriptionSpace).
					Return(false, nil)
				subs.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Self Follow",
			body:           map[string]interface{}{"target_id": 1},
			mockSetup:      func(subs *MockSubscriptionRepository, events *MockEventRepository) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unknown Kind",
			body:           map[string]interface{}{"target_id": 2, "kind": "carrier_pigeon"},
			mockSetup:      func(subs *MockSubscriptionRepository, events *MockEventRepository) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := new(MockSubscriptionRepository)
			events := new(MockEventRepository)
			tt.mockSetup(subs, events)
			app := newSubscriptionTestApp(subs, events)

			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/subscriptions", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			resp, _ := app.Test(req)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			subs.AssertExpectations(t)
			events.AssertExpectations(t)
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	subs := new(MockSubscriptionRepository)
	subs.On("Unsubscribe", mock.Anything, uint(1), uint(2), models.SubscriptionFollow).Return(nil)
	app := newSubscriptionTestApp(subs, new(MockEventRepository))

	req := httptest.NewRequest(http.MethodDelete, "/subscriptions/2", nil)
	resp, _ := app.Test(req)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	subs.AssertExpectations(t)
}
