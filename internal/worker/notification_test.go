package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"saas-billing/internal/client"
	"saas-billing/internal/model"
	"saas-billing/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if user := args.Get(0); user != nil {
		return user.(*model.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepository) SetProviderCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	args := m.Called(ctx, userID, customerID)
	return args.Bool(0), args.Error(1)
}

type mockMailClient struct {
	mock.Mock
}

func (m *mockMailClient) SendEmail(ctx context.Context, msg *client.EmailMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

var testUser = &model.User{ID: "user-1", Email: "ada@example.com", Username: "ada"}

func newTestWorker(q queue.NotificationQueue, users *mockUserRepository, mailer *mockMailClient) *NotificationWorker {
	return NewNotificationWorker(q, users, mailer, NotificationWorkerConfig{
		Workers:     1,
		MaxAttempts: 3,
		PollTimeout: 50 * time.Millisecond,
	}, zerolog.Nop())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "19.99 USD", formatAmount(1999, "usd"))
	assert.Equal(t, "0.05 EUR", formatAmount(5, "EUR"))
	assert.Equal(t, "1500 JPY", formatAmount(1500, "jpy"))
}

func TestRenderEmail(t *testing.T) {
	periodEnd := time.Date(2026, 11, 19, 0, 0, 0, 0, time.UTC)

	welcome := renderEmail(&model.Notification{
		Kind:      model.NotificationWelcome,
		PlanName:  "Pro",
		Amount:    1999,
		Currency:  "usd",
		PeriodEnd: &periodEnd,
	}, testUser)
	require.NotNil(t, welcome)
	assert.Equal(t, "ada@example.com", welcome.To)
	assert.Equal(t, "Welcome to Pro", welcome.Subject)
	assert.Equal(t, string(model.NotificationWelcome), welcome.Tag)
	assert.Contains(t, welcome.HTMLBody, "19.99 USD")
	assert.Contains(t, welcome.HTMLBody, "November 19, 2026")

	renewal := renderEmail(&model.Notification{Kind: model.NotificationRenewal, PlanName: "Pro"}, testUser)
	assert.Contains(t, renewal.Subject, "renewed")
	assert.NotContains(t, renewal.HTMLBody, "Amount charged")

	failed := renderEmail(&model.Notification{Kind: model.NotificationPaymentFailed, PlanName: "<b>Pro</b>", Amount: 500, Currency: "usd"}, testUser)
	assert.Contains(t, failed.HTMLBody, "5.00 USD")
	assert.Contains(t, failed.HTMLBody, "&lt;b&gt;Pro&lt;/b&gt;")

	assert.Nil(t, renderEmail(&model.Notification{Kind: "unknown"}, testUser))
}

func TestNotificationWorker_HandleSuccess(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryNotificationQueue(4)
	users := &mockUserRepository{}
	mailer := &mockMailClient{}
	w := newTestWorker(q, users, mailer)

	users.On("GetByID", mock.Anything, "user-1").Return(testUser, nil)
	mailer.On("SendEmail", mock.Anything, mock.MatchedBy(func(msg *client.EmailMessage) bool {
		return msg.To == "ada@example.com" && msg.Tag == string(model.NotificationRenewal)
	})).Return(nil).Once()

	w.handle(ctx, &queue.Delivery{Notification: &model.Notification{ID: "n1", Kind: model.NotificationRenewal, UserID: "user-1", PlanName: "Pro"}})

	mailer.AssertExpectations(t)
	d, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestNotificationWorker_HandleRetriesThenDrops(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryNotificationQueue(4)
	users := &mockUserRepository{}
	mailer := &mockMailClient{}
	w := newTestWorker(q, users, mailer)

	users.On("GetByID", mock.Anything, "user-1").Return(testUser, nil)
	mailer.On("SendEmail", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	w.handle(ctx, &queue.Delivery{Notification: &model.Notification{ID: "n1", Kind: model.NotificationWelcome, UserID: "user-1"}})

	retried, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, retried.Notification.Attempts)

	// Last allowed attempt: dropped, not re-queued.
	retried.Notification.Attempts = 2
	w.handle(ctx, retried)

	d, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestNotificationWorker_UnknownUserIsDropped(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryNotificationQueue(4)
	users := &mockUserRepository{}
	mailer := &mockMailClient{}
	w := newTestWorker(q, users, mailer)

	users.On("GetByID", mock.Anything, "ghost").Return(nil, gorm.ErrRecordNotFound)

	w.handle(ctx, &queue.Delivery{Notification: &model.Notification{ID: "n1", Kind: model.NotificationWelcome, UserID: "ghost"}})

	mailer.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
	d, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestNotificationWorker_StartStop(t *testing.T) {
	q := queue.NewMemoryNotificationQueue(4)
	users := &mockUserRepository{}
	mailer := &mockMailClient{}
	w := newTestWorker(q, users, mailer)

	sent := make(chan *client.EmailMessage, 1)
	users.On("GetByID", mock.Anything, "user-1").Return(testUser, nil)
	mailer.On("SendEmail", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent <- args.Get(1).(*client.EmailMessage)
	}).Return(nil)

	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, q.Enqueue(context.Background(), &model.Notification{
		ID:       "n1",
		Kind:     model.NotificationPaymentFailed,
		UserID:   "user-1",
		PlanName: "Pro",
		Amount:   1999,
		Currency: "usd",
	}))

	select {
	case msg := <-sent:
		assert.Equal(t, "Payment failed for Pro", msg.Subject)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}
