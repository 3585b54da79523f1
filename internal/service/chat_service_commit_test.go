package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"mindmate-be/internal/dto"
	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/pkg/metrics"
	"mindmate-be/internal/pkg/testdb"
	"mindmate-be/internal/repository/contract"
	"mindmate-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTouchFailed = errors.New("disk I/O error")

// touchFailingFactory hands out units of work whose session repository cannot be touched.
type touchFailingFactory struct {
	unitofwork.RepositoryFactory
}

func (f touchFailingFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return touchFailingUnitOfWork{f.RepositoryFactory.NewUnitOfWork(ctx)}
}

type touchFailingUnitOfWork struct {
	unitofwork.UnitOfWork
}

func (u touchFailingUnitOfWork) ChatSessionRepository() contract.ChatSessionRepository {
	return touchFailingSessionRepository{u.UnitOfWork.ChatSessionRepository()}
}

type touchFailingSessionRepository struct {
	contract.ChatSessionRepository
}

func (touchFailingSessionRepository) Touch(ctx context.Context, id uuid.UUID, title *string, updatedAt time.Time) error {
	return errTouchFailed
}

func TestSendMessage_SessionUpdateFailureRollsBackExchange(t *testing.T) {
	f := newChatFixture(t, time.Second)
	userId := uuid.New()
	sessionId := f.newSession(t, userId)
	before := f.session(t, sessionId)

	m := metrics.New()
	pub := &recordingPublisher{}
	failing := NewChatService(touchFailingFactory{unitofwork.NewRepositoryFactory(f.db)}, f.provider, pub, m,
		logger.NewNopLogger(), ChatOptions{Now: newStepClock(time.Second).Now})

	_, err := failing.SendMessage(context.Background(), userId, &dto.SendChatRequest{
		SessionId: sessionId.String(),
		Message:   "Is anyone there?",
	})

	require.ErrorIs(t, err, errTouchFailed)
	assert.Len(t, f.provider.calls, 1)
	assert.Empty(t, f.messages(t, sessionId))

	after := f.session(t, sessionId)
	assert.Nil(t, after.Title)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	assert.Empty(t, pub.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(metrics.OutcomeFailed)))
}

func TestSendMessage_SessionUpdateFailureKeepsEarlierHistory(t *testing.T) {
	f := newChatFixture(t, time.Second)
	userId := uuid.New()
	sessionId := f.newSession(t, userId)

	_, err := f.send(userId, sessionId, "Work has been overwhelming")
	require.NoError(t, err)
	before := f.session(t, sessionId)

	failing := NewChatService(touchFailingFactory{unitofwork.NewRepositoryFactory(f.db)}, f.provider, &recordingPublisher{},
		metrics.New(), logger.NewNopLogger(), ChatOptions{Now: newStepClock(time.Second).Now})
	_, err = failing.SendMessage(context.Background(), userId, &dto.SendChatRequest{
		SessionId: sessionId.String(),
		Message:   "And now I can't sleep",
	})
	require.ErrorIs(t, err, errTouchFailed)

	msgs := f.messages(t, sessionId)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Work has been overwhelming", msgs[0].Content)

	after := f.session(t, sessionId)
	require.NotNil(t, after.Title)
	assert.Equal(t, *before.Title, *after.Title)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestSendMessage_ZeroTemperatureIsPassedThrough(t *testing.T) {
	db := testdb.Open(t)
	provider := &fakeProvider{reply: "ok"}
	zero := 0.0
	svc := NewChatService(unitofwork.NewRepositoryFactory(db), provider, &recordingPublisher{}, nil,
		logger.NewNopLogger(), ChatOptions{Temperature: &zero})
	userId := uuid.New()
	session, err := svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), userId, &dto.SendChatRequest{SessionId: session.Id.String(), Message: "hi"})

	require.NoError(t, err)
	require.Len(t, provider.opts, 1)
	assert.Equal(t, 0.0, provider.opts[0].Temperature)
}
