package service

import (
	"context"
	"time"

	"mindmate-be/internal/constant"
	"mindmate-be/internal/dto"
	"mindmate-be/internal/entity"
	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/pkg/metrics"
	"mindmate-be/internal/repository/specification"
	"mindmate-be/internal/repository/unitofwork"
	"mindmate-be/pkg/conversation"
	"mindmate-be/pkg/events"
	"mindmate-be/pkg/llm"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("mindmate-be/internal/service")

type IChatService interface {
	CreateSession(ctx context.Context, userId uuid.UUID) (*dto.CreateSessionResponse, error)
	ListSessions(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error)
	DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error
	ListMessages(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.MessageResponse, error)
	SendMessage(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest) (*dto.SendChatResponse, error)
}

type ChatOptions struct {
	SystemPrompt string
	WindowSize   int
	Temperature  *float64 // nil selects constant.DefaultTemperature
	MaxTokens    int
	Now          func() time.Time
}

type chatService struct {
	uowFactory  unitofwork.RepositoryFactory
	llmProvider llm.LLMProvider
	window      *conversation.WindowBuilder
	publisher   IPublisherService
	metrics     *metrics.Metrics
	logger      logger.ILogger
	temperature float64
	maxTokens   int
	now         func() time.Time
}

func NewChatService(
	uowFactory unitofwork.RepositoryFactory,
	llmProvider llm.LLMProvider,
	publisher IPublisherService,
	m *metrics.Metrics,
	log logger.ILogger,
	opts ChatOptions,
) IChatService {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = constant.MindMateSystemPrompt
	}
	temperature := constant.DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = constant.DefaultMaxTokens
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &chatService{
		uowFactory:  uowFactory,
		llmProvider: llmProvider,
		window:      conversation.NewWindowBuilder(opts.SystemPrompt, opts.WindowSize),
		publisher:   publisher,
		metrics:     m,
		logger:      log,
		temperature: temperature,
		maxTokens:   opts.MaxTokens,
		now:         opts.Now,
	}
}

// clock returns the current time at the precision Postgres stores.
func (cs *chatService) clock() time.Time {
	return cs.now().UTC().Truncate(time.Microsecond)
}

// after returns t if it is later than prev, otherwise the smallest storable instant after prev.
func after(prev, t time.Time) time.Time {
	if t.After(prev) {
		return t
	}
	return prev.Add(time.Microsecond)
}

// CreateSession creates an empty, untitled chat session
func (cs *chatService) CreateSession(ctx context.Context, userId uuid.UUID) (*dto.CreateSessionResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)
	now := cs.clock()

	chatSession := &entity.ChatSession{
		Id:        uuid.New(),
		UserId:    userId,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uow.ChatSessionRepository().Create(ctx, chatSession); err != nil {
		return nil, err
	}

	return &dto.CreateSessionResponse{
		Id:        chatSession.Id,
		Title:     chatSession.Title,
		CreatedAt: chatSession.CreatedAt,
	}, nil
}

// ListSessions returns the user's sessions, most recently active first
func (cs *chatService) ListSessions(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	chatSessions, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	response := make([]*dto.SessionResponse, 0, len(chatSessions))
	for _, s := range chatSessions {
		response = append(response, &dto.SessionResponse{
			Id:        s.Id,
			Title:     s.Title,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return response, nil
}

// DeleteSession removes a session together with its messages
func (cs *chatService) DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	sess, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}

	if err := uow.ChatMessageRepository().DeleteByChatSessionId(ctx, sessionId); err != nil {
		return err
	}
	if err := uow.ChatSessionRepository().Delete(ctx, sessionId); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	cs.publisher.Publish(ctx, events.New(constant.EventChatSessionDeleted, map[string]interface{}{
		"user_id":    userId.String(),
		"session_id": sessionId.String(),
	}, cs.clock()))
	return nil
}

// ListMessages returns a session's messages in chronological order
func (cs *chatService) ListMessages(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.MessageResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	sess, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}

	chatMessages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.Chronological{},
	)
	if err != nil {
		return nil, err
	}

	resp := make([]*dto.MessageResponse, 0, len(chatMessages))
	for _, msg := range chatMessages {
		resp = append(resp, &dto.MessageResponse{
			Id:        msg.Id,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	return resp, nil
}

// SendMessage runs one exchange: the user message, the assistant reply, and the
// session title/timestamp update commit together or not at all.
func (cs *chatService) SendMessage(ctx context.Context, userId uuid.UUID, req *dto.SendChatRequest) (*dto.SendChatResponse, error) {
	sessionId, err := uuid.Parse(req.SessionId)
	if err != nil {
		return nil, ErrNotFound
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	// 1. Ownership: a foreign session looks exactly like a missing one
	chatSession, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: sessionId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if chatSession == nil {
		cs.metrics.ObserveExchange(metrics.OutcomeNotFound, 0)
		return nil, ErrNotFound
	}

	// 2. History as it stood before this exchange
	history, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.Chronological{},
	)
	if err != nil {
		return nil, err
	}
	isFirstExchange := len(history) == 0

	lastAt := chatSession.CreatedAt
	if !isFirstExchange {
		lastAt = history[len(history)-1].CreatedAt
	}

	// 3. User message, visible only inside this transaction until commit
	userMessage := &entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: sessionId,
		Role:          entity.MessageRoleUser,
		Content:       req.Message,
		CreatedAt:     after(lastAt, cs.clock()),
	}
	if err := uow.ChatMessageRepository().Create(ctx, userMessage); err != nil {
		return nil, err
	}

	// 4. Completion over the prior history; the new message is appended by the builder
	turns := make([]conversation.Turn, len(history))
	for i, m := range history {
		turns[i] = conversation.Turn{Role: string(m.Role), Content: m.Content}
	}
	reply, latency, err := cs.complete(ctx, sessionId, cs.window.Build(turns, req.Message))
	if err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			cs.logger.Error("CHAT", "Rollback after provider failure failed", map[string]interface{}{
				"session_id": sessionId.String(),
				"error":      rbErr.Error(),
			})
		}
		cs.logger.Error("CHAT", "Completion provider failed", map[string]interface{}{
			"session_id": sessionId.String(),
			"latency_ms": latency.Milliseconds(),
			"error":      err.Error(),
		})
		cs.metrics.ObserveExchange(metrics.OutcomeProviderError, latency)
		return nil, &ProviderError{Detail: err.Error()}
	}

	// 5. Assistant reply directly after the user message
	assistantMessage := &entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: sessionId,
		Role:          entity.MessageRoleAssistant,
		Content:       reply,
		CreatedAt:     after(userMessage.CreatedAt, cs.clock()),
	}
	if err := uow.ChatMessageRepository().Create(ctx, assistantMessage); err != nil {
		cs.metrics.ObserveExchange(metrics.OutcomeFailed, latency)
		return nil, err
	}

	// 6. Title once, on the first exchange; updated_at always moves forward
	var newTitle *string
	if isFirstExchange {
		t := conversation.DeriveTitle(req.Message)
		newTitle = &t
	}
	updatedAt := after(chatSession.UpdatedAt, assistantMessage.CreatedAt)
	if err := uow.ChatSessionRepository().Touch(ctx, sessionId, newTitle, updatedAt); err != nil {
		cs.metrics.ObserveExchange(metrics.OutcomeFailed, latency)
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		cs.metrics.ObserveExchange(metrics.OutcomeFailed, latency)
		return nil, err
	}

	sessionTitle := chatSession.Title
	if newTitle != nil {
		sessionTitle = newTitle
	}

	cs.metrics.ObserveExchange(metrics.OutcomeSuccess, latency)
	cs.logger.Info("CHAT", "Exchange completed", map[string]interface{}{
		"session_id":  sessionId.String(),
		"history_len": len(history),
		"latency_ms":  latency.Milliseconds(),
	})
	cs.publisher.Publish(ctx, events.New(constant.EventChatExchangeCompleted, map[string]interface{}{
		"user_id":     userId.String(),
		"session_id":  sessionId.String(),
		"first":       isFirstExchange,
		"latency_ms":  latency.Milliseconds(),
		"message_ids": []string{userMessage.Id.String(), assistantMessage.Id.String()},
	}, updatedAt))

	return &dto.SendChatResponse{
		Reply:        reply,
		SessionTitle: sessionTitle,
	}, nil
}

func (cs *chatService) complete(ctx context.Context, sessionId uuid.UUID, window []llm.Message) (string, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "llm.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.session_id", sessionId.String()),
		attribute.Int("llm.window_len", len(window)),
	)

	start := time.Now()
	reply, err := cs.llmProvider.Chat(ctx, window,
		llm.WithTemperature(cs.temperature),
		llm.WithMaxTokens(cs.maxTokens),
	)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", latency, err
	}
	return reply, latency, nil
}
