package bootstrap

import (
	"context"
	"time"

	"mindmate-be/internal/config"
	"mindmate-be/internal/controller"
	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/pkg/mailer"
	"mindmate-be/internal/pkg/metrics"
	"mindmate-be/internal/pkg/ratelimit"
	"mindmate-be/internal/pkg/serverutils"
	"mindmate-be/internal/repository/unitofwork"
	"mindmate-be/internal/service"
	"mindmate-be/pkg/llm"
	"mindmate-be/pkg/llm/factory"
	"mindmate-be/pkg/token"

	pktNats "mindmate-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	AuthController    controller.IAuthController
	ChatbotController controller.IChatbotController

	// Middleware
	AuthMiddleware    fiber.Handler
	AuthThrottle      fiber.Handler
	ErrorHandler      fiber.Handler
	MetricsMiddleware fiber.Handler

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	Metrics *metrics.Metrics
	Logger  logger.ILogger

	closers []func()
}

// Option overrides a collaborator the container would otherwise build from config.
type Option func(*overrides)

type overrides struct {
	llmProvider llm.LLMProvider
	limiter     ratelimit.Limiter
	now         func() time.Time
	bcryptCost  int
}

func WithLLMProvider(p llm.LLMProvider) Option {
	return func(o *overrides) { o.llmProvider = p }
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *overrides) { o.limiter = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *overrides) { o.now = now }
}

func WithBcryptCost(cost int) Option {
	return func(o *overrides) { o.bcryptCost = cost }
}

func NewContainer(db *gorm.DB, cfg *config.Config, sysLogger logger.ILogger, opts ...Option) (*Container, error) {
	o := &overrides{}
	for _, opt := range opts {
		opt(o)
	}
	c := &Container{Logger: sysLogger}

	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	m := metrics.New()
	c.Metrics = m

	if cfg.Auth.JWTSecret == "" {
		sysLogger.Warn("BOOTSTRAP", "JWT_SECRET not set, using the development secret", nil)
	}
	tokenService := token.NewJWTService(cfg.Auth.JWTSecret)

	// 2. Event Bus
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 3. Infrastructure
	var forwarder service.EventForwarder
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "NATS unavailable, events stay in-process", map[string]interface{}{"error": err.Error()})
		} else {
			forwarder = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	var emailService mailer.IEmailService
	if cfg.SMTP.Host != "" {
		emailService = mailer.NewEmailService(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Email,
			cfg.SMTP.Password,
			cfg.SMTP.Email,
			cfg.SMTP.SenderName,
		)
	}

	limiter := o.limiter
	if limiter == nil {
		limiter = newLimiter(cfg, sysLogger, c)
	}

	llmProvider := o.llmProvider
	if llmProvider == nil {
		p, err := factory.NewLLMProvider(factory.Config{
			Provider: cfg.Ai.LLMProvider,
			Model:    cfg.Ai.LLMModel,
			APIKey:   cfg.Ai.GroqAPIKey,
			BaseURL:  cfg.LLMBaseURL(),
			Timeout:  cfg.Ai.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		llmProvider = p
	}
	sysLogger.Info("BOOTSTRAP", "LLM provider configured", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	// 4. Services
	publisherService := service.NewPublisherService(pubSub, sysLogger)
	c.ConsumerService = service.NewConsumerService(pubSub, forwarder, emailService, sysLogger)

	authOpts := []service.AuthOption{}
	if o.bcryptCost > 0 {
		authOpts = append(authOpts, service.WithBcryptCost(o.bcryptCost))
	}
	if o.now != nil {
		authOpts = append(authOpts, service.WithAuthClock(o.now))
	}
	authService := service.NewAuthService(uowFactory, tokenService, publisherService, sysLogger, authOpts...)
	chatService := service.NewChatService(uowFactory, llmProvider, publisherService, m, sysLogger, service.ChatOptions{
		WindowSize:  cfg.Ai.ContextWindow,
		Temperature: &cfg.Ai.Temperature,
		MaxTokens:   cfg.Ai.MaxTokens,
		Now:         o.now,
	})

	// 5. Controllers and middleware
	c.AuthController = controller.NewAuthController(authService)
	c.ChatbotController = controller.NewChatbotController(chatService)
	c.AuthMiddleware = serverutils.JwtMiddleware(tokenService)
	c.AuthThrottle = ratelimit.Middleware(limiter, sysLogger)
	c.ErrorHandler = serverutils.ErrorHandlerMiddleware(sysLogger)
	c.MetricsMiddleware = m.Middleware()

	return c, nil
}

// newLimiter prefers Redis so the login budget is shared across replicas.
func newLimiter(cfg *config.Config, sysLogger logger.ILogger, c *Container) ratelimit.Limiter {
	perMinute := cfg.RateLimit.AuthPerMinute
	if cfg.App.RedisURL == "" {
		return ratelimit.NewLocalLimiter(perMinute)
	}

	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		opt = &redis.Options{Addr: cfg.App.RedisURL}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		sysLogger.Warn("BOOTSTRAP", "Redis unavailable, using in-process rate limiting", map[string]interface{}{"error": err.Error()})
		_ = rdb.Close()
		return ratelimit.NewLocalLimiter(perMinute)
	}

	c.closers = append(c.closers, func() { _ = rdb.Close() })
	return ratelimit.NewRedisLimiter(rdb, perMinute)
}

// Close releases the event bus and any external connections, newest first.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
