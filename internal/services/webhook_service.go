package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/popshop/internal/models"
	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/internal/storage"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/metrics"
)

var (
	// ErrInvalidWebhookPayload indicates a delivery body that is not JSON.
	ErrInvalidWebhookPayload = errors.New("webhook service: payload must be JSON")
	// ErrDuplicateWebhook indicates a redelivery of an already stored event.
	ErrDuplicateWebhook = errors.New("webhook service: duplicate delivery")
)

// WebhookDelivery is one inbound webhook request.
type WebhookDelivery struct {
	Topic     string
	Shop      string
	WebhookID string
	Payload   []byte
}

// WebhookHandler reacts to a stored event. Returned errors are recorded on the
// event; they do not fail the delivery.
type WebhookHandler func(ctx context.Context, event *models.WebhookEvent) error

// WebhookSubscriber creates webhook subscriptions through the Admin API.
type WebhookSubscriber interface {
	CreateWebhookSubscription(ctx context.Context, shop, accessToken, topic, callbackURL string) (string, error)
}

// WebhookServiceConfig wires optional collaborators.
type WebhookServiceConfig struct {
	Archiver   storage.Archiver
	Subscriber WebhookSubscriber
	Tokens     TokenSource
	AppURL     string
	Topics     []string
}

// RegistrationResult reports the outcome for one topic.
type RegistrationResult struct {
	Topic          string `json:"topic"`
	CallbackURL    string `json:"callback_url"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// WebhookService persists, archives and dispatches webhook deliveries and
// registers subscriptions for newly installed shops.
type WebhookService struct {
	db   *gorm.DB
	cfg  WebhookServiceConfig
	now  func() time.Time
	mu   sync.RWMutex
	subs map[string]WebhookHandler
}

// NewWebhookService constructs the service.
func NewWebhookService(db *gorm.DB, cfg WebhookServiceConfig) (*WebhookService, error) {
	if db == nil {
		return nil, errors.New("webhook service: db is required")
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = shopify.DefaultTopics
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &WebhookService{
		db:   db,
		cfg:  cfg,
		now:  time.Now,
		subs: make(map[string]WebhookHandler),
	}, nil
}

// Handle registers handler for topic, replacing any previous one.
func (s *WebhookService) Handle(topic string, handler WebhookHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[strings.ToUpper(topic)] = handler
}

func (s *WebhookService) handler(topic string) (WebhookHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.subs[topic]
	return h, ok
}

// UseDefaultHandlers installs the product mirror and uninstall handlers.
func (s *WebhookService) UseDefaultHandlers(shops *ShopService, products *ProductSyncService) {
	if products != nil {
		upsert := func(ctx context.Context, event *models.WebhookEvent) error {
			p, err := shopify.ProductFromWebhook(event.Payload)
			if err != nil {
				return err
			}
			_, err = products.Upsert(ctx, event.Shop, p)
			return err
		}
		s.Handle(shopify.TopicProductsCreate, upsert)
		s.Handle(shopify.TopicProductsUpdate, upsert)
		s.Handle(shopify.TopicProductsDelete, func(ctx context.Context, event *models.WebhookEvent) error {
			p, err := shopify.ProductFromWebhook(event.Payload)
			if err != nil {
				return err
			}
			return products.Delete(ctx, event.Shop, p.ID)
		})
	}
	s.Handle(shopify.TopicOrdersCreate, func(_ context.Context, event *models.WebhookEvent) error {
		var order struct {
			ID         json.Number `json:"id"`
			TotalPrice string      `json:"total_price"`
			Currency   string      `json:"currency"`
		}
		_ = json.Unmarshal(event.Payload, &order)
		logger.WithModule("webhooks").Info("order created",
			zap.String("shop", event.Shop),
			zap.String("order_id", order.ID.String()),
			zap.String("total", order.TotalPrice+" "+order.Currency),
		)
		return nil
	})
	if shops != nil {
		s.Handle(shopify.TopicAppUninstalled, func(ctx context.Context, event *models.WebhookEvent) error {
			return shops.Uninstall(ctx, event.Shop)
		})
	}
}

// Process stores the delivery, archives it when an archiver is configured,
// runs the topic handler and marks the event processed. Only storage of the
// event itself can fail the call.
func (s *WebhookService) Process(ctx context.Context, d WebhookDelivery) (*models.WebhookEvent, error) {
	ctx = ensuredContext(ctx)
	log := logger.WithModule("webhooks").With(zap.String("topic", d.Topic), zap.String("shop", d.Shop))

	if !json.Valid(d.Payload) {
		return nil, ErrInvalidWebhookPayload
	}

	event := models.WebhookEvent{
		Topic:   strings.ToUpper(d.Topic),
		Shop:    normaliseShop(d.Shop),
		Payload: datatypes.JSON(d.Payload),
	}
	if id := strings.TrimSpace(d.WebhookID); id != "" {
		event.WebhookID = &id
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		if event.WebhookID != nil && isUniqueConstraintError(err) {
			metrics.WebhookEvents.WithLabelValues(event.Topic, "duplicate").Inc()
			log.Info("duplicate webhook delivery ignored", zap.String("webhook_id", *event.WebhookID))
			var existing models.WebhookEvent
			if lookupErr := s.db.WithContext(ctx).Where("webhook_id = ?", *event.WebhookID).First(&existing).Error; lookupErr == nil {
				return &existing, ErrDuplicateWebhook
			}
			return nil, ErrDuplicateWebhook
		}
		metrics.WebhookEvents.WithLabelValues(event.Topic, "store_failed").Inc()
		return nil, fmt.Errorf("webhook service: store event: %w", err)
	}

	if s.cfg.Archiver != nil {
		key := storage.WebhookKey(event.Shop, event.Topic, event.ID, event.CreatedAt)
		meta := map[string]string{"Topic": event.Topic, "Shop": event.Shop}
		if err := s.cfg.Archiver.Put(ctx, key, d.Payload, meta); err != nil {
			log.Warn("webhook archive failed", zap.String("event_id", event.ID), zap.Error(err))
		} else {
			event.ArchiveKey = key
		}
	}

	result := "stored"
	if h, ok := s.handler(event.Topic); ok {
		result = "processed"
		if err := s.dispatch(ctx, h, &event); err != nil {
			result = "handler_failed"
			event.Error = err.Error()
			log.Error("webhook handler failed", zap.String("event_id", event.ID), zap.Error(err))
		}
	} else {
		log.Debug("no handler for topic")
	}

	now := s.now().UTC()
	event.Processed = true
	event.ProcessedAt = &now
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": now,
			"error":        event.Error,
			"archive_key":  event.ArchiveKey,
		}).Error
	if err != nil {
		log.Warn("failed to mark webhook processed", zap.String("event_id", event.ID), zap.Error(err))
	}

	metrics.WebhookEvents.WithLabelValues(event.Topic, result).Inc()
	return &event, nil
}

func (s *WebhookService) dispatch(ctx context.Context, h WebhookHandler, event *models.WebhookEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("webhook handler panic: %v", rec)
		}
	}()
	return h(ctx, event)
}

// RegisterAll subscribes every configured topic for shop. A failing topic
// does not stop the others; failures are aggregated.
func (s *WebhookService) RegisterAll(ctx context.Context, shop string) ([]RegistrationResult, error) {
	ctx = ensuredContext(ctx)
	if s.cfg.Subscriber == nil || s.cfg.Tokens == nil {
		return nil, errors.New("webhook service: subscriber and token source are required")
	}
	if s.cfg.AppURL == "" {
		return nil, errors.New("webhook service: app url is required")
	}
	shop = normaliseShop(shop)
	log := logger.WithModule("webhooks").With(zap.String("shop", shop))

	token, err := s.cfg.Tokens.AccessToken(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("webhook service: %w", err)
	}

	var errs error
	results := make([]RegistrationResult, 0, len(s.cfg.Topics))
	for _, topic := range s.cfg.Topics {
		res := RegistrationResult{
			Topic:       topic,
			CallbackURL: s.cfg.AppURL + shopify.CallbackPath(topic),
		}
		id, err := s.cfg.Subscriber.CreateWebhookSubscription(ctx, shop, token, topic, res.CallbackURL)
		if err != nil {
			res.Error = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", topic, err))
			log.Warn("webhook registration failed", zap.String("topic", topic), zap.Error(err))
		} else {
			res.SubscriptionID = id
			log.Info("webhook registered", zap.String("topic", topic), zap.String("subscription_id", id))
		}
		results = append(results, res)
	}
	return results, errs
}

// PurgeProcessed deletes processed events older than cutoff.
func (s *WebhookService) PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensuredContext(ctx)
	res := s.db.WithContext(ctx).
		Where("processed = ? AND processed_at < ?", true, cutoff.UTC()).
		Delete(&models.WebhookEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("webhook service: purge events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
