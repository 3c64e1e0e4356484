package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// ClientFactory builds a Chatwoot API client for a given configuration.
// Injected so the service stays free of HTTP concerns.
type ClientFactory func(cfg *ports.ChatwootConfig) ports.ChatwootClient

// Service owns the integration configuration lifecycle: create, read,
// update, delete, credential validation and mapping reset.
type Service struct {
	configRepo     ports.ConfigRepository
	mappingRepo    ports.MappingRepository
	msgMappingRepo ports.MessageMappingRepository
	clientFactory  ClientFactory
	validate       *validator.Validate
	logger         *logger.Logger
}

func NewService(
	configRepo ports.ConfigRepository,
	mappingRepo ports.MappingRepository,
	msgMappingRepo ports.MessageMappingRepository,
	clientFactory ClientFactory,
	log *logger.Logger,
) *Service {
	return &Service{
		configRepo:     configRepo,
		mappingRepo:    mappingRepo,
		msgMappingRepo: msgMappingRepo,
		clientFactory:  clientFactory,
		validate:       validator.New(),
		logger:         log.WithModule("chatwoot-service"),
	}
}

// CreateConfig validates credentials against the Chatwoot account before
// persisting. When InboxName is given without InboxID, the inbox is looked
// up by name and created if missing.
func (s *Service) CreateConfig(ctx context.Context, sessionID string, req *CreateConfigRequest) (*ConfigResponse, error) {
	if sessionID == "" {
		return nil, NewValidationError("sessionId", "must not be empty")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("", err.Error())
	}

	if existing, err := s.configRepo.GetBySessionID(ctx, sessionID); err == nil && existing != nil {
		return nil, ErrConfigAlreadyExists
	} else if err != nil && !errors.Is(err, ports.ErrConfigNotFound) {
		return nil, fmt.Errorf("failed to check existing config: %w", err)
	}

	now := time.Now()
	cfg := &ports.ChatwootConfig{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		URL:            req.URL,
		Token:          req.Token,
		AccountID:      req.AccountID,
		InboxID:        req.InboxID,
		InboxName:      req.InboxName,
		Enabled:        true,
		SignSeparator:  ":\n",
		AutoReopen:     true,
		SyncContacts:   true,
		SyncMessages:   true,
		SyncWindowDays: 30,
		IgnoreJids:     req.IgnoreJids,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyConfigDefaults(cfg, req)

	client := s.clientFactory(cfg)
	account, err := client.ValidateCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	s.logger.InfoWithFields("Chatwoot credentials validated", map[string]interface{}{
		"session_id": sessionID,
		"account":    account.Name,
	})

	if cfg.InboxID == nil && cfg.InboxName != nil && *cfg.InboxName != "" {
		inboxID, err := s.resolveInbox(ctx, client, *cfg.InboxName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve inbox %q: %w", *cfg.InboxName, err)
		}
		cfg.InboxID = &inboxID
	}

	if err := s.configRepo.Create(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to create chatwoot config: %w", err)
	}

	s.logger.InfoWithFields("Chatwoot config created", map[string]interface{}{
		"session_id": sessionID,
		"url":        cfg.URL,
		"account_id": cfg.AccountID,
	})
	return ConfigResponseFrom(cfg), nil
}

func (s *Service) GetConfig(ctx context.Context, sessionID string) (*ConfigResponse, error) {
	cfg, err := s.configRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrConfigNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get chatwoot config: %w", err)
	}
	return ConfigResponseFrom(cfg), nil
}

// UpdateConfig applies the non-nil fields of the request. Credential
// changes are re-validated against the remote account.
func (s *Service) UpdateConfig(ctx context.Context, sessionID string, req *UpdateConfigRequest) (*ConfigResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("", err.Error())
	}

	cfg, err := s.configRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrConfigNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to get chatwoot config: %w", err)
	}

	credentialsChanged := applyConfigPatch(cfg, req)
	cfg.UpdatedAt = time.Now()

	if credentialsChanged {
		client := s.clientFactory(cfg)
		if _, err := client.ValidateCredentials(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
	}

	if err := s.configRepo.Update(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to update chatwoot config: %w", err)
	}

	s.logger.InfoWithFields("Chatwoot config updated", map[string]interface{}{
		"session_id": sessionID,
		"enabled":    cfg.Enabled,
	})
	return ConfigResponseFrom(cfg), nil
}

func (s *Service) DeleteConfig(ctx context.Context, sessionID string) error {
	if err := s.configRepo.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, ports.ErrConfigNotFound) {
			return ErrConfigNotFound
		}
		return fmt.Errorf("failed to delete chatwoot config: %w", err)
	}
	s.logger.InfoWithFields("Chatwoot config deleted", map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

// TestConnection validates credentials without touching persisted state.
func (s *Service) TestConnection(ctx context.Context, req *TestConnectionRequest) *TestConnectionResponse {
	if err := s.validate.Struct(req); err != nil {
		return &TestConnectionResponse{OK: false, Error: err.Error()}
	}
	client := s.clientFactory(&ports.ChatwootConfig{
		URL:       req.URL,
		Token:     req.Token,
		AccountID: req.AccountID,
	})
	account, err := client.ValidateCredentials(ctx)
	if err != nil {
		return &TestConnectionResponse{OK: false, Error: err.Error()}
	}
	return &TestConnectionResponse{OK: true, AccountName: account.Name}
}

// ResetIntegration drops every contact, conversation and message mapping
// for the session. The configuration itself is kept; the next inbound
// message rebuilds identities from scratch.
func (s *Service) ResetIntegration(ctx context.Context, sessionID string) error {
	if _, err := s.configRepo.GetBySessionID(ctx, sessionID); err != nil {
		if errors.Is(err, ports.ErrConfigNotFound) {
			return ErrConfigNotFound
		}
		return fmt.Errorf("failed to get chatwoot config: %w", err)
	}
	if err := s.mappingRepo.DeleteSessionMappings(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete mappings: %w", err)
	}
	if err := s.msgMappingRepo.DeleteSessionMappings(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete message mappings: %w", err)
	}
	s.logger.WarnWithFields("Chatwoot integration reset", map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

// GetEnabledConfig loads the config and rejects disabled integrations.
func (s *Service) GetEnabledConfig(ctx context.Context, sessionID string) (*ports.ChatwootConfig, error) {
	cfg, err := s.configRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrConfigNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrIntegrationDisabled
	}
	return cfg, nil
}

func (s *Service) resolveInbox(ctx context.Context, client ports.ChatwootClient, name string) (int, error) {
	inboxes, err := client.ListInboxes(ctx)
	if err != nil {
		return 0, err
	}
	for _, inbox := range inboxes {
		if inbox.Name == name {
			return inbox.ID, nil
		}
	}
	created, err := client.CreateInbox(ctx, name, "")
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func applyConfigDefaults(cfg *ports.ChatwootConfig, req *CreateConfigRequest) {
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.SignAgentName != nil {
		cfg.SignAgentName = *req.SignAgentName
	}
	if req.SignSeparator != nil {
		cfg.SignSeparator = *req.SignSeparator
	}
	if req.AutoReopen != nil {
		cfg.AutoReopen = *req.AutoReopen
	}
	if req.ConvPending != nil {
		cfg.ConvPending = *req.ConvPending
	}
	if req.MergeLocalPhones != nil {
		cfg.MergeLocalPhones = *req.MergeLocalPhones
	}
	if req.SyncContacts != nil {
		cfg.SyncContacts = *req.SyncContacts
	}
	if req.SyncMessages != nil {
		cfg.SyncMessages = *req.SyncMessages
	}
	if req.SyncWindowDays != nil {
		cfg.SyncWindowDays = *req.SyncWindowDays
	}
}

func applyConfigPatch(cfg *ports.ChatwootConfig, req *UpdateConfigRequest) (credentialsChanged bool) {
	if req.URL != nil {
		cfg.URL = *req.URL
		credentialsChanged = true
	}
	if req.Token != nil {
		cfg.Token = *req.Token
		credentialsChanged = true
	}
	if req.AccountID != nil {
		cfg.AccountID = *req.AccountID
		credentialsChanged = true
	}
	if req.InboxID != nil {
		cfg.InboxID = req.InboxID
	}
	if req.InboxName != nil {
		cfg.InboxName = req.InboxName
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.SignAgentName != nil {
		cfg.SignAgentName = *req.SignAgentName
	}
	if req.SignSeparator != nil {
		cfg.SignSeparator = *req.SignSeparator
	}
	if req.AutoReopen != nil {
		cfg.AutoReopen = *req.AutoReopen
	}
	if req.ConvPending != nil {
		cfg.ConvPending = *req.ConvPending
	}
	if req.MergeLocalPhones != nil {
		cfg.MergeLocalPhones = *req.MergeLocalPhones
	}
	if req.SyncContacts != nil {
		cfg.SyncContacts = *req.SyncContacts
	}
	if req.SyncMessages != nil {
		cfg.SyncMessages = *req.SyncMessages
	}
	if req.SyncWindowDays != nil {
		cfg.SyncWindowDays = *req.SyncWindowDays
	}
	if req.IgnoreJids != nil {
		cfg.IgnoreJids = req.IgnoreJids
	}
	return credentialsChanged
}
