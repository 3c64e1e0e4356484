package chatwoot

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound      = errors.New("chatwoot config not found")
	ErrConfigAlreadyExists = errors.New("chatwoot config already exists")
	ErrIntegrationDisabled = errors.New("chatwoot integration is disabled")
	ErrInvalidCredentials  = errors.New("invalid chatwoot credentials")

	// ErrUnresolvedDestination flags a webhook message whose WhatsApp
	// destination could not be determined from either the persisted
	// conversation mapping or the payload's contact metadata.
	ErrUnresolvedDestination = errors.New("unresolved destination")
)

// ValidationError reports malformed or incomplete input before any remote
// call is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ResolutionError reports a failure to resolve or create the Chatwoot
// contact/conversation pair for a WhatsApp chat.
type ResolutionError struct {
	JID string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("identity resolution failed for %s: %v", e.JID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func NewResolutionError(jid string, err error) *ResolutionError {
	return &ResolutionError{JID: jid, Err: err}
}

// TranslationError reports a message that could not be converted between
// the WhatsApp and Chatwoot representations.
type TranslationError struct {
	MessageID string
	Kind      string
	Err       error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("cannot translate %s message %s: %v", e.Kind, e.MessageID, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

func NewTranslationError(messageID, kind string, err error) *TranslationError {
	return &TranslationError{MessageID: messageID, Kind: kind, Err: err}
}

// DeliveryError reports a failure delivering a translated message to its
// destination platform after retries were exhausted.
type DeliveryError struct {
	Platform string // "chatwoot" or "whatsapp"
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Platform, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func NewDeliveryError(platform string, err error) *DeliveryError {
	return &DeliveryError{Platform: platform, Err: err}
}

// ConflictError reports an operation rejected because it would violate a
// single-flight invariant, such as starting a second sync job.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

func NewConflictError(resource, message string) *ConflictError {
	return &ConflictError{Resource: resource, Message: message}
}
