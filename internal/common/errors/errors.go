// Package errors provides standardized error handling shared by the HTTP
// surface, the dispatch pipeline and BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Validation
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidCoordinate ErrorCode = "INVALID_COORDINATE"

	// Conflicts on the request/offer state machine
	ErrCodeDuplicateOffer          ErrorCode = "DUPLICATE_OFFER"
	ErrCodeRequestAlreadyFulfilled ErrorCode = "REQUEST_ALREADY_FULFILLED"
	ErrCodeOfferNotPending         ErrorCode = "OFFER_NOT_PENDING"

	// Lookups
	ErrCodeRequestNotFound   ErrorCode = "REQUEST_NOT_FOUND"
	ErrCodeOfferNotFound     ErrorCode = "OFFER_NOT_FOUND"
	ErrCodeDonorNotFound     ErrorCode = "DONOR_NOT_FOUND"
	ErrCodeRecipientNotFound ErrorCode = "RECIPIENT_NOT_FOUND"

	// Caller identity
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"

	ErrCodeTemplateNotFound         ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateValidationFailed ErrorCode = "TEMPLATE_VALIDATION_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"

	ErrCodeSearchQueryFailed ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeSearchTimeout     ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeIndexNotFound     ErrorCode = "INDEX_NOT_FOUND"

	// Transient collaborator failures
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeRoutingUnavailable     ErrorCode = "ROUTING_UNAVAILABLE"

	ErrCodeJobExhausted ErrorCode = "JOB_EXHAUSTED"

	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches any StandardError carrying the same code, so sentinel values
// built with the constructors below work with errors.Is.
func (e *StandardError) Is(target error) bool {
	var t *StandardError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns the error with an extra metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(field, details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Validation failed", details, false).
		WithMetadata("field", field)
}

// NewInvalidCoordinateError reports a latitude/longitude outside its range.
func NewInvalidCoordinateError(lat, lng float64) *StandardError {
	return newError(ErrCodeInvalidCoordinate, "Invalid coordinate",
		fmt.Sprintf("latitude %v must be in [-90,90] and longitude %v in [-180,180]", lat, lng), false)
}

func NewDuplicateOfferError(donorID, requestID string) *StandardError {
	return newError(ErrCodeDuplicateOffer, "Donor already has an offer for this request",
		fmt.Sprintf("donorId: %s, requestId: %s", donorID, requestID), false)
}

func NewRequestAlreadyFulfilledError(requestID string) *StandardError {
	return newError(ErrCodeRequestAlreadyFulfilled, "Request has already been fulfilled",
		fmt.Sprintf("requestId: %s", requestID), false)
}

func NewOfferNotPendingError(offerID, status string) *StandardError {
	return newError(ErrCodeOfferNotPending, "Offer is no longer pending",
		fmt.Sprintf("offerId: %s, status: %s", offerID, status), false)
}

func NewRequestNotFoundError(requestID string) *StandardError {
	return newError(ErrCodeRequestNotFound, "Blood request not found", fmt.Sprintf("requestId: %s", requestID), false)
}

func NewOfferNotFoundError(offerID string) *StandardError {
	return newError(ErrCodeOfferNotFound, "Offer not found", fmt.Sprintf("offerId: %s", offerID), false)
}

func NewDonorNotFoundError(ref string) *StandardError {
	return newError(ErrCodeDonorNotFound, "Donor not found", ref, false)
}

func NewRecipientNotFoundError(recipientID string) *StandardError {
	return newError(ErrCodeRecipientNotFound, "Recipient has no contact record", fmt.Sprintf("recipientId: %s", recipientID), false)
}

func NewUnauthenticatedError(details string) *StandardError {
	return newError(ErrCodeUnauthenticated, "Authentication required", details, false)
}

func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Operation not permitted", details, false)
}

// NewTemplateNotFoundError creates a non-retryable template error.
func NewTemplateNotFoundError(templateID string) *StandardError {
	return newError(ErrCodeTemplateNotFound, "Template not found in registry", fmt.Sprintf("templateId: %s", templateID), false)
}

// NewTemplateValidationFailedError creates a non-retryable template validation error.
func NewTemplateValidationFailedError(details string) *StandardError {
	return newError(ErrCodeTemplateValidationFailed, "Data validation failed for template", details, false)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true)
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true)
}

// NewSearchQueryFailedError creates a retryable search query error.
func NewSearchQueryFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Elasticsearch query error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true)
}

// NewSearchTimeoutError creates a retryable search timeout error.
func NewSearchTimeoutError(queryType string) *StandardError {
	return newError(ErrCodeSearchTimeout, "Elasticsearch query timeout", fmt.Sprintf("queryType: %s", queryType), true)
}

// NewIndexNotFoundError creates a non-retryable index not found error.
func NewIndexNotFoundError(indexName string) *StandardError {
	return newError(ErrCodeIndexNotFound, "Elasticsearch index not found", fmt.Sprintf("indexName: %s", indexName), false)
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
}

// NewRoutingUnavailableError marks the routing collaborator as unreachable.
func NewRoutingUnavailableError(operation string, err error) *StandardError {
	return newError(ErrCodeRoutingUnavailable, "Routing service unavailable",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true)
}

// NewJobExhaustedError is recorded against a job after its last attempt.
func NewJobExhaustedError(jobID string, attempts int, last error) *StandardError {
	details := fmt.Sprintf("jobId: %s, attempts: %d", jobID, attempts)
	if last != nil {
		details += ", lastError: " + last.Error()
	}
	return newError(ErrCodeJobExhausted, "Job exhausted its retry budget", details, false)
}

// Generic constructors

func NewBusinessRuleError(message, details string) *StandardError {
	return newError("BUSINESS_RULE_VIOLATION", message, details, false)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err.Error(), true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError("RESOURCE_NOT_FOUND", fmt.Sprintf("Resource not found in %s", service), details, false)
}

func NewAuthenticationError(details string) *StandardError {
	return newError("AUTHENTICATION_ERROR", "Authentication failed", details, false)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended workflow retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeSearchTimeout,
		ErrCodeRoutingUnavailable,
		ErrCodeTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
// BPMN codes are the internal codes verbatim.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError unwraps err to a *StandardError if one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == code
}

// IsRetryable is true for StandardErrors flagged retryable and for any error
// that is not a StandardError at all (unknown failures get another attempt).
func IsRetryable(err error) bool {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Retryable
	}
	return true
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidCoordinate, ErrCodeTemplateValidationFailed:
		return "VALIDATION"
	case ErrCodeDuplicateOffer, ErrCodeRequestAlreadyFulfilled, ErrCodeOfferNotPending:
		return "CONFLICT"
	case ErrCodeRequestNotFound, ErrCodeOfferNotFound, ErrCodeDonorNotFound,
		ErrCodeRecipientNotFound, ErrCodeTemplateNotFound, ErrCodeIndexNotFound, "RESOURCE_NOT_FOUND":
		return "NOT_FOUND"
	case ErrCodeUnauthenticated, ErrCodeForbidden, "AUTHENTICATION_ERROR":
		return "AUTH"
	case ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed:
		return "DATABASE"
	case ErrCodeSearchQueryFailed, ErrCodeSearchTimeout:
		return "SEARCH"
	case ErrCodeNotificationSendFailed, ErrCodeJobExhausted:
		return "NOTIFICATION"
	case ErrCodeRoutingUnavailable:
		return "ROUTING"
	case ErrCodeExternalService, ErrCodeTimeout:
		return "TRANSIENT"
	default:
		return "OTHER"
	}
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	stdErr, ok := AsStandardError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch stdErr.Code {
	case ErrCodeUnauthenticated, "AUTHENTICATION_ERROR":
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	}
	switch GetErrorCategory(stdErr.Code) {
	case "VALIDATION":
		return http.StatusBadRequest
	case "CONFLICT":
		return http.StatusConflict
	case "NOT_FOUND":
		return http.StatusNotFound
	case "DATABASE", "SEARCH", "ROUTING", "TRANSIENT", "NOTIFICATION":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
