// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Alias configuration errors
	ErrCodeConfigNotFound  ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigMalformed ErrorCode = "CONFIG_MALFORMED"
	ErrCodePersistFailed   ErrorCode = "PERSIST_FAILED"
	ErrCodeUnknownCategory ErrorCode = "UNKNOWN_CATEGORY"

	// Parse errors
	ErrCodeNoTablesAvailable ErrorCode = "NO_TABLES_AVAILABLE"
	ErrCodeAIUnavailable     ErrorCode = "AI_UNAVAILABLE"
	ErrCodeAIResponseInvalid ErrorCode = "AI_RESPONSE_INVALID"

	// Query execution errors
	ErrCodeDisallowedQuery      ErrorCode = "DISALLOWED_QUERY"
	ErrCodeTableNotFound        ErrorCode = "TABLE_NOT_FOUND"
	ErrCodeQueryExecutionFailed ErrorCode = "QUERY_EXECUTION_FAILED"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenCreation      ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInsufficientPerms  ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"

	// Storage errors
	ErrCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeCacheRead          ErrorCode = "CACHE_READ_FAILED"
	ErrCodeCacheWrite         ErrorCode = "CACHE_WRITE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}

	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}

	return sb.String()
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of the first EnhancedError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) {
		return enhanced.Code
	}
	return ""
}

// AsEnhanced returns the first EnhancedError in err's chain, wrapping err as INTERNAL_ERROR when there is none.
func AsEnhanced(err error) *EnhancedError {
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) {
		return enhanced
	}
	return Wrap(err, ErrCodeInternal, err.Error())
}

// HasCode reports whether err's chain carries an EnhancedError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Common error constructors with pre-configured messages

// NewConfigNotFoundError creates an error for a missing alias configuration source
func NewConfigNotFoundError(source string) *EnhancedError {
	return New(ErrCodeConfigNotFound, "Alias configuration not found").
		WithDetails(fmt.Sprintf("No alias configuration exists at %s", source)).
		WithSuggestion("Create the configuration file or export one with 'aliasctl export', then point ALIAS_CONFIG_PATH at it.").
		WithMetadata("source", source)
}

// NewConfigMalformedError creates an error for an alias configuration that could not be decoded
func NewConfigMalformedError(err error, source string) *EnhancedError {
	return Wrap(err, ErrCodeConfigMalformed, "Alias configuration is malformed").
		WithDetails(fmt.Sprintf("Failed to decode alias configuration from %s", source)).
		WithSuggestion("Run 'aliasctl validate' to locate the problem. The service continues with empty alias categories until the file is fixed.").
		WithMetadata("source", source)
}

// NewPersistError creates an error for a failed alias configuration write
func NewPersistError(err error, source string) *EnhancedError {
	return Wrap(err, ErrCodePersistFailed, "Failed to persist alias configuration").
		WithDetails(fmt.Sprintf("Could not write alias configuration to %s", source)).
		WithSuggestion("Check that the destination is writable. In-memory aliases are unaffected and the save can be retried.").
		WithMetadata("source", source).
		WithMetadata("retryable", true)
}

// NewUnknownCategoryError creates an error for an alias category outside the known set
func NewUnknownCategoryError(category string, known []string) *EnhancedError {
	return New(ErrCodeUnknownCategory, "Unknown alias category").
		WithDetails(fmt.Sprintf("Category '%s' is not one of: %s", category, strings.Join(known, ", "))).
		WithSuggestion("Use one of the listed categories.").
		WithMetadata("category", category)
}

// NewNoTablesAvailableError creates an error for a parse attempted with no enabled tables
func NewNoTablesAvailableError() *EnhancedError {
	return New(ErrCodeNoTablesAvailable, "No tables available").
		WithDetails("The schema has no enabled tables to build a query against").
		WithSuggestion("Enable at least one table in the schema file referenced by SCHEMA_FILE_PATH.")
}

// NewAIUnavailableError creates an error for an AI backend that failed or timed out
func NewAIUnavailableError(err error, backend string) *EnhancedError {
	return Wrap(err, ErrCodeAIUnavailable, "AI backend unavailable").
		WithDetails(fmt.Sprintf("The %s backend did not return a usable response", backend)).
		WithSuggestion("Rule-based parsing is used instead. Check the backend configuration if AI parsing is expected.").
		WithMetadata("backend", backend).
		WithMetadata("retryable", true)
}

// NewAIResponseInvalidError creates an error for AI output that does not describe a usable query
func NewAIResponseInvalidError(reason string) *EnhancedError {
	return New(ErrCodeAIResponseInvalid, "AI response invalid").
		WithDetails(reason).
		WithSuggestion("Rule-based parsing is used instead.")
}

// NewDisallowedQueryError creates an error for SQL text rejected by the keyword denylist
func NewDisallowedQueryError(reason string) *EnhancedError {
	return New(ErrCodeDisallowedQuery, "Query not allowed").
		WithDetails(reason).
		WithSuggestion("Only read-only SELECT statements can be executed.")
}

// NewTableNotFoundError creates an error for a table outside the enabled schema
func NewTableNotFoundError(table string) *EnhancedError {
	return New(ErrCodeTableNotFound, "Table not found").
		WithDetails(fmt.Sprintf("No enabled table named '%s'", table)).
		WithSuggestion("Use getAvailableTablesAndColumns to list the enabled tables.").
		WithMetadata("table", table)
}

// NewQueryExecutionError creates an error for a failed SQL backend call
func NewQueryExecutionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeQueryExecutionFailed, "Query execution failed").
		WithDetails("The SQL backend returned an error").
		WithSuggestion("This is typically a temporary issue. Please try again in a moment.").
		WithMetadata("retryable", true)
}

// NewInvalidCredentialsError creates an error for authentication failures
func NewInvalidCredentialsError() *EnhancedError {
	return New(ErrCodeInvalidCredentials, "Invalid client credentials").
		WithDetails("Authentication failed with the provided credentials").
		WithSuggestion("Check the client ID and secret and try again.")
}

// NewTokenCreationError creates an error for token creation failures
func NewTokenCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeTokenCreation, "Failed to create authentication token").
		WithDetails("The system was unable to generate an authentication token").
		WithMetadata("retryable", true)
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Include a bearer token from /api/v1/auth/token or a valid API key in the 'X-API-Key' header.")
}

// NewInsufficientPermissionsError creates an error for a caller lacking a required role
func NewInsufficientPermissionsError(role string) *EnhancedError {
	return New(ErrCodeInsufficientPerms, "Insufficient permissions").
		WithDetails(fmt.Sprintf("This endpoint requires the '%s' role", role)).
		WithMetadata("required_role", role)
}

// NewRateLimitedError creates an error for callers over their request budget
func NewRateLimitedError(limit int) *EnhancedError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(fmt.Sprintf("More than %d requests per minute", limit)).
		WithSuggestion("Wait a minute before retrying.").
		WithMetadata("limit", limit)
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the tool documentation for the expected format and try again.").
		WithMetadata("field", field)
}

// NewMissingRequiredError creates an error for an absent required field
func NewMissingRequiredError(field string) *EnhancedError {
	return New(ErrCodeMissingRequired, "Missing required field").
		WithDetails(fmt.Sprintf("Field '%s' is required", field)).
		WithMetadata("field", field)
}

// NewDatabaseConnectionError creates an error for database connection failures
func NewDatabaseConnectionError(err error) *EnhancedError {
	return Wrap(err, ErrCodeDatabaseConnection, "Database connection failed").
		WithDetails("Unable to connect to the alias document database").
		WithMetadata("retryable", true)
}
