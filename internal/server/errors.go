package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
	taskdomain "github.com/smallbiznis/pushrelay/internal/agenttask/domain"
	apikeydomain "github.com/smallbiznis/pushrelay/internal/apikey/domain"
	"github.com/smallbiznis/pushrelay/internal/authorization"
	"github.com/smallbiznis/pushrelay/internal/identity"
	intakedomain "github.com/smallbiznis/pushrelay/internal/intake/domain"
	jobdomain "github.com/smallbiznis/pushrelay/internal/notificationjob/domain"
	"github.com/smallbiznis/pushrelay/internal/push"
	subdomain "github.com/smallbiznis/pushrelay/internal/pushsubscription/domain"
	"github.com/smallbiznis/pushrelay/internal/signature"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindError turns a gin binding failure into field errors when the
// validator produced them, and a generic invalid request otherwise.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := &ValidationErrors{}
		for _, fe := range verrs {
			out.Errors = append(out.Errors, ValidationError{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: validationTagMessage(fe),
			})
		}
		return out
	}
	return invalidRequestError()
}

func validationTagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "url":
		return fe.Field() + " must be a URL"
	case "startswith":
		return fe.Field() + " must start with " + fe.Param()
	default:
		return "invalid value"
	}
}

// jsonFieldName makes validator report the JSON name of a field.
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}

func fieldErrors(fields map[string]string, code string) []ValidationError {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]ValidationError, 0, len(keys))
	for _, k := range keys {
		out = append(out, ValidationError{Field: k, Code: code, Message: fields[k]})
	}
	return out
}

// errorRule maps any of errs to a fixed response. Rules are checked in order.
type errorRule struct {
	errs    []error
	status  int
	typ     string
	message string
}

var errorRules = []errorRule{
	{[]error{apikeydomain.ErrInvalidKeyFormat}, http.StatusUnauthorized,
		"invalid_api_key_format", "API key must be a bearer token starting with " + apikeydomain.KeyPrefix},
	{[]error{apikeydomain.ErrInvalidCredential}, http.StatusUnauthorized,
		"invalid_credential", "invalid API key"},
	{[]error{intakedomain.ErrInvalidSignature, signature.ErrSignatureInvalid, signature.ErrSignatureMissing}, http.StatusUnauthorized,
		"invalid_signature", "invalid signature"},
	{[]error{agentdomain.ErrSecretMissing, agentdomain.ErrInvalidSecret}, http.StatusUnauthorized,
		"unauthorized", "invalid agent secret"},
	{[]error{ErrUnauthorized, intakedomain.ErrUnauthorized, identity.ErrTokenMissing, identity.ErrTokenInvalid, identity.ErrInvalidRoleClaim}, http.StatusUnauthorized,
		"unauthorized", "unauthorized"},
	{[]error{ErrForbidden, authorization.ErrForbidden}, http.StatusForbidden,
		"forbidden", "forbidden"},
	{[]error{jobdomain.ErrNotRequeueable}, http.StatusConflict,
		"conflict", "only failed jobs can be requeued"},
	{[]error{ErrConflict}, http.StatusConflict,
		"conflict", "conflict"},
	{[]error{ErrNotFound, apikeydomain.ErrNotFound, agentdomain.ErrNotFound, taskdomain.ErrNotFound, subdomain.ErrNotFound, jobdomain.ErrNotFound, gorm.ErrRecordNotFound}, http.StatusNotFound,
		"not_found", "not found"},
	{[]error{ErrRateLimited}, http.StatusTooManyRequests,
		"rate_limited", "too many requests"},
	{[]error{push.ErrPushNotConfigured, push.ErrInvalidSubject}, http.StatusInternalServerError,
		"push_not_configured", "VAPID keys are not configured"},
	{[]error{agentdomain.ErrSecretNotConfigured}, http.StatusInternalServerError,
		"webhook_secret_not_configured", "webhook secret is not configured"},
	{[]error{ErrServiceUnavailable}, http.StatusServiceUnavailable,
		"service_unavailable", "service unavailable"},
}

func (r errorRule) matches(err error) bool {
	for _, target := range r.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var internalErrorPayload = errorPayload{Type: "internal_error", Message: "internal server error"}

func validationPayload(message string, fields []ValidationError) errorPayload {
	return errorPayload{Type: "validation_error", Message: message, Errors: fields}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalErrorPayload
	}

	var (
		intakeErr  *intakedomain.ValidationError
		payloadErr *agentdomain.PayloadError
		syntaxErr  *json.SyntaxError
	)
	switch vErr := asValidationErrors(err); {
	case vErr != nil:
		return http.StatusBadRequest, validationPayload("validation error", vErr.Errors)
	case errors.As(err, &intakeErr):
		return http.StatusBadRequest, validationPayload("validation error", fieldErrors(intakeErr.Fields, "invalid"))
	case errors.As(err, &payloadErr):
		return http.StatusBadRequest, validationPayload("invalid payload", fieldErrors(payloadErr.Fields, "invalid_payload"))
	case errors.As(err, &syntaxErr):
		return http.StatusBadRequest, validationPayload("invalid JSON body", nil)
	}

	if code := validationErrorCode(err); code != "" {
		return http.StatusBadRequest, validationPayload("validation error", []ValidationError{{
			Field:   strings.TrimPrefix(code, "invalid_"),
			Code:    code,
			Message: validationErrorMessage(code),
		}})
	}

	for _, rule := range errorRules {
		if rule.matches(err) {
			return rule.status, errorPayload{Type: rule.typ, Message: rule.message}
		}
	}
	return http.StatusInternalServerError, internalErrorPayload
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	apikeydomain.ErrInvalidName,
	apikeydomain.ErrInvalidKeyID,
	agentdomain.ErrInvalidAgentID,
	agentdomain.ErrInvalidName,
	taskdomain.ErrInvalidTaskID,
	subdomain.ErrInvalidEndpoint,
	subdomain.ErrInvalidKeys,
	jobdomain.ErrInvalidJobID,
	jobdomain.ErrInvalidStatus,
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_agent_id":
		return "agent id must be a UUID"
	default:
		return "invalid value"
	}
}
