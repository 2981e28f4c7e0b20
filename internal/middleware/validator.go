package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

// Input validation for the public endpoints

const maxRequestBody = 64 << 10

const (
	MsgInvalidJSON      = "Invalid JSON body"
	MsgInvalidInput     = "Invalid input"
	MsgMissingRequestID = "Missing requestId"
)

// Age accepts a JSON integer or a numeric string. Fractions are rejected.
type Age int

type ageError struct{ reason string }

func (e *ageError) Error() string { return "age " + e.reason }

func (a *Age) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return &ageError{reason: "must be a number"}
		}
		raw = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return &ageError{reason: "must be a number"}
	}
	if f != math.Trunc(f) {
		return &ageError{reason: "must be an integer"}
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return &ageError{reason: "is out of range"}
	}
	*a = Age(int(f))
	return nil
}

// AnalyzeRequest is the POST /analyze body. Pointer fields distinguish
// missing from zero values.
type AnalyzeRequest struct {
	Name        *string `json:"name" validate:"required,min=1,max=100"`
	Age         *Age    `json:"age" validate:"required,min=0,max=120"`
	Description *string `json:"description" validate:"required,min=1,max=500"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodeAnalyzeRequest parses and validates a create body. Every rejection
// is a *domain.ValidationError; string lengths are counted in characters.
func DecodeAnalyzeRequest(body io.Reader) (domain.Input, error) {
	var req AnalyzeRequest
	if err := json.NewDecoder(io.LimitReader(body, maxRequestBody)).Decode(&req); err != nil {
		return domain.Input{}, decodeError(err)
	}

	if err := getValidator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.Input{}, errors.Wrap(err, "validate analyze request")
		}
		issues := make([]domain.Issue, 0, len(verrs))
		for _, fe := range verrs {
			issues = append(issues, issueFor(fe))
		}
		return domain.Input{}, &domain.ValidationError{Message: MsgInvalidInput, Details: issues}
	}

	return domain.Input{
		Name:        *req.Name,
		Age:         int(*req.Age),
		Description: *req.Description,
	}, nil
}

func decodeError(err error) error {
	var ae *ageError
	if errors.As(err, &ae) {
		return &domain.ValidationError{
			Message: MsgInvalidInput,
			Details: []domain.Issue{{Field: "age", Rule: "type", Message: ae.Error()}},
		}
	}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		field := te.Field
		if field == "" {
			field = "body"
		}
		return &domain.ValidationError{
			Message: MsgInvalidInput,
			Details: []domain.Issue{{Field: field, Rule: "type", Message: fmt.Sprintf("%s must be %s", field, te.Type.String())}},
		}
	}
	return &domain.ValidationError{Message: MsgInvalidJSON}
}

func issueFor(fe validator.FieldError) domain.Issue {
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "min":
		if fe.Kind() == reflect.String {
			msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		} else {
			msg = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		}
	case "max":
		if fe.Kind() == reflect.String {
			msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		} else {
			msg = fmt.Sprintf("%s must be at most %s", field, fe.Param())
		}
	default:
		msg = field + " is invalid"
	}
	return domain.Issue{Field: field, Rule: fe.Tag(), Message: msg}
}

// DecodeWebhookRequest extracts requestId from a queue delivery body.
func DecodeWebhookRequest(body io.Reader) (domain.ID, error) {
	var req struct {
		RequestID any `json:"requestId"`
	}
	if err := json.NewDecoder(io.LimitReader(body, maxRequestBody)).Decode(&req); err != nil {
		return "", &domain.ValidationError{Message: MsgInvalidJSON}
	}
	id, ok := req.RequestID.(string)
	if !ok || strings.TrimSpace(id) == "" {
		return "", &domain.ValidationError{Message: MsgMissingRequestID}
	}
	return domain.ID(id), nil
}

// ValidateRequestID checks the request id is a UUID. Malformed ids are
// reported as not found.
func ValidateRequestID(id string) error {
	if id == "" {
		return errors.Wrap(domain.ErrNotFound, "request id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.Wrapf(domain.ErrNotFound, "invalid request id %q", id)
	}
	return nil
}
