package v1

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/metapharm/rxgate/internal/domain/patient"
	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/internal/service"
)

// Report binding failures under the json field names clients actually sent.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Fields []string `json:"fields"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

func respondServiceError(c *gin.Context, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Code:   "validation_error",
			Fields: validErr.Fields,
		})
		return
	}

	var transitionErr *prescription.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: transitionErr.Error(),
			Code:  "invalid_transition",
		})
		return
	}

	var transcriptionErr *service.TranscriptionError
	if errors.As(err, &transcriptionErr) {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "transcription provider unavailable",
			Code:  "transcription_failed",
		})
		return
	}

	var safetyErr *service.SafetyCheckError
	if errors.As(err, &safetyErr) {
		// Causes are prefixed with the checker name.
		details := make(map[string]string, len(safetyErr.Causes))
		for _, cause := range safetyErr.Causes {
			name, detail, ok := strings.Cut(cause.Error(), ": ")
			if !ok {
				name, detail = "check", cause.Error()
			}
			details[name] = detail
		}
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "safety evaluation unavailable",
			Code:    "safety_check_failed",
			Details: details,
		})
		return
	}

	var conflictErr *service.ConcurrencyConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: conflictErr.Error(),
			Code:  "version_conflict",
		})
		return
	}

	switch {
	case errors.Is(err, prescription.ErrRecordNotFound),
		errors.Is(err, patient.ErrPatientNotFound),
		errors.Is(err, prescription.ErrLineItemNotFound),
		errors.Is(err, prescription.ErrFindingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, prescription.ErrUnknownField),
		errors.Is(err, prescription.ErrInvalidQuantity),
		errors.Is(err, prescription.ErrReasonRequired),
		errors.Is(err, prescription.ErrQuestionRequired),
		errors.Is(err, prescription.ErrAnswerRequired):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// bindOptionalJSON binds the body when one is present. Decision endpoints
// whose fields are optional or enforced by the domain accept an empty request.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, obj)
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			c.JSON(http.StatusBadRequest, ValidationErrorResponse{
				Error:  "validation failed",
				Code:   "validation_error",
				Fields: fields,
			})
			return false
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}

	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseItemIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid index: must be a non-negative integer"})
		return 0, false
	}
	return idx, true
}

func parseField(c *gin.Context) (prescription.Field, bool) {
	field := prescription.Field(c.Param("field"))
	if !field.IsValid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid field: " + c.Param("field")})
		return "", false
	}
	return field, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}
