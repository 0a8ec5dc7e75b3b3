package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// NewValidator returns a validator that reports json field names and
// checks the decimal fields struct tags cannot express.
func NewValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(submitProductValidation, models.SubmitProductRequest{})
	v.RegisterStructValidation(editProductValidation, models.EditProductRequest{})
	v.RegisterStructValidation(moderateProductValidation, models.ModerateProductRequest{})

	return v
}

func submitProductValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(models.SubmitProductRequest)
	if req.Price.IsNegative() {
		sl.ReportError(req.Price, "price", "Price", "nonnegative", "")
	}
}

func editProductValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(models.EditProductRequest)
	if req.Price != nil && req.Price.IsNegative() {
		sl.ReportError(req.Price, "price", "Price", "nonnegative", "")
	}
}

func moderateProductValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(models.ModerateProductRequest)
	switch req.Action {
	case models.ModerationApprove:
	case models.ModerationReject:
		if strings.TrimSpace(req.Reason) == "" {
			sl.ReportError(req.Reason, "rejection_reason", "Reason", "required_on_reject", "")
		}
	default:
		sl.ReportError(req.Action, "action", "Action", "oneof", "approve reject")
	}
}

// validateStruct converts validator failures into a ValidationError with
// one message per field.
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperrors.NewValidationError("", err.Error())
	}

	details := make(map[string]string, len(ve))
	var first string
	for _, fe := range ve {
		field := fieldPath(fe)
		if first == "" {
			first = field
		}
		details[field] = fieldMessage(fe)
	}

	if len(details) == 1 {
		return &apperrors.ValidationError{Field: first, Message: details[first], Details: details}
	}
	return apperrors.NewValidationErrors("request validation failed", details)
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_on_reject":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "nonnegative":
		return "must not be negative"
	case "positive":
		return "must be greater than zero"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
