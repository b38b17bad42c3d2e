// Package validator checks document requests before they reach storage.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/errors"
)

const (
	maxTextLength = 1048576
	maxListLimit  = 100
	defaultLimit  = 20
)

var validate = newValidate()

func newValidate() *playground.Validate {
	v := playground.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// maxbytes bounds a string by its encoded size; max counts runes.
	if err := v.RegisterValidation("maxbytes", func(fl playground.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// ValidateCreateRequest requires a text field of at most 1 MiB. Empty text is
// accepted; it is stored without any terms.
func ValidateCreateRequest(req *ingestion.CreateRequest) error {
	return check(req, nil)
}

type page struct {
	Limit  int `json:"limit" validate:"min=1"`
	Offset int `json:"offset" validate:"min=0"`
}

// ParsePage reads the limit and offset query parameters of a listing.
// Missing values default to 20 and 0; limit is capped at 100.
func ParsePage(rawLimit, rawOffset string) (limit, offset int, err error) {
	errs := make(map[string]string)
	p := page{Limit: defaultLimit}
	if rawLimit != "" {
		if p.Limit, err = strconv.Atoi(rawLimit); err != nil {
			errs["limit"] = "limit must be a positive integer"
		}
	}
	if rawOffset != "" {
		if p.Offset, err = strconv.Atoi(rawOffset); err != nil {
			errs["offset"] = "offset must be a non-negative integer"
		}
	}
	if err := check(&p, errs); err != nil {
		return 0, 0, err
	}
	return min(p.Limit, maxListLimit), p.Offset, nil
}

// check runs the struct tags of s and merges their failures into errs.
func check(s any, errs map[string]string) error {
	if errs == nil {
		errs = make(map[string]string)
	}
	var fieldErrs playground.ValidationErrors
	if err := validate.Struct(s); errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if _, seen := errs[fe.Field()]; !seen {
				errs[fe.Field()] = message(fe)
			}
		}
	} else if err != nil {
		return err
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func message(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "maxbytes":
		return fmt.Sprintf("%s must be at most %s bytes", fe.Field(), fe.Param())
	case "min":
		if fe.Param() == "0" {
			return fe.Field() + " must be a non-negative integer"
		}
		return fe.Field() + " must be a positive integer"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
