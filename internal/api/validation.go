package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// registerValidators teaches gin's validator the domain tags used by the
// request structs and makes field errors report json names.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, key := range []string{"json", "form"} {
				if tag := strings.SplitN(f.Tag.Get(key), ",", 2)[0]; tag != "" && tag != "-" {
					return tag
				}
			}
			return f.Name
		})
		_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
			return models.PaymentMethod(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("tracking_status", func(fl validator.FieldLevel) bool {
			_, ok := models.ParseTrackingStatus(fl.Field().String())
			return ok
		})
	})
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "payment_method":
		return "must be one of mpesa, bank, cash"
	case "tracking_status":
		return "must be one of picked_up, in_transit, delayed, delivered"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// bindError turns a gin binding failure into a VALIDATION_ERROR with per-field details.
func bindError(err error) *errs.Error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := errs.New(errs.CodeValidation, "validation failed")
		for _, fe := range fieldErrs {
			out.With(fe.Field(), validationMessage(fe))
		}
		return out
	}
	return errs.Wrap(errs.CodeValidation, err, "invalid request body")
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		writeError(c, bindError(err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, dest any) bool {
	if err := c.ShouldBindQuery(dest); err != nil {
		writeError(c, bindError(err))
		return false
	}
	return true
}
