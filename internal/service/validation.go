package service

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
)

// validationError converts validator output into a field-level AppError.
// Only the first failing field is reported.
func validationError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := toSnake(fe.Field())
		switch fe.Tag() {
		case "required":
			return apperrors.ValidationField(field, field+" is required")
		case "max", "min":
			return apperrors.ValidationField(field, field+" must have "+fe.Tag()+" length "+fe.Param())
		default:
			return apperrors.ValidationField(field, field+" is invalid ("+fe.Tag()+")")
		}
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidation, fallback)
}

// toSnake maps Go field names like TicketingBaseURL to ticketing_base_url.
func toSnake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
