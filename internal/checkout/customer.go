package checkout

import (
	"errors"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/apotek-pos/internal/common"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Customer identifies who the order is billed to.
type Customer struct {
	Name       string `json:"customerName" validate:"required,max=100"`
	Phone      string `json:"customerPhone" validate:"required,len=10,numeric"`
	DoctorName string `json:"doctorName,omitempty" validate:"omitempty,max=100"`
}

// Normalize trims surrounding whitespace from every field.
func (c Customer) Normalize() Customer {
	return Customer{
		Name:       strings.TrimSpace(c.Name),
		Phone:      strings.TrimSpace(c.Phone),
		DoctorName: strings.TrimSpace(c.DoctorName),
	}
}

// IsZero reports whether no customer details were entered.
func (c Customer) IsZero() bool {
	return c == Customer{}
}

// Validate checks the customer fields. The first failing rule is reported as
// a *pricing.ValidationError.
func (c Customer) Validate() error {
	err := common.Validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Phone":
		return pricing.Invalid("customerPhone", "must be exactly 10 digits")
	case "Name":
		if fe.Tag() == "required" {
			return pricing.Invalid("customerName", "is required")
		}
		return pricing.Invalid("customerName", "must be at most 100 characters")
	default:
		return pricing.Invalid("doctorName", "must be at most 100 characters")
	}
}
