package connect

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var (
	mobilePattern  = regexp.MustCompile(`^\d{10}$`)
	pinCodePattern = regexp.MustCompile(`^\d{6}$`)
	otpPattern     = regexp.MustCompile(`^\d{6}$`)
)

// FieldErrors maps a field wire name to its message
type FieldErrors map[string]string

// Merge copies other into e, keeping existing keys
func (e FieldErrors) Merge(other FieldErrors) FieldErrors {
	if e == nil {
		e = FieldErrors{}
	}
	for k, v := range other {
		if _, ok := e[k]; !ok {
			e[k] = v
		}
	}
	return e
}

// ProfileFields are the inputs owned by the first step
var ProfileFields = []string{FieldCustomerTitle, FieldCustomerName, FieldMobileNo, FieldEmail, FieldCustomerType}

// AddressFields are the inputs owned by the second step
var AddressFields = []string{FieldDoorNo, FieldStreet, FieldPinCode, FieldArea}

func titleValues() []any {
	out := make([]any, 0, len(Titles))
	for _, t := range Titles {
		out = append(out, t)
	}
	return out
}

// ValidateProfile runs the pure rules of the profile step
func (r FormRecord) ValidateProfile() FieldErrors {
	return collectFieldErrors(validation.ValidateStruct(&r,
		validation.Field(
			&r.CustomerTitle,
			validation.Required.Error("Title is required"),
			validation.In(titleValues()...).Error("Title is required"),
		),
		validation.Field(
			&r.CustomerName,
			validation.Required.Error("Customer name is required"),
			validation.By(notBlank("Customer name is required")),
			validation.Length(2, 0).Error("Name must be at least 2 characters"),
		),
		validation.Field(
			&r.MobileNo,
			validation.Required.Error("Mobile number is required"),
			validation.Match(mobilePattern).Error("Mobile number must be 10 digits"),
		),
		validation.Field(
			&r.Email,
			validation.Required.Error("Email ID is required"),
			is.Email.Error("Invalid email format"),
		),
		validation.Field(
			&r.CustomerType,
			validation.Required.Error("Customer type is required"),
			validation.In(CustomerTypeNew, CustomerTypeExisting).Error("Customer type is required"),
		),
	))
}

// ValidateAddress runs the pure rules of the address step
func (r FormRecord) ValidateAddress() FieldErrors {
	return collectFieldErrors(validation.ValidateStruct(&r,
		validation.Field(&r.DoorNo, validation.Required.Error("Door number is required")),
		validation.Field(
			&r.Street,
			validation.Required.Error("Street is required"),
			validation.Length(0, 30).Error("Street name must be 30 characters or less"),
		),
		validation.Field(
			&r.PinCode,
			validation.Required.Error("Pin code is required"),
			validation.Match(pinCodePattern).Error("Pin code must be 6 digits"),
		),
		validation.Field(&r.Area, validation.Required.Error("Area is required")),
	))
}

// ValidateAll is the union of every step validator
func (r FormRecord) ValidateAll() FieldErrors {
	return r.ValidateProfile().Merge(r.ValidateAddress())
}

// IsValidMobile reports whether s is exactly ten digits
func IsValidMobile(s string) bool {
	return mobilePattern.MatchString(s)
}

// IsValidPinCode reports whether s is exactly six digits
func IsValidPinCode(s string) bool {
	return pinCodePattern.MatchString(s)
}

func notBlank(msg string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != "" && strings.TrimSpace(s) == "" {
			return errors.New(msg)
		}
		return nil
	}
}

func collectFieldErrors(err error) FieldErrors {
	out := FieldErrors{}
	if err == nil {
		return out
	}

	errs, ok := err.(validation.Errors)
	if !ok {
		out["form"] = err.Error()
		return out
	}

	for field, fe := range errs {
		if fe != nil {
			out[field] = fe.Error()
		}
	}
	return out
}
