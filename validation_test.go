package connect_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	connect "github.com/goliatone/go-connect"
)

func validProfile() connect.FormRecord {
	r := connect.NewFormRecord()
	r.CustomerTitle = "Mr."
	r.CustomerName = "Ravi Kumar"
	r.MobileNo = "9876543210"
	r.Email = "ravi@example.com"
	r.CustomerType = connect.CustomerTypeNew
	return r
}

func validAddress(r connect.FormRecord) connect.FormRecord {
	r.DoorNo = "12"
	r.Street = "Gandhi Street"
	r.PinCode = "600001"
	r.Area = "Parrys"
	r.City = "Chennai"
	r.State = "Tamil Nadu"
	return r
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *connect.FormRecord)
		field   string
		message string
	}{
		{
			name:    "missing title",
			mutate:  func(r *connect.FormRecord) { r.CustomerTitle = "" },
			field:   connect.FieldCustomerTitle,
			message: "Title is required",
		},
		{
			name:    "unknown title",
			mutate:  func(r *connect.FormRecord) { r.CustomerTitle = "Dr." },
			field:   connect.FieldCustomerTitle,
			message: "Title is required",
		},
		{
			name:    "blank name",
			mutate:  func(r *connect.FormRecord) { r.CustomerName = "   " },
			field:   connect.FieldCustomerName,
			message: "Customer name is required",
		},
		{
			name:    "short name",
			mutate:  func(r *connect.FormRecord) { r.CustomerName = "A" },
			field:   connect.FieldCustomerName,
			message: "Name must be at least 2 characters",
		},
		{
			name:    "nine digit mobile",
			mutate:  func(r *connect.FormRecord) { r.MobileNo = "987654321" },
			field:   connect.FieldMobileNo,
			message: "Mobile number must be 10 digits",
		},
		{
			name:    "mobile with letters",
			mutate:  func(r *connect.FormRecord) { r.MobileNo = "98765abc10" },
			field:   connect.FieldMobileNo,
			message: "Mobile number must be 10 digits",
		},
		{
			name:    "bad email",
			mutate:  func(r *connect.FormRecord) { r.Email = "ravi@" },
			field:   connect.FieldEmail,
			message: "Invalid email format",
		},
		{
			name:    "missing customer type",
			mutate:  func(r *connect.FormRecord) { r.CustomerType = "" },
			field:   connect.FieldCustomerType,
			message: "Customer type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validProfile()
			tt.mutate(&r)

			errs := r.ValidateProfile()
			assert.Equal(t, tt.message, errs[tt.field])
		})
	}
}

func TestValidateProfileAcceptsValidRecord(t *testing.T) {
	assert.Empty(t, validProfile().ValidateProfile())
}

func TestValidateAddress(t *testing.T) {
	r := validAddress(connect.NewFormRecord())
	assert.Empty(t, r.ValidateAddress())

	r.Street = strings.Repeat("x", 31)
	r.PinCode = "6000"
	r.Area = ""

	errs := r.ValidateAddress()
	assert.Equal(t, "Street name must be 30 characters or less", errs[connect.FieldStreet])
	assert.Equal(t, "Pin code must be 6 digits", errs[connect.FieldPinCode])
	assert.Equal(t, "Area is required", errs[connect.FieldArea])
}

func TestValidateAllMergesSteps(t *testing.T) {
	r := connect.NewFormRecord()
	errs := r.ValidateAll()

	assert.Contains(t, errs, connect.FieldCustomerName)
	assert.Contains(t, errs, connect.FieldDoorNo)
	assert.Empty(t, validAddress(validProfile()).ValidateAll())
}

func TestFieldErrorsMergeKeepsExisting(t *testing.T) {
	a := connect.FieldErrors{"mobileNo": "first"}
	out := a.Merge(connect.FieldErrors{"mobileNo": "second", "email": "bad"})

	assert.Equal(t, "first", out["mobileNo"])
	assert.Equal(t, "bad", out["email"])

	var empty connect.FieldErrors
	assert.Equal(t, connect.FieldErrors{"x": "y"}, empty.Merge(connect.FieldErrors{"x": "y"}))
}

func TestIsValidMobileAndPinCode(t *testing.T) {
	assert.True(t, connect.IsValidMobile("9876543210"))
	assert.False(t, connect.IsValidMobile("98765432101"))
	assert.True(t, connect.IsValidPinCode("600001"))
	assert.False(t, connect.IsValidPinCode("60001a"))
}
