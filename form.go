package connect

import (
	"slices"
	"strings"
)

const (
	FieldCustomerTitle    = "customerTitle"
	FieldCustomerName     = "customerName"
	FieldMobileNo         = "mobileNo"
	FieldCustomerType     = "CustomerType"
	FieldDoorNo           = "doorNo"
	FieldStreet           = "street"
	FieldPinCode          = "pinCode"
	FieldArea             = "area"
	FieldCity             = "city"
	FieldState            = "state"
	FieldTaluk            = "taluk"
	FieldDateOfBirth      = "dateOfBirth"
	FieldEmail            = "email"
	FieldProfessional     = "professional"
	FieldAdhaarNo         = "adhaarNo"
	FieldPanNo            = "panNo"
	FieldEcno             = "ecno"
	FieldReferenceCode    = "referenceCode"
	FieldPurchaseWithSKTM = "purchase_with_sktm"
	FieldPurchaseWithTCS  = "purchase_with_tcs"
	FieldSCMGarments      = "scm_garments"
	FieldChitWithSKTM     = "chit_with_sktm"
)

const (
	CustomerTypeNew      = "NewCustomer"
	CustomerTypeExisting = "ExistingCustomer"

	FlagYes = "Yes"
	FlagNo  = "No"
)

// Titles lists the accepted salutations
var Titles = []string{"Mr.", "Ms.", "Mrs."}

// FlagFields are the customer type flags, defaulted to "No"
var FlagFields = []string{
	FieldPurchaseWithSKTM,
	FieldPurchaseWithTCS,
	FieldSCMGarments,
	FieldChitWithSKTM,
}

// ReadOnlyFields are filled by the pin code lookup or the registration link, never by the visitor
var ReadOnlyFields = []string{FieldCity, FieldState, FieldTaluk, FieldEcno, FieldReferenceCode}

// DerivedAddressFields are filled by the pin code lookup and cleared on every pin code change
var DerivedAddressFields = []string{FieldArea, FieldCity, FieldState, FieldTaluk}

// FormRecord holds the registrant fields. Every field has a non nil default.
type FormRecord struct {
	CustomerTitle    string `json:"customerTitle"`
	CustomerName     string `json:"customerName"`
	MobileNo         string `json:"mobileNo"`
	CustomerType     string `json:"CustomerType"`
	DoorNo           string `json:"doorNo"`
	Street           string `json:"street"`
	PinCode          string `json:"pinCode"`
	DateOfBirth      string `json:"dateOfBirth"`
	Email            string `json:"email"`
	Professional     string `json:"professional"`
	PurchaseWithSKTM string `json:"purchase_with_sktm"`
	PurchaseWithTCS  string `json:"purchase_with_tcs"`
	SCMGarments      string `json:"scm_garments"`
	ChitWithSKTM     string `json:"chit_with_sktm"`
	AdhaarNo         string `json:"adhaarNo"`
	PanNo            string `json:"panNo"`
	Area             string `json:"area"`
	City             string `json:"city"`
	State            string `json:"state"`
	Taluk            string `json:"taluk"`
	Ecno             string `json:"ecno"`
	ReferenceCode    string `json:"referenceCode"`
}

// NewFormRecord returns a record with every field at its default
func NewFormRecord() FormRecord {
	r := FormRecord{}
	r.Normalize()
	return r
}

// Normalize restores defaults for fields that decoded as empty where a default exists
func (r *FormRecord) Normalize() {
	for _, name := range FlagFields {
		p := r.field(name)
		if *p != FlagYes {
			*p = FlagNo
		}
	}
}

// Get returns the value of a field by its wire name
func (r *FormRecord) Get(name string) (string, bool) {
	p := r.field(name)
	if p == nil {
		return "", false
	}
	return *p, true
}

// Set assigns a field by its wire name
func (r *FormRecord) Set(name, value string) error {
	p := r.field(name)
	if p == nil {
		return ErrUnknownField
	}

	if isFlagField(name) {
		if strings.EqualFold(value, FlagYes) {
			value = FlagYes
		} else {
			value = FlagNo
		}
	}

	*p = value
	return nil
}

// ToggleFlag flips a customer type flag between Yes and No
func (r *FormRecord) ToggleFlag(name string) error {
	if !isFlagField(name) {
		return ErrUnknownField
	}
	p := r.field(name)
	if *p == FlagYes {
		*p = FlagNo
	} else {
		*p = FlagYes
	}
	return nil
}

// ClearDerivedAddress empties the fields owned by the pin code lookup
func (r *FormRecord) ClearDerivedAddress() {
	for _, name := range DerivedAddressFields {
		*r.field(name) = ""
	}
}

func (r *FormRecord) field(name string) *string {
	switch name {
	case FieldCustomerTitle:
		return &r.CustomerTitle
	case FieldCustomerName:
		return &r.CustomerName
	case FieldMobileNo:
		return &r.MobileNo
	case FieldCustomerType:
		return &r.CustomerType
	case FieldDoorNo:
		return &r.DoorNo
	case FieldStreet:
		return &r.Street
	case FieldPinCode:
		return &r.PinCode
	case FieldDateOfBirth:
		return &r.DateOfBirth
	case FieldEmail:
		return &r.Email
	case FieldProfessional:
		return &r.Professional
	case FieldPurchaseWithSKTM:
		return &r.PurchaseWithSKTM
	case FieldPurchaseWithTCS:
		return &r.PurchaseWithTCS
	case FieldSCMGarments:
		return &r.SCMGarments
	case FieldChitWithSKTM:
		return &r.ChitWithSKTM
	case FieldAdhaarNo:
		return &r.AdhaarNo
	case FieldPanNo:
		return &r.PanNo
	case FieldArea:
		return &r.Area
	case FieldCity:
		return &r.City
	case FieldState:
		return &r.State
	case FieldTaluk:
		return &r.Taluk
	case FieldEcno:
		return &r.Ecno
	case FieldReferenceCode:
		return &r.ReferenceCode
	}
	return nil
}

func isFlagField(name string) bool {
	return slices.Contains(FlagFields, name)
}

func onlyDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
