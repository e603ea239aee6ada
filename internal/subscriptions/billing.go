package subscriptions

import (
	"regexp"
	"strings"

	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
)

var (
	postalCodePattern = regexp.MustCompile(`^\d{4,6}$`)
	vatNumberPattern  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

// BillingDetails is the invoice-branch billing address. The card branch never
// sends it; the invoice branch must pass Validate before any processor call.
type BillingDetails struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	VATNumber  string `json:"vat_number,omitempty"`
}

// Validate applies the invoice-branch field rules and reports every failing
// field at once so the caller can render them inline.
func (b *BillingDetails) Validate() error {
	if b == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "billing details are required for invoice payment")
	}

	fieldErrors := map[string]string{}
	if strings.TrimSpace(b.Name) == "" {
		fieldErrors["name"] = "Name is required."
	}
	if strings.TrimSpace(b.Address) == "" {
		fieldErrors["address"] = "Address is required."
	}
	if strings.TrimSpace(b.City) == "" {
		fieldErrors["city"] = "City is required."
	}
	if !postalCodePattern.MatchString(strings.TrimSpace(b.PostalCode)) {
		fieldErrors["postal_code"] = "Valid postal code is required."
	}
	if vat := strings.TrimSpace(b.VATNumber); vat != "" && !vatNumberPattern.MatchString(vat) {
		fieldErrors["vat_number"] = "VAT number may only contain letters, digits, and hyphens."
	}

	if len(fieldErrors) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid billing details").WithDetails(fieldErrors)
	}
	return nil
}
