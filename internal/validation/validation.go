// Package validation contains input validation helpers.
package validation

import "strings"

// Currencies accepted at checkout and intent creation.
var supportedCurrencies = map[string]struct{}{
	"usd": {},
	"eur": {},
	"gbp": {},
	"cny": {},
	"hkd": {},
	"sgd": {},
	"aud": {},
}

// IsValidCurrency reports whether the code is a supported ISO currency.
func IsValidCurrency(code string) bool {
	_, ok := supportedCurrencies[strings.ToLower(code)]
	return ok
}

// IsValidOrderID reports whether the value looks like a platform order id:
// non-empty, no whitespace, and of sane length.
func IsValidOrderID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return !strings.ContainsAny(id, " \t\r\n")
}

// Tracking status keywords that move an order to the shipped state.
var shippedStatuses = map[string]struct{}{
	"shipped":          {},
	"in_transit":       {},
	"out_for_delivery": {},
}

// IsShippedStatus reports whether a tracking status keyword means the parcel
// has left the warehouse.
func IsShippedStatus(status string) bool {
	_, ok := shippedStatuses[strings.ToLower(status)]
	return ok
}

// IsDeliveredStatus reports whether a tracking status keyword means delivery.
func IsDeliveredStatus(status string) bool {
	return strings.ToLower(status) == "delivered"
}
