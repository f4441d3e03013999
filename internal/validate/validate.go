package validate

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Form and caption limits, shared with the kiosk UI through /api/limits.
const (
	MaxNameLength    = 100
	MaxPhoneLength   = 32
	MaxChildAge      = 120
	MaxCaptionLength = 1024 // Bot API caption limit, in characters
)

func checkLen(value string, max int, field string) string {
	if utf8.RuneCountInString(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func PromoterName(s string) string { return checkLen(s, MaxNameLength, "promoter name") }
func GuardianName(s string) string { return checkLen(s, MaxNameLength, "guardian name") }
func ChildName(s string) string    { return checkLen(s, MaxNameLength, "child name") }
func Caption(s string) string      { return checkLen(s, MaxCaptionLength, "caption") }

func Phone(s string) string {
	if msg := checkLen(s, MaxPhoneLength, "phone"); msg != "" {
		return msg
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
		default:
			return "phone may only contain digits, spaces and + - ( )"
		}
	}
	return ""
}

// ChildAge accepts an empty value or a whole number of years.
func ChildAge(s string) string {
	if s == "" {
		return ""
	}
	age, err := strconv.Atoi(s)
	if err != nil || age < 0 || age > MaxChildAge {
		return fmt.Sprintf("child age must be a whole number between 0 and %d", MaxChildAge)
	}
	return ""
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"promoterName": MaxNameLength,
		"guardianName": MaxNameLength,
		"childName":    MaxNameLength,
		"phone":        MaxPhoneLength,
		"childAge":     MaxChildAge,
		"caption":      MaxCaptionLength,
	}
}
