package chatwoot

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	userSuffix      = "@s.whatsapp.net"
	groupSuffix     = "@g.us"
	broadcastSuffix = "@broadcast"
)

var nonDigits = regexp.MustCompile(`\D`)

// PhoneNormalizer maps between raw phone digits and the canonical E.164
// form used as the Chatwoot contact phone number. Implementations may also
// produce merge variants: alternate numbers that represent the same line
// (mobile-digit quirks and the like) and should collapse into one contact.
type PhoneNormalizer interface {
	// Normalize returns the number in E.164 ("+5511999999999").
	Normalize(digits string) string
	// MergeVariants returns every identifier that may refer to the same
	// line, including the input itself.
	MergeVariants(digits string) []string
}

// BrazilianNormalizer handles the 2012 ninth-digit rollout: mobile numbers
// exist in the wild both with and without the leading 9, so both forms
// must resolve to the same contact.
type BrazilianNormalizer struct{}

func NewBrazilianNormalizer() *BrazilianNormalizer { return &BrazilianNormalizer{} }

func (n *BrazilianNormalizer) Normalize(digits string) string {
	digits = nonDigits.ReplaceAllString(digits, "")
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "55") && len(digits) == 12 {
		// 55 + DDD + 8 digits: insert the ninth digit for mobile ranges.
		ddd := digits[2:4]
		subscriber := digits[4:]
		if isBrazilianMobile(subscriber) {
			return fmt.Sprintf("+55%s9%s", ddd, subscriber)
		}
	}
	return "+" + digits
}

func (n *BrazilianNormalizer) MergeVariants(digits string) []string {
	digits = nonDigits.ReplaceAllString(digits, "")
	variants := []string{digits}
	if !strings.HasPrefix(digits, "55") {
		return variants
	}
	switch len(digits) {
	case 13: // with ninth digit: add the form without it
		if digits[4] == '9' {
			variants = append(variants, digits[:4]+digits[5:])
		}
	case 12: // without ninth digit: add the form with it
		if isBrazilianMobile(digits[4:]) {
			variants = append(variants, digits[:4]+"9"+digits[4:])
		}
	}
	return variants
}

// isBrazilianMobile reports whether an 8-digit subscriber number belongs
// to a mobile range (first digit 6-9).
func isBrazilianMobile(subscriber string) bool {
	if len(subscriber) != 8 {
		return false
	}
	return subscriber[0] >= '6' && subscriber[0] <= '9'
}

// PassthroughNormalizer applies no regional rules.
type PassthroughNormalizer struct{}

func (PassthroughNormalizer) Normalize(digits string) string {
	digits = nonDigits.ReplaceAllString(digits, "")
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func (PassthroughNormalizer) MergeVariants(digits string) []string {
	return []string{nonDigits.ReplaceAllString(digits, "")}
}

// IsGroupJID reports whether the JID addresses a WhatsApp group.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, groupSuffix)
}

func IsBroadcastJID(jid string) bool {
	return strings.HasSuffix(jid, broadcastSuffix)
}

// IsValidJID accepts user and group JIDs; broadcasts and statuses are not
// syncable.
func IsValidJID(jid string) bool {
	if jid == "" || IsBroadcastJID(jid) {
		return false
	}
	return strings.HasSuffix(jid, userSuffix) || strings.HasSuffix(jid, groupSuffix)
}

// PhoneFromJID extracts the bare number from a user JID. Groups have no
// phone number.
func PhoneFromJID(jid string) string {
	if IsGroupJID(jid) {
		return ""
	}
	user := jid
	if idx := strings.Index(jid, "@"); idx >= 0 {
		user = jid[:idx]
	}
	if idx := strings.Index(user, ":"); idx >= 0 {
		user = user[:idx]
	}
	return nonDigits.ReplaceAllString(user, "")
}

// JIDFromPhone builds a user JID from raw phone input.
func JIDFromPhone(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	if digits == "" {
		return ""
	}
	return digits + userSuffix
}
