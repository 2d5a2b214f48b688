package jobs

import "strings"

// ValidatePayload checks the payload type for t and its required IDs.
func ValidatePayload(t JobType, payload any) error {
	if !t.IsValid() {
		return ErrInvalidJobType
	}

	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch t {
	case TypeCreditAward:
		var p CreditAwardPayload
		switch v := payload.(type) {
		case CreditAwardPayload:
			p = v
		case *CreditAwardPayload:
			p = *v
		default:
			return ErrPayloadTypeMismatch
		}
		if blank(p.ActivityID) || blank(p.UserID) || p.Credits < 0 {
			return ErrInvalidJobPayload
		}
		return nil

	case TypeCreditRevoke:
		var p CreditRevokePayload
		switch v := payload.(type) {
		case CreditRevokePayload:
			p = v
		case *CreditRevokePayload:
			p = *v
		default:
			return ErrPayloadTypeMismatch
		}
		if blank(p.ActivityID) || blank(p.UserID) {
			return ErrInvalidJobPayload
		}
		return nil

	default:
		return ErrInvalidJobType
	}
}
