package jobs

type JobType string

const (
	// TypeCreditAward records the credits of a verified activity and tells the user.
	TypeCreditAward JobType = "activity.credit_award"
	// TypeCreditRevoke reverses an award when a verified activity is unverified.
	TypeCreditRevoke JobType = "activity.credit_revoke"
)

func (t JobType) IsValid() bool {
	switch t {
	case TypeCreditAward, TypeCreditRevoke:
		return true
	default:
		return false
	}
}

func (t JobType) String() string { return string(t) }
