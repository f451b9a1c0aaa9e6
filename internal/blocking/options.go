package blocking

// Options carries the tunable penalty/reward weights and thresholds for
// the decision engine. All values are read-only inputs loaded from
// configuration.
type Options struct {
	// Account credit debited by a correct-password login from a device
	// the account has never seen. A rarely-tried account keeps most of
	// its allowance; a hammered one runs dry.
	BaseCreditCost float64

	// Account credit debited when the device cookie is already trusted.
	// Zero means returning devices never spend the owner's allowance.
	TrustedDeviceCreditCost float64

	// Account credit debited by a wrong guess. Wrong guesses drain the
	// same windows, so a brute-forced account runs dry before its owner
	// is ever refused.
	InvalidGuessCreditCost float64

	// IP credit checked (all-or-nothing) when a correct password is
	// presented from the address.
	IPCreditCostValidPassword float64

	// IP credit burned by a wrong guess.
	IPPenaltyInvalidPassword float64

	// IP credit burned by a guess against a nonexistent account.
	IPPenaltyUnknownAccount float64

	// A password's popularity is suspicious when the binomial tail
	// probability of its distinct-account count falls below this.
	PopularityBlockThreshold float64

	// Popularity is ignored entirely below this many distinct accounts,
	// so small coincidences ("password1" twice) cost nothing.
	PopularityMinAccounts int

	// Shared fleet secret for deriving password popularity keys.
	FleetPepper string
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		BaseCreditCost:            1,
		TrustedDeviceCreditCost:   0,
		InvalidGuessCreditCost:    1,
		IPCreditCostValidPassword: 1,
		IPPenaltyInvalidPassword:  1,
		IPPenaltyUnknownAccount:   2,
		PopularityBlockThreshold:  0.001,
		PopularityMinAccounts:     10,
	}
}
