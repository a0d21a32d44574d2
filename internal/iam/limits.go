package iam

import "github.com/shopspring/decimal"

// EffectiveLimits folds the limits of every role a user holds into one
// effective quota set. Numeric ceilings take the maximum across roles: higher
// privilege roles are additive grants, so the most permissive role wins.
// Security booleans take the OR: restrictive postures are conjunctive, so any
// role requiring one turns it on. Union of privileges, intersection of
// restrictions. The asymmetry is deliberate and must not be "simplified".
//
// A user with zero roles gets the zero value of every limit and fails closed
// on any gated action.
func EffectiveLimits(roles []Role) RoleLimits {
	var eff RoleLimits
	for _, role := range roles {
		l := role.Limits

		eff.Financial.MaxDiscountPercent = decimalMax(eff.Financial.MaxDiscountPercent, l.Financial.MaxDiscountPercent)
		eff.Financial.MaxRefundAmount = decimalMax(eff.Financial.MaxRefundAmount, l.Financial.MaxRefundAmount)
		eff.Financial.MaxCreditAmount = decimalMax(eff.Financial.MaxCreditAmount, l.Financial.MaxCreditAmount)
		eff.Financial.MaxCashTransaction = decimalMax(eff.Financial.MaxCashTransaction, l.Financial.MaxCashTransaction)

		eff.DataAccess.MaxRecordsPerQuery = intMax(eff.DataAccess.MaxRecordsPerQuery, l.DataAccess.MaxRecordsPerQuery)
		eff.DataAccess.MaxExportRows = intMax(eff.DataAccess.MaxExportRows, l.DataAccess.MaxExportRows)

		eff.Security.IPWhitelistEnabled = eff.Security.IPWhitelistEnabled || l.Security.IPWhitelistEnabled
		eff.Security.LoginTimeRestricted = eff.Security.LoginTimeRestricted || l.Security.LoginTimeRestricted
		eff.Security.MaxConcurrentSessions = intMax(eff.Security.MaxConcurrentSessions, l.Security.MaxConcurrentSessions)

		eff.Approval.CanApproveDiscounts = eff.Approval.CanApproveDiscounts || l.Approval.CanApproveDiscounts
		eff.Approval.CanApproveRefunds = eff.Approval.CanApproveRefunds || l.Approval.CanApproveRefunds
		eff.Approval.ApprovalThreshold = decimalMax(eff.Approval.ApprovalThreshold, l.Approval.ApprovalThreshold)
	}
	return eff
}

func decimalMax(a, b decimal.Decimal) decimal.Decimal {
	if b.GreaterThan(a) {
		return b
	}
	return a
}

func intMax(a, b int) int {
	if b > a {
		return b
	}
	return a
}
