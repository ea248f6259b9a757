/*
cashback.go - Cashback accrual rule (pure computation)

PURPOSE:
  Decides how much cashback a cash payment earns. The rule is stepped and
  capped per calendar day:

    every full StepSize of CUMULATIVE same-day cash paid
      -> one RewardPerStep of cashback
    total earned per member per day is capped at DailyCap

  The computation is deliberately expressed over cumulative-to-date
  figures rather than per-payment deltas:

    earned = min(DailyCap, floor(cumCash/StepSize)*RewardPerStep) - priorEarned

  so splitting one 45,000 payment into three 15,000 payments yields the
  same total as the lump sum, regardless of ordering. Replaying the same
  inputs produces the same output (idempotent), and earned never goes
  negative even when priorEarned already sits at the cap.

SCOPE:
  The rule engine knows nothing about members, ledgers, or membership
  status. The orchestrator gates on active membership and cash-paid>0
  before calling in; payments made entirely with cashback never reach
  this code (cashback does not compound on itself).
*/
package loyalty

// CashbackPolicy holds the accrual constants.
type CashbackPolicy struct {
	// StepSize is the cumulative same-day cash required per reward step.
	StepSize Money

	// RewardPerStep is the cashback granted per full step.
	RewardPerStep Money

	// DailyCap bounds the total cashback a member earns per civil day.
	DailyCap Money
}

// DefaultCashbackPolicy returns the production constants:
// 15,000 cash per step, 2,500 per step, capped at 5,000 per day.
func DefaultCashbackPolicy() CashbackPolicy {
	return CashbackPolicy{
		StepSize:      MoneyFromInt(15000),
		RewardPerStep: MoneyFromInt(2500),
		DailyCap:      MoneyFromInt(5000),
	}
}

// Validate rejects policies that would divide by zero or award unbounded
// cashback.
func (p CashbackPolicy) Validate() error {
	if p.StepSize.Sign() <= 0 || p.RewardPerStep.Sign() <= 0 || p.DailyCap.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ComputeEarned returns the cashback newly earned by an incremental cash
// payment, given the member's cumulative cash and cashback already earned
// for the same civil day (both excluding this payment).
func (p CashbackPolicy) ComputeEarned(priorCashToday, priorEarnedToday, incomingCash Money) Money {
	if incomingCash.Sign() <= 0 {
		return ZeroMoney()
	}
	if priorEarnedToday.GreaterThanOrEqual(p.DailyCap) {
		return ZeroMoney()
	}

	cumulative := priorCashToday.Add(incomingCash)
	steps := cumulative.Div(p.StepSize).Floor()
	theoretical := steps.Mul(p.RewardPerStep)
	if theoretical.GreaterThan(p.DailyCap) {
		theoretical = p.DailyCap
	}

	earned := theoretical.Sub(priorEarnedToday)
	if earned.Sign() < 0 {
		return ZeroMoney()
	}
	return earned
}
