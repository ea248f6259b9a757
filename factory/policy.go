/*
Package factory builds engine policies from configuration documents.

PURPOSE:
  Keeps policy constants (cashback step, daily cap, membership fee and
  duration, time zone) out of the binary. Operators ship a small YAML
  file; the factory validates it and produces the typed policies the
  engine consumes. Missing fields fall back to the production defaults.

EXAMPLE (policy.yaml):
  time_zone: Asia/Jakarta
  cashback:
    step_size: 15000
    reward_per_step: 2500
    daily_cap: 5000
  membership:
    fee: 35000
    duration_days: 30
*/
package factory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridian/loyalty-engine/loyalty"
)

// PolicyYAML is the on-disk shape of a policy document.
type PolicyYAML struct {
	TimeZone string `yaml:"time_zone"`

	Cashback struct {
		StepSize      int64 `yaml:"step_size"`
		RewardPerStep int64 `yaml:"reward_per_step"`
		DailyCap      int64 `yaml:"daily_cap"`
	} `yaml:"cashback"`

	Membership struct {
		Fee          int64 `yaml:"fee"`
		DurationDays int   `yaml:"duration_days"`
	} `yaml:"membership"`
}

// Policies is the parsed result handed to the engine.
type Policies struct {
	Cashback   loyalty.CashbackPolicy
	Membership loyalty.MembershipPolicy
	Location   *time.Location
}

// Defaults returns the production policy set.
func Defaults() Policies {
	loc, _ := time.LoadLocation(loyalty.DefaultTimeZone)
	return Policies{
		Cashback:   loyalty.DefaultCashbackPolicy(),
		Membership: loyalty.DefaultMembershipPolicy(),
		Location:   loc,
	}
}

// Parse converts a YAML document into Policies, applying defaults for
// absent fields and validating the result.
func Parse(data []byte) (Policies, error) {
	var doc PolicyYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Policies{}, fmt.Errorf("invalid policy document: %w", err)
	}

	p := Defaults()

	if doc.TimeZone != "" {
		loc, err := time.LoadLocation(doc.TimeZone)
		if err != nil {
			return Policies{}, fmt.Errorf("invalid time_zone %q: %w", doc.TimeZone, err)
		}
		p.Location = loc
	}

	if doc.Cashback.StepSize != 0 {
		p.Cashback.StepSize = loyalty.MoneyFromInt(doc.Cashback.StepSize)
	}
	if doc.Cashback.RewardPerStep != 0 {
		p.Cashback.RewardPerStep = loyalty.MoneyFromInt(doc.Cashback.RewardPerStep)
	}
	if doc.Cashback.DailyCap != 0 {
		p.Cashback.DailyCap = loyalty.MoneyFromInt(doc.Cashback.DailyCap)
	}
	if doc.Membership.Fee != 0 {
		p.Membership.Fee = loyalty.MoneyFromInt(doc.Membership.Fee)
	}
	if doc.Membership.DurationDays != 0 {
		p.Membership.DurationDays = doc.Membership.DurationDays
	}

	if err := p.Cashback.Validate(); err != nil {
		return Policies{}, fmt.Errorf("invalid cashback policy: %w", err)
	}
	if p.Membership.DurationDays <= 0 {
		return Policies{}, fmt.Errorf("invalid membership duration: %d days", p.Membership.DurationDays)
	}
	return p, nil
}

// LoadFile reads and parses a policy file. An empty path returns the
// defaults.
func LoadFile(path string) (Policies, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}
