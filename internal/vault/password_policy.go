package vault

import (
	"strings"
	"unicode"

	"github.com/otrix/occam-agents/internal/config"
)

// StrengthLabel classifies a password's assessed strength.
type StrengthLabel string

const (
	StrengthWeak   StrengthLabel = "weak"
	StrengthFair   StrengthLabel = "fair"
	StrengthStrong StrengthLabel = "strong"
)

// commonPasswords is a small rejection list; a production deployment would
// load this from a much larger external list.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"12345678":    {},
	"qwerty123":   {},
	"letmein123":  {},
	"admin1234":   {},
}

// PasswordPolicy enforces the Secure Vault's password rules (spec.md
// section 4.2).
type PasswordPolicy struct {
	cfg config.VaultConfig
}

func NewPasswordPolicy(cfg config.VaultConfig) *PasswordPolicy {
	return &PasswordPolicy{cfg: cfg}
}

// Validate returns every violated rule; an empty slice means the password
// is acceptable.
func (p *PasswordPolicy) Validate(password string) []string {
	var violations []string

	if len(password) < p.cfg.PasswordMinLength {
		violations = append(violations, "password shorter than minimum length")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if p.cfg.RequireUpper && !hasUpper {
		violations = append(violations, "missing uppercase character")
	}
	if p.cfg.RequireLower && !hasLower {
		violations = append(violations, "missing lowercase character")
	}
	if p.cfg.RequireDigit && !hasDigit {
		violations = append(violations, "missing digit")
	}
	if p.cfg.RequireSpecial && !hasSpecial {
		violations = append(violations, "missing special character")
	}

	if p.cfg.RejectCommon {
		if _, common := commonPasswords[strings.ToLower(password)]; common {
			violations = append(violations, "password is on the common-password list")
		}
	}

	return violations
}

// Strength assigns a coarse label used for UI hinting; it never blocks
// storage by itself.
func (p *PasswordPolicy) Strength(password string) StrengthLabel {
	score := 0
	if len(password) >= p.cfg.PasswordMinLength {
		score++
	}
	if len(password) >= p.cfg.PasswordMinLength+4 {
		score++
	}
	classes := 0
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if ok {
			classes++
		}
	}
	score += classes / 2

	switch {
	case score >= 3:
		return StrengthStrong
	case score >= 2:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
