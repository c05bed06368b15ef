package common

import "errors"

var ErrBlacklisted = errors.New("account blacklisted")

// RestrictionView exposes the blacklist flag maintained by the
// administrator. A nil view means no restrictions are configured.
type RestrictionView interface {
	IsBlacklisted(addr [20]byte) bool
}

// Guard rejects blacklisted callers. It is invoked at the start of every
// mutating marketplace operation.
func Guard(v RestrictionView, addr [20]byte) error {
	if v == nil {
		return nil
	}
	if v.IsBlacklisted(addr) {
		return ErrBlacklisted
	}
	return nil
}
