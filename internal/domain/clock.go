package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTimezone is the civil time zone of the upstream agency.
const DefaultTimezone = "Asia/Taipei"

// taipeiFixed is used when the host has no tzdata; Taiwan has no DST.
var taipeiFixed = time.FixedZone("CST", 8*60*60)

// LoadLocation resolves a time zone name. Asia/Taipei falls back to a fixed
// +08:00 zone so minimal containers without tzdata still produce local dates.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimezone {
			return taipeiFixed, nil
		}
		return nil, err
	}
	return loc, nil
}

// Today returns midnight of the current civil date in loc.
func Today(clock clockwork.Clock, loc *time.Location) time.Time {
	return truncateDay(clock.Now().In(loc))
}
