// Package market classifies wall-clock time against the US equity trading
// day in America/New_York.
package market

import (
	"time"

	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

// Session phases of the equity trading day.
const (
	SessionClosed     = "CLOSED"
	SessionPreMarket  = "PRE_MARKET"
	SessionRegular    = "REGULAR"
	SessionAfterHours = "AFTER_HOURS"
)

// Minute-of-day boundaries in ET.
const (
	preMarketStart = 4 * 60        // 04:00
	regularStart   = 9*60 + 30     // 09:30
	regularEnd     = 16 * 60       // 16:00
	afterHoursEnd  = 20 * 60       // 20:00
)

var (
	eastern *time.Location
	loadErr error
)

func init() {
	eastern, loadErr = time.LoadLocation("America/New_York")
	if loadErr != nil {
		eastern = time.UTC
	}
}

// Check reports whether the venue timezone could be loaded. Session
// boundaries are meaningless without it, so callers treat a failure as a
// startup configuration error.
func Check() error { return loadErr }

// Session returns the session phase at the given instant.
func Session(t time.Time) string {
	et := t.In(eastern)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return SessionClosed
	}
	switch minute := et.Hour()*60 + et.Minute(); {
	case minute < preMarketStart:
		return SessionClosed
	case minute < regularStart:
		return SessionPreMarket
	case minute < regularEnd:
		return SessionRegular
	case minute < afterHoursEnd:
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// IsOpen reports whether the regular session is trading at t.
func IsOpen(t time.Time) bool {
	return Session(t) == SessionRegular
}

// InExtendedHours reports whether an epoch-millisecond timestamp falls
// inside the extended equity day (04:00-20:00 ET on a weekday). Used to
// filter off-hours equity data.
func InExtendedHours(tsMS int64) bool {
	et := time.UnixMilli(tsMS).In(eastern)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	return et.Hour() >= 4 && et.Hour() < 20
}

// labels maps session phases to display labels.
var labels = map[string]string{
	SessionClosed:     "Mercado Cerrado",
	SessionPreMarket:  "Pre-Market",
	SessionRegular:    "Mercado Abierto",
	SessionAfterHours: "After-Hours",
}

// Info builds the session frame broadcast to chart clients. The is_open
// flag means data is flowing, so it covers pre-market and after-hours too;
// IsOpen stays the stricter regular-session predicate.
func Info(t time.Time) types.SessionFrame {
	et := t.In(eastern)
	session := Session(t)
	return types.SessionFrame{
		Type:      "session",
		Session:   session,
		Label:     labels[session],
		TimeET:    et.Format("15:04:05"),
		IsWeekend: et.Weekday() == time.Saturday || et.Weekday() == time.Sunday,
		IsOpen:    session != SessionClosed,
	}
}
