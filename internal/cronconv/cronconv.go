// SPDX-License-Identifier: MIT

// Package cronconv converts day-of-week numbering between the POSIX cron
// convention persisted in a Schedule (0=Sunday..6=Saturday) and the
// Monday-first convention ("engine convention", 0=Monday..6=Sunday) used by
// the scheduling engine this system was ported from.
//
// robfig/cron/v3's standard five-field parser already numbers weekdays
// 0=Sunday..6=Saturday, the same as POSIX, so a numeric engine-convention
// digit cannot be handed to it directly — it would be silently
// misinterpreted as a different day. Scheduler wiring therefore never
// passes engine-numbered digits to robfig; it substitutes three-letter day
// names (SUN..SAT), which are unambiguous regardless of numbering
// convention. ToEngineDow exists to preserve the documented conversion
// contract (and is unit tested against it) even though the robfig adapter
// itself sidesteps the ambiguity via names.
package cronconv

import "fmt"

// dowNames indexes by POSIX weekday number (0=Sun..6=Sat).
var dowNames = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// ToEngineDow converts a POSIX weekday number (0=Sun..6=Sat) to the engine's
// Monday-first numbering (0=Mon..6=Sun).
//
// Anchors: POSIX 0 (Sun) -> engine 6; POSIX 1 (Mon) -> engine 0; POSIX 6
// (Sat) -> engine 5.
func ToEngineDow(posix int) (int, error) {
	if posix < 0 || posix > 6 {
		return 0, fmt.Errorf("cronconv: posix weekday %d out of range [0,6]", posix)
	}
	return (posix + 6) % 7, nil
}

// Name returns the three-letter cron day name for a POSIX weekday number.
func Name(posix int) (string, error) {
	if posix < 0 || posix > 6 {
		return "", fmt.Errorf("cronconv: posix weekday %d out of range [0,6]", posix)
	}
	return dowNames[posix], nil
}
