package schedule

import (
	"sort"
	"strings"
	"time"
)

// Section is one cadence bucket of the digest email
type Section string

const (
	SectionMonthly    Section = "monthly"
	SectionQuarterly  Section = "quarterly"
	SectionSemiannual Section = "semiannual"
	SectionAnnual     Section = "annual"
)

// Sections lists every section in the order the digest renders them
var Sections = []Section{SectionMonthly, SectionQuarterly, SectionSemiannual, SectionAnnual}

// SectionOffsets is how many days before each section's boundary a digest goes out
var SectionOffsets = map[Section][]int{
	SectionMonthly:    {7},
	SectionQuarterly:  {14, 7},
	SectionSemiannual: {14, 7},
	SectionAnnual:     {60, 30, 14},
}

// cadenceSpellings maps every known catalog spelling (lowercased) to its section
var cadenceSpellings = map[string]Section{
	"monthly":     SectionMonthly,
	"month":       SectionMonthly,
	"quarterly":   SectionQuarterly,
	"quarter":     SectionQuarterly,
	"semiannual":  SectionSemiannual,
	"semi_annual": SectionSemiannual,
	"semi-annual": SectionSemiannual,
	"semi annual": SectionSemiannual,
	"biannual":    SectionSemiannual,
	"half_yearly": SectionSemiannual,
	"half-yearly": SectionSemiannual,
	"annual":      SectionAnnual,
	"annually":    SectionAnnual,
	"yearly":      SectionAnnual,
}

// Title returns the heading used for the section in emails
func (s Section) Title() string {
	switch s {
	case SectionMonthly:
		return "Monthly"
	case SectionQuarterly:
		return "Quarterly"
	case SectionSemiannual:
		return "Semiannual"
	case SectionAnnual:
		return "Annual"
	}
	return string(s)
}

// SectionForCadence maps a raw benefit cadence to its digest section.
// Matching ignores case and surrounding whitespace.
func SectionForCadence(raw string) (Section, bool) {
	s, ok := cadenceSpellings[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// CadencesForSections returns every lowercased cadence spelling that maps to one of sections
func CadencesForSections(sections []Section) []string {
	want := make(map[Section]bool, len(sections))
	for _, s := range sections {
		want[s] = true
	}

	var out []string
	for spelling, s := range cadenceSpellings {
		if want[s] {
			out = append(out, spelling)
		}
	}
	sort.Strings(out)
	return out
}

// EndOfMonth returns the last calendar day of today's month
func EndOfMonth(today time.Time) time.Time {
	y, m, _ := today.UTC().Date()
	return time.Date(y, m, DaysInMonth(y, m), 0, 0, 0, 0, time.UTC)
}

// EndOfQuarter returns the last calendar day of today's quarter
func EndOfQuarter(today time.Time) time.Time {
	y, m, _ := today.UTC().Date()
	last := time.Month((int(m)-1)/3*3 + 3)
	return time.Date(y, last, DaysInMonth(y, last), 0, 0, 0, 0, time.UTC)
}

// EndOfHalfYear returns Jun 30 for dates in the first half of the year and Dec 31 otherwise
func EndOfHalfYear(today time.Time) time.Time {
	y, m, _ := today.UTC().Date()
	if m <= time.June {
		return time.Date(y, time.June, 30, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// EndOfYear returns Dec 31 of today's year
func EndOfYear(today time.Time) time.Time {
	return time.Date(today.UTC().Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
}

// IsDueOn reports whether today falls exactly offset days before boundary for any offset
func IsDueOn(boundary, today time.Time, offsets []int) bool {
	boundary = DateOnly(boundary)
	today = DateOnly(today)
	for _, off := range offsets {
		if boundary.AddDate(0, 0, -off).Equal(today) {
			return true
		}
	}
	return false
}

// Boundary returns the date section s counts down to, as seen from today
func Boundary(s Section, today time.Time) time.Time {
	switch s {
	case SectionMonthly:
		return EndOfMonth(today)
	case SectionQuarterly:
		return EndOfQuarter(today)
	case SectionSemiannual:
		return EndOfHalfYear(today)
	default:
		return EndOfYear(today)
	}
}

// DueSections returns the sections whose reminder offset lands on now's UTC date,
// in render order.
func DueSections(now time.Time) []Section {
	today := DateOnly(now)

	var due []Section
	for _, s := range Sections {
		if IsDueOn(Boundary(s, today), today, SectionOffsets[s]) {
			due = append(due, s)
		}
	}
	return due
}
