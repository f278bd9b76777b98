package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotCandidate is returned for subjects that cannot be enriched, such as
// a person with no recorded death date.
var ErrNotCandidate = eris.New("subject is not an enrichment candidate")

// DatePrecision records how much of a PartialDate is known.
type DatePrecision int

const (
	PrecisionNone DatePrecision = iota
	PrecisionYear
	PrecisionMonth
	PrecisionDay
)

// PartialDate is a calendar date where month and day may be unknown.
type PartialDate struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

// ParsePartialDate accepts YYYY, YYYY-MM or YYYY-MM-DD.
func ParsePartialDate(s string) (*PartialDate, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == `\N` {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) > 3 {
		return nil, eris.Errorf("model: invalid date %q", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, eris.Wrapf(err, "model: invalid date %q", s)
		}
		nums[i] = n
	}
	d := &PartialDate{Year: nums[0]}
	if len(nums) > 1 {
		d.Month = nums[1]
	}
	if len(nums) > 2 {
		d.Day = nums[2]
	}
	if d.Year <= 0 || d.Month < 0 || d.Month > 12 || d.Day < 0 || d.Day > 31 {
		return nil, eris.Errorf("model: date out of range %q", s)
	}
	if d.Month == 0 && d.Day != 0 {
		return nil, eris.Errorf("model: day without month %q", s)
	}
	return d, nil
}

// Precision reports how much of the date is known.
func (d *PartialDate) Precision() DatePrecision {
	switch {
	case d == nil || d.Year == 0:
		return PrecisionNone
	case d.Month == 0:
		return PrecisionYear
	case d.Day == 0:
		return PrecisionMonth
	default:
		return PrecisionDay
	}
}

func (d *PartialDate) String() string {
	switch d.Precision() {
	case PrecisionYear:
		return fmt.Sprintf("%04d", d.Year)
	case PrecisionMonth:
		return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
	case PrecisionDay:
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	default:
		return ""
	}
}

// Subject is a deceased person to enrich. Subjects are read-only inputs to
// a run; persisting changes is the store's job.
type Subject struct {
	ID                 string       `json:"id"`
	IMDbID             string       `json:"imdb_id,omitempty"`
	Name               string       `json:"name"`
	Birth              *PartialDate `json:"birth,omitempty"`
	Death              *PartialDate `json:"death,omitempty"`
	KnownCause         string       `json:"known_cause,omitempty"`
	KnownCauseDetails  string       `json:"known_cause_details,omitempty"`
	PrimaryProfessions []string     `json:"primary_professions,omitempty"`
}

// Validate returns ErrNotCandidate when the subject cannot be enriched.
func (s Subject) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return eris.Wrap(ErrNotCandidate, "missing id")
	}
	if strings.TrimSpace(s.Name) == "" {
		return eris.Wrapf(ErrNotCandidate, "subject %s: missing name", s.ID)
	}
	if s.Death.Precision() == PrecisionNone {
		return eris.Wrapf(ErrNotCandidate, "subject %s: no death date", s.ID)
	}
	return nil
}

// DeathYear returns the year of death or 0.
func (s Subject) DeathYear() int {
	if s.Death == nil {
		return 0
	}
	return s.Death.Year
}

// AgeAtDeath returns the age in whole years, or -1 when unknown.
func (s Subject) AgeAtDeath() int {
	if s.Birth.Precision() == PrecisionNone || s.Death.Precision() == PrecisionNone {
		return -1
	}
	age := s.Death.Year - s.Birth.Year
	if s.Birth.Precision() >= PrecisionMonth && s.Death.Precision() >= PrecisionMonth {
		if s.Death.Month < s.Birth.Month ||
			(s.Death.Month == s.Birth.Month && s.Birth.Day > 0 && s.Death.Day > 0 && s.Death.Day < s.Birth.Day) {
			age--
		}
	}
	return age
}
