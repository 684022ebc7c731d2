package expiry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid expiry")

// Date is a normalized card expiry: month 1..12 and a four digit year.
type Date struct {
	Month int
	Year  int
}

// Parse accepts MMYY, YYMM or MMYYYY. Non-digit characters such as "/" are
// dropped first. Four digits are read as MMYY unless the month is out of
// range, in which case YYMM is tried.
func Parse(raw string) (Date, error) {
	s := strings.Map(func(r rune) rune {
		if r < '0' || r > '9' {
			return -1
		}
		return r
	}, raw)

	switch len(s) {
	case 4:
		a, _ := strconv.Atoi(s[:2])
		b, _ := strconv.Atoi(s[2:])
		if validMonth(a) {
			return Date{Month: a, Year: 2000 + b}, nil
		}
		if validMonth(b) {
			return Date{Month: b, Year: 2000 + a}, nil
		}
		return Date{}, fmt.Errorf("%w: month out of range in %q", ErrInvalid, s)
	case 6:
		mm, _ := strconv.Atoi(s[:2])
		yyyy, _ := strconv.Atoi(s[2:])
		if !validMonth(mm) {
			return Date{}, fmt.Errorf("%w: month out of range in %q", ErrInvalid, s)
		}
		if yyyy < 2000 {
			return Date{}, fmt.Errorf("%w: year %d before 2000", ErrInvalid, yyyy)
		}
		return Date{Month: mm, Year: yyyy}, nil
	default:
		return Date{}, fmt.Errorf("%w: expected MMYY, YYMM or MMYYYY, got %d digits", ErrInvalid, len(s))
	}
}

func validMonth(m int) bool {
	return m >= 1 && m <= 12
}

// EndOfMonth returns 23:59:59 on the last day of the month in loc.
func EndOfMonth(month, year int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	firstNext := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	return firstNext.Add(-time.Second)
}

// IsNotExpired reports whether the card is still usable on asOf's day. The
// end of the expiry month is compared with the start of that day, both in
// asOf's location.
func IsNotExpired(month, year int, asOf time.Time) bool {
	loc := asOf.Location()
	end := EndOfMonth(month, year, loc)
	y, m, d := asOf.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return !end.Before(startOfDay)
}

// YYMM formats the expiry the way ISO 8583 field 14 carries it.
func (d Date) YYMM() string {
	return fmt.Sprintf("%02d%02d", d.Year%100, d.Month)
}

// MMYY returns expiry as MMYY.
func (d Date) MMYY() string {
	return fmt.Sprintf("%02d%02d", d.Month, d.Year%100)
}

// CardFace returns expiry as MM/YY for receipts and prompts.
func (d Date) CardFace() string {
	return fmt.Sprintf("%02d/%02d", d.Month, d.Year%100)
}

// YearMonth returns expiry as YYYY-MM.
func (d Date) YearMonth() string {
	return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
}
