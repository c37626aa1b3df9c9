package dgt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Query selects the period to download. A zero Day selects the whole month.
type Query struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseQuery parses a YYYY-MM or YYYY-MM-DD period.
func ParseQuery(s string) (Query, error) {
	chunks := strings.Split(s, "-")
	if len(chunks) < 2 || len(chunks) > 3 {
		return Query{}, fmt.Errorf("invalid date %q: expected YYYY-MM or YYYY-MM-DD", s)
	}

	numbers := make([]int, len(chunks))
	for i, chunk := range chunks {
		n, err := strconv.Atoi(chunk)
		if err != nil {
			return Query{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		numbers[i] = n
	}

	q := Query{Year: numbers[0], Month: time.Month(numbers[1])}
	if len(numbers) == 3 {
		q.Day = numbers[2]
	}
	return q, q.Validate()
}

func (q Query) Daily() bool {
	return q.Day != 0
}

func (q Query) Validate() error {
	if q.Year < 1900 || q.Year > 9999 {
		return fmt.Errorf("invalid year %d", q.Year)
	}
	if q.Month < time.January || q.Month > time.December {
		return fmt.Errorf("invalid month %d", q.Month)
	}
	if !q.Daily() {
		return nil
	}
	t := time.Date(q.Year, q.Month, q.Day, 0, 0, 0, 0, time.UTC)
	if q.Day < 1 || t.Day() != q.Day {
		return fmt.Errorf("invalid day %d for %d-%02d", q.Day, q.Year, q.Month)
	}
	return nil
}

func (q Query) String() string {
	if q.Daily() {
		return fmt.Sprintf("%d-%02d-%02d", q.Year, q.Month, q.Day)
	}
	return fmt.Sprintf("%d-%02d", q.Year, q.Month)
}

// FromTime returns the daily query for the date of t.
func FromTime(t time.Time) Query {
	return Query{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}
