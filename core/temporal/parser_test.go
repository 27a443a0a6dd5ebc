package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseNoTemporalExpression(t *testing.T) {
	now := date(2024, time.February, 1)

	for _, q := range []string{
		"Where does Alice work?",
		"Does Alice have gym access at work?",
		"tell me about the Foobar-9000",
		"what may have happened",
		"",
	} {
		assert.Nil(t, Parse(q, now), "query %q", q)
	}
}

func TestParseIsPure(t *testing.T) {
	now := date(2024, time.February, 1)
	first := Parse("what did I do last June?", now)
	require.NotNil(t, first)
	for range 5 {
		again := Parse("what did I do last June?", now)
		require.NotNil(t, again)
		assert.Equal(t, *first, *again)
	}
}

func TestParseMonths(t *testing.T) {
	now := date(2024, time.February, 1)

	tests := []struct {
		query string
		start time.Time
		end   time.Time
	}{
		{"what did I do last June?", date(2023, time.June, 1), date(2023, time.July, 1)},
		{"events in January", date(2024, time.January, 1), date(2024, time.February, 1)},
		{"trips in June 2024", date(2024, time.June, 1), date(2024, time.July, 1)},
		{"what happened in March 2023", date(2023, time.March, 1), date(2023, time.April, 1)},
		{"plans for next March", date(2024, time.March, 1), date(2024, time.April, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			iv := Parse(tt.query, now)
			require.NotNil(t, iv)
			assert.Equal(t, tt.start, iv.Start)
			assert.Equal(t, tt.end, iv.End)
		})
	}
}

func TestParseBareMonthResolvesToNearestPast(t *testing.T) {
	// In February 2024, a bare "June" means June 2023.
	iv := Parse("the concert in June", date(2024, time.February, 1))
	require.NotNil(t, iv)
	assert.Equal(t, date(2023, time.June, 1), iv.Start)

	// In July 2024, it means June 2024.
	iv = Parse("the concert in June", date(2024, time.July, 15))
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.June, 1), iv.Start)
}

func TestParseSeasons(t *testing.T) {
	now := date(2024, time.August, 10)

	tests := []struct {
		query string
		start time.Time
		end   time.Time
	}{
		{"what did we plant last spring?", date(2024, time.March, 1), date(2024, time.June, 1)},
		{"the hike last autumn", date(2023, time.September, 1), date(2023, time.December, 1)},
		{"ski trips last winter", date(2023, time.December, 1), date(2024, time.March, 1)},
		{"the festival in fall 2022", date(2022, time.September, 1), date(2022, time.December, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			iv := Parse(tt.query, now)
			require.NotNil(t, iv)
			assert.Equal(t, tt.start, iv.Start)
			assert.Equal(t, tt.end, iv.End)
		})
	}
}

func TestParseLastSpringWhileSpringInProgress(t *testing.T) {
	// Mid-spring, "last spring" is the previous year's completed spring.
	iv := Parse("last spring", date(2024, time.April, 10))
	require.NotNil(t, iv)
	assert.Equal(t, date(2023, time.March, 1), iv.Start)
}

func TestParseRelativeUnits(t *testing.T) {
	// 2024-02-01 is a Thursday; its week opens Monday 2024-01-29.
	now := time.Date(2024, time.February, 1, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		query string
		start time.Time
		end   time.Time
	}{
		{"last year's goals", date(2023, time.January, 1), date(2024, time.January, 1)},
		{"this year so far", date(2024, time.January, 1), date(2025, time.January, 1)},
		{"what happened last month", date(2024, time.January, 1), date(2024, time.February, 1)},
		{"meetings this week", date(2024, time.January, 29), date(2024, time.February, 5)},
		{"notes from last week", date(2024, time.January, 22), date(2024, time.January, 29)},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			iv := Parse(tt.query, now)
			require.NotNil(t, iv)
			assert.Equal(t, tt.start, iv.Start)
			assert.Equal(t, tt.end, iv.End)
		})
	}
}

func TestParseAgo(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

	iv := Parse("what happened 3 days ago", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.June, 12), iv.Start)
	assert.Equal(t, date(2024, time.June, 13), iv.End)

	iv = Parse("the launch 2 months ago", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.April, 1), iv.Start)
	assert.Equal(t, date(2024, time.May, 1), iv.End)
}

func TestParseBetween(t *testing.T) {
	now := date(2024, time.August, 1)

	iv := Parse("trips between March and May", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.March, 1), iv.Start)
	assert.Equal(t, date(2024, time.June, 1), iv.End)

	iv = Parse("between November and February 2023", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2023, time.November, 1), iv.Start)
	assert.Equal(t, date(2024, time.March, 1), iv.End)
}

func TestParseBetweenResolvesToPastWhenUpcoming(t *testing.T) {
	// In February, "between March and May" refers to last year's span.
	iv := Parse("between March and May", date(2024, time.February, 1))
	require.NotNil(t, iv)
	assert.Equal(t, date(2023, time.March, 1), iv.Start)
}

func TestParseISO(t *testing.T) {
	now := date(2024, time.August, 1)

	iv := Parse("notes from 2024-06-15", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.June, 15), iv.Start)
	assert.Equal(t, date(2024, time.June, 16), iv.End)

	iv = Parse("between 2024-06-01 to 2024-06-30", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.June, 1), iv.Start)
	assert.Equal(t, date(2024, time.July, 1), iv.End)
}

func TestParseDayWords(t *testing.T) {
	now := time.Date(2024, time.June, 15, 9, 0, 0, 0, time.UTC)

	iv := Parse("what did I eat yesterday", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.June, 14), iv.Start)
	assert.Equal(t, date(2024, time.June, 15), iv.End)

	iv = Parse("today's plan", now)
	require.NotNil(t, iv)
	assert.Equal(t, date(2024, time.June, 15), iv.Start)
}

func TestIntervalOverlaps(t *testing.T) {
	a := Interval{Start: date(2024, time.June, 1), End: date(2024, time.July, 1)}
	b := Interval{Start: date(2024, time.June, 30), End: date(2024, time.August, 1)}
	c := Interval{Start: date(2024, time.July, 1), End: date(2024, time.August, 1)}

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	// Half-open intervals touching at the boundary do not overlap.
	assert.False(t, a.Overlaps(c))
	assert.False(t, c.Overlaps(a))
}

func TestIntervalBroaden(t *testing.T) {
	a := Interval{Start: date(2024, time.June, 1), End: date(2024, time.July, 1)}
	b := a.Broaden(30 * 24 * time.Hour)
	assert.Equal(t, date(2024, time.May, 2), b.Start)
	assert.Equal(t, date(2024, time.July, 31), b.End)
}
