package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_PrimaryKey(t *testing.T) {
	r := New("events", map[string]interface{}{"id": "evt_1", "count": float64(3)})

	id, ok := r.PrimaryKey("id")
	assert.True(t, ok)
	assert.Equal(t, "evt_1", id)

	count, ok := r.PrimaryKey("count")
	assert.True(t, ok)
	assert.Equal(t, "3", count)

	_, ok = r.PrimaryKey("missing")
	assert.False(t, ok)
}

func TestRecord_Cursor(t *testing.T) {
	r := New("events", map[string]interface{}{"datetime": "2026-01-02T03:04:05Z"})

	cursor, ok := r.Cursor("datetime")
	require := assert.New(t)
	require.True(ok)
	require.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), cursor)

	_, ok = r.Cursor("")
	require.False(ok)

	_, ok = r.Cursor("missing")
	require.False(ok)
}

func TestParseTimestamp_Variants(t *testing.T) {
	cases := []string{
		"2026-01-02T03:04:05.123456Z",
		"2026-01-02T03:04:05Z",
		"2026-01-02 03:04:05",
	}
	for _, raw := range cases {
		_, ok := ParseTimestamp(raw)
		assert.True(t, ok, raw)
	}

	_, ok := ParseTimestamp("not a timestamp")
	assert.False(t, ok)
}

func TestTrimFloat(t *testing.T) {
	r := New("metrics", map[string]interface{}{"whole": float64(42), "frac": float64(3.5)})

	whole, _ := r.PrimaryKey("whole")
	assert.Equal(t, "42", whole)

	frac, _ := r.PrimaryKey("frac")
	assert.Equal(t, "3.5", frac)
}
