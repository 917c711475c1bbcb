package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordUpdatesRealtimeCounters(t *testing.T) {
	c := New()
	c.Record(100, 200)
	c.Record(50, 404)
	c.Record(10, 503)
	c.Record(5, 301) // uncounted class, still adds to requests/bytes

	rt := c.Realtime()
	require.EqualValues(t, 4, rt.Requests)
	require.EqualValues(t, 165, rt.Bytes)
	require.EqualValues(t, 1, rt.Status2xx)
	require.EqualValues(t, 1, rt.Status4xx)
	require.EqualValues(t, 1, rt.Status5xx)
}

func TestHistoryBucketsByMinute(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).Truncate(time.Minute)
	cur := base
	c := New()
	c.nowFn = func() time.Time { return cur }

	c.Record(10, 200)
	cur = cur.Add(time.Minute)
	c.Record(20, 200)

	hist := c.History(1)
	require.Len(t, hist, 60)
	require.EqualValues(t, 10, hist[58].Bytes)
	require.EqualValues(t, 20, hist[59].Bytes)
}

func TestClassOf(t *testing.T) {
	cases := []struct {
		code  int
		class StatusClass
		ok    bool
	}{
		{200, Status2xx, true},
		{299, Status2xx, true},
		{404, Status4xx, true},
		{503, Status5xx, true},
		{301, 0, false},
		{100, 0, false},
	}
	for _, tc := range cases {
		class, ok := ClassOf(tc.code)
		require.Equal(t, tc.ok, ok, "code %d", tc.code)
		if ok {
			require.Equal(t, tc.class, class, "code %d", tc.code)
		}
	}
}
