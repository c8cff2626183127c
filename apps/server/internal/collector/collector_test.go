package collector

import (
	"io"
	"testing"
	"time"

	"playprofile/eventlog"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(opts ...Option) *Collector {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(time.Minute, append([]Option{WithLogger(l)}, opts...)...)
}

func TestOpenAppendClose(t *testing.T) {
	var gauge int
	c := newTestCollector(WithGauge(func(n int) { gauge = n }))

	id, session, err := c.Open("conn-1", OpenRequest{PlayerID: "p1", RulesetVersion: "r1", StartTime: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, 1, gauge)

	require.NoError(t, c.Append("conn-1", id, eventlog.Event{Timestamp: 12, Type: eventlog.EventCombat}))
	require.NoError(t, c.Append("conn-1", id, eventlog.Event{Timestamp: 11, Type: eventlog.EventMenu}))

	got, err := c.Close("conn-1", id, 0, 250)
	require.NoError(t, err)
	assert.Equal(t, 0, gauge)
	assert.Equal(t, "p1", got.PlayerID)
	assert.Equal(t, 10.0, got.StartTime)
	assert.Equal(t, 12.0, got.EndTime)
	assert.Equal(t, 250.0, got.FinalScore)
	require.Len(t, got.Events, 2)
	assert.Equal(t, uint64(1), got.Events[0].Seq)
	assert.Equal(t, uint64(2), got.Events[1].Seq)

	_, err = c.Close("conn-1", id, 0, 0)
	assert.ErrorIs(t, err, ErrUnknownStream)
}

func TestRejectsUnknownStreamAndOtherOwner(t *testing.T) {
	c := newTestCollector()
	err := c.Append("conn-1", "missing", eventlog.Event{Timestamp: 1, Type: eventlog.EventMenu})
	assert.ErrorIs(t, err, ErrUnknownStream)

	id, _, err := c.Open("conn-1", OpenRequest{PlayerID: "p1"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Append("conn-2", id, eventlog.Event{Timestamp: 1}), ErrNotOwner)

	_, _, err = c.Open("conn-1", OpenRequest{})
	assert.Error(t, err)
}

func TestExplicitEndTimeAndSessionID(t *testing.T) {
	c := newTestCollector()
	id, s, err := c.Open("o", OpenRequest{PlayerID: "p1", SessionID: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", s.SessionID)
	got, err := c.Close("o", id, 99, 0)
	require.NoError(t, err)
	assert.Equal(t, 99.0, got.EndTime)
}

func TestEventLimit(t *testing.T) {
	c := newTestCollector(WithMaxEvents(2))
	id, _, err := c.Open("o", OpenRequest{PlayerID: "p1"})
	require.NoError(t, err)
	require.NoError(t, c.Append("o", id, eventlog.Event{Timestamp: 1}))
	require.NoError(t, c.Append("o", id, eventlog.Event{Timestamp: 2}))
	assert.ErrorIs(t, c.Append("o", id, eventlog.Event{Timestamp: 3}), ErrStreamFull)
}

func TestAbortAndSweep(t *testing.T) {
	c := newTestCollector()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, _, err := c.Open("a", OpenRequest{PlayerID: "p1"})
	require.NoError(t, err)
	_, _, err = c.Open("a", OpenRequest{PlayerID: "p2"})
	require.NoError(t, err)
	idle, _, err := c.Open("b", OpenRequest{PlayerID: "p3"})
	require.NoError(t, err)

	assert.Equal(t, 2, c.Abort("a"))
	assert.Equal(t, 1, c.Len())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.ErrorIs(t, c.Append("b", idle, eventlog.Event{Timestamp: 1}), ErrUnknownStream)
}
