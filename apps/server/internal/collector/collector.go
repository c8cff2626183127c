// Package collector buffers sessions that arrive event by event until the
// client closes them.
package collector

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"playprofile/eventlog"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultMaxEvents = 100000

var (
	ErrUnknownStream = errors.New("unknown stream")
	ErrStreamFull    = errors.New("stream event limit reached")
	ErrNotOwner      = errors.New("stream belongs to another connection")
)

type OpenRequest struct {
	PlayerID       string  `json:"player_id"`
	SessionID      string  `json:"session_id,omitempty"`
	RulesetVersion string  `json:"ruleset_version,omitempty"`
	StartTime      float64 `json:"start_time"`
}

type stream struct {
	id       string
	owner    string
	session  eventlog.Session
	nextSeq  uint64
	lastSeen time.Time
}

type Collector struct {
	mu        sync.Mutex
	streams   map[string]*stream
	idleTTL   time.Duration
	maxEvents int
	now       func() time.Time
	logger    logrus.FieldLogger
	onChange  func(open int)
}

type Option func(*Collector)

func WithMaxEvents(n int) Option {
	return func(c *Collector) { c.maxEvents = n }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Collector) { c.logger = l }
}

// WithGauge is called with the open stream count after every change.
func WithGauge(fn func(open int)) Option {
	return func(c *Collector) { c.onChange = fn }
}

func New(idleTTL time.Duration, opts ...Option) *Collector {
	c := &Collector{
		streams:   make(map[string]*stream),
		idleTTL:   idleTTL,
		maxEvents: DefaultMaxEvents,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
		onChange:  func(int) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open starts a stream owned by owner and returns its id. A session id is
// generated when the request has none.
func (c *Collector) Open(owner string, req OpenRequest) (string, eventlog.Session, error) {
	if strings.TrimSpace(req.PlayerID) == "" {
		return "", eventlog.Session{}, errors.New("player_id is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	s := &stream{
		id:    uuid.NewString(),
		owner: owner,
		session: eventlog.Session{
			PlayerID:       req.PlayerID,
			SessionID:      req.SessionID,
			RulesetVersion: req.RulesetVersion,
			StartTime:      req.StartTime,
			EndTime:        req.StartTime,
		},
	}

	c.mu.Lock()
	s.lastSeen = c.now()
	c.streams[s.id] = s
	open := len(c.streams)
	c.mu.Unlock()

	c.onChange(open)
	c.logger.WithFields(logrus.Fields{
		"stream_id":  s.id,
		"player_id":  req.PlayerID,
		"session_id": req.SessionID,
	}).Info("[Collector] stream opened")
	return s.id, s.session, nil
}

// Append adds one event. Events without a sequence number are numbered in
// arrival order.
func (c *Collector) Append(owner, streamID string, e eventlog.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.lookupLocked(owner, streamID)
	if err != nil {
		return err
	}
	if len(s.session.Events) >= c.maxEvents {
		return ErrStreamFull
	}
	s.nextSeq++
	if e.Seq == 0 {
		e.Seq = s.nextSeq
	}
	s.session.Events = append(s.session.Events, e)
	if e.Timestamp > s.session.EndTime {
		s.session.EndTime = e.Timestamp
	}
	s.lastSeen = c.now()
	return nil
}

// Close removes the stream and returns the finished session. endTime may be
// zero, in which case the latest event timestamp (or start) is used.
func (c *Collector) Close(owner, streamID string, endTime, finalScore float64) (eventlog.Session, error) {
	c.mu.Lock()
	s, err := c.lookupLocked(owner, streamID)
	if err != nil {
		c.mu.Unlock()
		return eventlog.Session{}, err
	}
	delete(c.streams, streamID)
	open := len(c.streams)
	c.mu.Unlock()

	c.onChange(open)
	session := s.session
	if endTime != 0 {
		session.EndTime = endTime
	}
	session.FinalScore = finalScore
	c.logger.WithFields(logrus.Fields{
		"stream_id":  streamID,
		"session_id": session.SessionID,
		"events":     len(session.Events),
	}).Info("[Collector] stream closed")
	return session, nil
}

// Abort drops every stream owned by owner, e.g. on disconnect.
func (c *Collector) Abort(owner string) int {
	c.mu.Lock()
	n := 0
	for id, s := range c.streams {
		if s.owner == owner {
			delete(c.streams, id)
			n++
		}
	}
	open := len(c.streams)
	c.mu.Unlock()
	if n > 0 {
		c.onChange(open)
		c.logger.WithFields(logrus.Fields{"owner": owner, "dropped": n}).Warn("[Collector] streams aborted")
	}
	return n
}

// Sweep drops streams idle for longer than the idle TTL.
func (c *Collector) Sweep() int {
	if c.idleTTL <= 0 {
		return 0
	}
	c.mu.Lock()
	cutoff := c.now().Add(-c.idleTTL)
	n := 0
	for id, s := range c.streams {
		if s.lastSeen.Before(cutoff) {
			delete(c.streams, id)
			n++
		}
	}
	open := len(c.streams)
	c.mu.Unlock()
	if n > 0 {
		c.onChange(open)
		c.logger.WithField("dropped", n).Warn("[Collector] idle streams swept")
	}
	return n
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *Collector) lookupLocked(owner, streamID string) (*stream, error) {
	s, ok := c.streams[streamID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, streamID)
	}
	if s.owner != owner {
		return nil, ErrNotOwner
	}
	return s, nil
}
