// Package matchfeedsvc publishes match lifecycle events to the MQTT broker and
// answers requests for joinable matches.
package matchfeedsvc

import (
	"context"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/event"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/portal"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Topics.
const (
	// topicMatchEventsPrefix is the prefix for match events. The event type is
	// appended.
	topicMatchEventsPrefix = "flipmatch/matches/"
	// topicReport is used for requesting a report of pending matches to
	// topicPendingMatches.
	topicReport portal.Topic = "flipmatch/matches/report"
	// topicPendingMatches is where pending matches are reported.
	topicPendingMatches portal.Topic = "flipmatch/matches/pending"
)

// eventBufferSize is the number of events that may be queued before events are
// dropped.
const eventBufferSize = 256

// Matches are the dependencies needed for NewService.
type Matches interface {
	// ListPendingMatches lists all matches that can be joined.
	ListPendingMatches(ctx context.Context) ([]messages.MatchListEntry, error)
}

// queuedEvent is a match event waiting for being published.
type queuedEvent struct {
	event event.MatchEvent
	topic portal.Topic
}

// Service publishes match events and serves report requests. It implements
// gateway.Feed.
type Service struct {
	logger *zap.Logger
	// portal to use for communication.
	portal portal.Portal
	// matches is used for answering report requests.
	matches Matches
	// events holds events that are yet to be published.
	events chan queuedEvent
	// now returns the current time.
	now func() time.Time
}

// NewService creates a new Service ready to run.
func NewService(logger *zap.Logger, portal portal.Portal, matches Matches) *Service {
	return &Service{
		logger:  logger,
		portal:  portal,
		matches: matches,
		events:  make(chan queuedEvent, eventBufferSize),
		now:     time.Now,
	}
}

// topicForEvent returns the topic for the given match event.
func topicForEvent(e messages.MessageType) portal.Topic {
	return portal.Topic(topicMatchEventsPrefix + string(e))
}

// PublishMatchEvent queues the given event for publishing. It does not block
// and drops the event if the queue is full.
func (s *Service) PublishMatchEvent(e messages.MessageType, match messages.MessageMatch) {
	queued := queuedEvent{
		event: event.MatchEvent{
			Event:     e,
			Timestamp: s.now(),
			Match:     match,
		},
		topic: topicForEvent(e),
	}
	select {
	case s.events <- queued:
	default:
		s.logger.Warn("dropping match event due to full queue",
			zap.Any("event", e),
			zap.Any("match_id", match.ID))
	}
}

// Run the service, publish queued events and serve report requests until the
// given context.Context is done.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	// Subscribe to report request.
	reportNewsletter := portal.Subscribe[event.EmptyEvent](ctx, s.portal, topicReport)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range reportNewsletter.Receive {
			s.handleReportEvent(ctx)
		}
	}()
	// Publish events.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case queued := <-s.events:
				s.portal.Publish(ctx, queued.topic, queued.event)
			}
		}
	}()
	// Announce initial state.
	s.handleReportEvent(ctx)
	// Wait until all done.
	wg.Wait()
	return nil
}

// handleReportEvent publishes all pending matches to topicPendingMatches.
func (s *Service) handleReportEvent(ctx context.Context) {
	entries, err := s.matches.ListPendingMatches(ctx)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "list pending matches", nil))
		return
	}
	s.portal.Publish(ctx, topicPendingMatches, event.PendingMatchesEvent{Matches: entries})
}
