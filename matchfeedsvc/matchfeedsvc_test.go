package matchfeedsvc

import (
	"context"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/event"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sync"
	"testing"
	"time"
)

const timeout = 3 * time.Second

// matchesStub mocks Matches.
type matchesStub struct {
	mock.Mock
}

func (stub *matchesStub) ListPendingMatches(ctx context.Context) ([]messages.MatchListEntry, error) {
	args := stub.Called(ctx)
	var entries []messages.MatchListEntry
	entries, _ = args.Get(0).([]messages.MatchListEntry)
	return entries, args.Error(1)
}

func TestNewService(t *testing.T) {
	logger := zap.New(zapcore.NewNopCore())
	portalStub := &portal.Stub{}
	matchesStub := &matchesStub{}
	s := NewService(logger, portalStub, matchesStub)
	require.NotNil(t, s, "should not be nil")
	assert.Equal(t, logger, s.logger, "should set correct logger")
	assert.Equal(t, portalStub, s.portal, "should set correct portal")
	assert.Equal(t, matchesStub, s.matches, "should set correct matches")
}

func TestTopicForEvent(t *testing.T) {
	assert.Equal(t, portal.Topic("flipmatch/matches/matchStarted"), topicForEvent(messages.MessageTypeMatchStarted))
}

func TestPublishMatchEventDropsWhenFull(t *testing.T) {
	s := NewService(zap.New(zapcore.NewNopCore()), &portal.Stub{}, &matchesStub{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventBufferSize+10; i++ {
			s.PublishMatchEvent(messages.MessageTypePlayerJoined, messages.MessageMatch{ID: "swamp"})
		}
	}()
	select {
	case <-time.After(timeout):
		assert.Fail(t, "timeout", "should not block")
	case <-done:
	}
	assert.Len(t, s.events, eventBufferSize, "should fill queue")
}

// serviceSuite tests Service.
type serviceSuite struct {
	suite.Suite
	portalStub  *portal.Stub
	matchesStub *matchesStub
	service     *Service
	now         time.Time
}

func (suite *serviceSuite) SetupTest() {
	suite.portalStub = &portal.Stub{}
	suite.matchesStub = &matchesStub{}
	suite.service = NewService(zap.New(zapcore.NewNopCore()), suite.portalStub, suite.matchesStub)
	suite.now = time.Date(2001, 4, 22, 0, 0, 0, 0, time.UTC)
	suite.service.now = func() time.Time { return suite.now }
}

// TestSubscribeReportOnRun assures that we subscribe to report topic.
func (suite *serviceSuite) TestSubscribeReportOnRun() {
	var wg sync.WaitGroup
	timeout, cancel := context.WithTimeout(context.Background(), timeout)
	suite.portalStub.On("Subscribe", mock.Anything, topicReport).
		Run(func(_ mock.Arguments) { cancel() }).
		Return(portal.StubNewsletter(timeout)).Once()
	suite.portalStub.On("Publish", mock.Anything, mock.Anything, mock.Anything)
	suite.matchesStub.On("ListPendingMatches", mock.Anything).Return([]messages.MatchListEntry{}, nil)
	defer suite.portalStub.AssertExpectations(suite.T())
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := suite.service.Run(timeout)
		suite.Nil(err, "should not fail")
	}()
	<-timeout.Done()
	suite.Equal(context.Canceled, timeout.Err(), "should not time out")
	wg.Wait()
}

// TestAnnounceOnRun assures that pending matches are published when the
// service starts.
func (suite *serviceSuite) TestAnnounceOnRun() {
	var wg sync.WaitGroup
	entries := []messages.MatchListEntry{{ID: "swamp", Players: []messages.Player{{ID: "ogre", Username: "Shrek"}}}}
	timeout, cancel := context.WithTimeout(context.Background(), timeout)
	suite.portalStub.On("Subscribe", mock.Anything, topicReport).
		Return(portal.StubNewsletter(timeout))
	suite.matchesStub.On("ListPendingMatches", mock.Anything).Return(entries, nil).Once()
	suite.portalStub.On("Publish", mock.Anything, topicPendingMatches, event.PendingMatchesEvent{Matches: entries}).
		Run(func(_ mock.Arguments) { cancel() }).Once()
	defer suite.portalStub.AssertExpectations(suite.T())
	defer suite.matchesStub.AssertExpectations(suite.T())
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := suite.service.Run(timeout)
		suite.Nil(err, "should not fail")
	}()
	<-timeout.Done()
	suite.Equal(context.Canceled, timeout.Err(), "should not time out")
	wg.Wait()
}

// TestAnswerReport assures that report requests are answered.
func (suite *serviceSuite) TestAnswerReport() {
	var wg sync.WaitGroup
	timeout, cancel := context.WithTimeout(context.Background(), timeout)
	requests := make(chan event.Event[any])
	suite.portalStub.On("Subscribe", mock.Anything, topicReport).
		Return(portal.ForwardingStubNewsletter(timeout, requests))
	suite.matchesStub.On("ListPendingMatches", mock.Anything).Return([]messages.MatchListEntry{}, nil).Twice()
	published := atomic.NewInt32(0)
	suite.portalStub.On("Publish", mock.Anything, topicPendingMatches, mock.Anything).
		Run(func(_ mock.Arguments) {
			if published.Inc() == 2 {
				cancel()
			}
		}).Twice()
	defer suite.portalStub.AssertExpectations(suite.T())
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := suite.service.Run(timeout)
		suite.Nil(err, "should not fail")
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timeout.Done():
		case requests <- event.Event[any]{Payload: event.EmptyEvent{}}:
		}
	}()
	<-timeout.Done()
	suite.Equal(context.Canceled, timeout.Err(), "should not time out")
	wg.Wait()
}

// TestReportFail assures that failing to list matches does not publish.
func (suite *serviceSuite) TestReportFail() {
	suite.matchesStub.On("ListPendingMatches", mock.Anything).
		Return(nil, errors.NewInternalError("sad life", nil)).Once()
	defer suite.matchesStub.AssertExpectations(suite.T())
	timeout, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	suite.service.handleReportEvent(timeout)
	suite.portalStub.AssertNotCalled(suite.T(), "Publish", mock.Anything, mock.Anything, mock.Anything)
}

// TestPublishQueuedEvents assures that queued events are published to the
// topic of the event.
func (suite *serviceSuite) TestPublishQueuedEvents() {
	var wg sync.WaitGroup
	timeout, cancel := context.WithTimeout(context.Background(), timeout)
	match := messages.MessageMatch{ID: "swamp", Status: "ongoing"}
	suite.portalStub.On("Subscribe", mock.Anything, topicReport).
		Return(portal.StubNewsletter(timeout))
	suite.matchesStub.On("ListPendingMatches", mock.Anything).Return([]messages.MatchListEntry{}, nil)
	suite.portalStub.On("Publish", mock.Anything, topicPendingMatches, mock.Anything).Maybe()
	suite.portalStub.On("Publish", mock.Anything, portal.Topic("flipmatch/matches/matchStarted"), event.MatchEvent{
		Event:     messages.MessageTypeMatchStarted,
		Timestamp: suite.now,
		Match:     match,
	}).Run(func(_ mock.Arguments) { cancel() }).Once()
	defer suite.portalStub.AssertExpectations(suite.T())
	suite.service.PublishMatchEvent(messages.MessageTypeMatchStarted, match)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := suite.service.Run(timeout)
		suite.Nil(err, "should not fail")
	}()
	<-timeout.Done()
	suite.Equal(context.Canceled, timeout.Err(), "should not time out")
	wg.Wait()
}

func TestService(t *testing.T) {
	suite.Run(t, new(serviceSuite))
}
