//go:build integration

package redisinfra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type FeedSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	url       string
}

func TestFeedSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(FeedSuite))
}

func (s *FeedSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container
	s.url, err = container.ConnectionString(ctx)
	s.Require().NoError(err)
}

func (s *FeedSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *FeedSuite) TestNotifyReachesEverySubscriber() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := NewClient(ctx, s.url)
	s.Require().NoError(err)
	defer pub.Close()
	sub, err := NewClient(ctx, s.url)
	s.Require().NoError(err)
	defer sub.Close()

	got := make(chan string, 4)
	done := make(chan error, 1)
	go func() { done <- NewFeed(sub, "test:changed").Run(ctx, func(id string) { got <- id }) }()

	feed := NewFeed(pub, "test:changed")
	// The subscriber may not be registered yet; keep publishing until it hears one.
	s.Eventually(func() bool {
		s.Require().NoError(feed.Notify(ctx, "tenant-1"))
		select {
		case id := <-got:
			return id == "tenant-1"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	s.NoError(<-done)
}
