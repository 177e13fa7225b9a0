package redisinfra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClient_RejectsBadURLs(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	assert.ErrorContains(t, err, "REDIS_URL")

	_, err = NewClient(context.Background(), "memcached://localhost:11211")
	assert.ErrorContains(t, err, "parse redis URL")
}
