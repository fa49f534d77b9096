package sink

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisSinkName(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	s := NewRedisSink(client, "corvusforge.runs")
	assert.Equal(t, "redis", s.Name())
}

func TestRedisSinkWriteFailsClosedWithoutServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	s := NewRedisSink(client, "corvusforge.runs")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Write(ctx, testEnvelope())
	require.Error(t, err)
}
