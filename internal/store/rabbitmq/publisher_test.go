package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func TestAttempt(t *testing.T) {
	require.Equal(t, 1, Attempt(nil))
	require.Equal(t, 1, Attempt(amqp.Table{"other": "x"}))
	require.Equal(t, 3, Attempt(amqp.Table{AttemptHeader: int32(3)}))
	require.Equal(t, 4, Attempt(amqp.Table{AttemptHeader: int64(4)}))
}

func TestRetryQueue(t *testing.T) {
	require.Equal(t, "purge_jobs.retry", RetryQueue("purge_jobs"))
}
