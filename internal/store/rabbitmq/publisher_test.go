package rabbitmq

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "payment_events.retry", RetryQueue("payment_events"))
	assert.Equal(t, "payment_events.dlq", DeadQueue("payment_events"))
}

func TestAttempt(t *testing.T) {
	assert.Equal(t, 0, Attempt(nil))
	assert.Equal(t, 2, Attempt(amqp.Table{AttemptHeader: int32(2)}))
	assert.Equal(t, 3, Attempt(amqp.Table{AttemptHeader: int64(3)}))
	assert.Equal(t, 0, Attempt(amqp.Table{AttemptHeader: "x"}))
}

func TestDecide(t *testing.T) {
	boom := errors.New("db down")
	assert.Equal(t, ack, decide(nil, 0, 3))
	assert.Equal(t, retry, decide(boom, 0, 3))
	assert.Equal(t, retry, decide(boom, 1, 3))
	assert.Equal(t, dead, decide(boom, 2, 3))
	assert.Equal(t, dead, decide(Permanent(boom), 0, 3))
	assert.ErrorIs(t, Permanent(boom), boom)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoff(5*time.Second, 0))
	assert.Equal(t, 20*time.Second, backoff(5*time.Second, 2))
}
