package sqs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfigRequiresRegionAndQueue(t *testing.T) {
	d := New(Config{}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "region is required")
	assert.Contains(t, vr.Errors, "one of queueUrl, defaultQueue, or resourceQueueMap is required")
}

func TestResolveQueueFallbackChain(t *testing.T) {
	d := New(Config{
		Region:           "us-east-1",
		DefaultQueue:     "default-q",
		QueueURL:         "single-q",
		ResourceQueueMap: map[string]string{"orders": "orders-q"},
	}, nil)
	assert.Equal(t, "orders-q", d.resolveQueue("orders"))
	assert.Equal(t, "single-q", d.resolveQueue("users"))

	d2 := New(Config{Region: "us-east-1", DefaultQueue: "default-q"}, nil)
	assert.Equal(t, "default-q", d2.resolveQueue("users"))
}

func TestBatchOf23SplitsIntoThreeGroups(t *testing.T) {
	var counts []int
	total := 23
	for start := 0; start < total; start += maxBatchEntries {
		end := start + maxBatchEntries
		if end > total {
			end = total
		}
		counts = append(counts, end-start)
	}
	assert.Equal(t, []int{10, 10, 3}, counts)
}

func TestShouldReplicateResourceFollowsQueueResolution(t *testing.T) {
	d := New(Config{Region: "us-east-1", ResourceQueueMap: map[string]string{"orders": "orders-q"}}, nil)
	assert.True(t, d.ShouldReplicateResource("orders", nil))
	assert.False(t, d.ShouldReplicateResource("users", nil))
}
