package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunEmptyRecordsShortCircuits(t *testing.T) {
	called := false
	res := Run(nil, 5, func(int) (int, error) {
		called = true
		return 0, nil
	}, nil)
	assert.False(t, called)
	assert.Empty(t, res.Results)
	assert.Empty(t, res.Errors)
}

func TestRunCollectsResultsAndErrorsSeparately(t *testing.T) {
	records := []int{1, 2, 3, 4, 5}
	res := Run(records, 2, func(n int) (int, error) {
		if n%2 == 0 {
			return 0, fmt.Errorf("even: %d", n)
		}
		return n * 10, nil
	}, nil)
	assert.Len(t, res.Results, 3)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, len(records), len(res.Results)+len(res.Errors))
}

func TestRunUsesMapError(t *testing.T) {
	records := []string{"a", "b"}
	res := Run(records, 1, func(s string) (string, error) {
		return "", fmt.Errorf("boom")
	}, func(err error, item string) error {
		return fmt.Errorf("item %s: %w", item, err)
	})
	assert.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.Contains(t, e.Error(), "item ")
	}
}

func TestRunDefaultsConcurrencyWhenInvalid(t *testing.T) {
	records := []int{1, 2, 3}
	res := Run(records, 0, func(n int) (int, error) { return n, nil }, nil)
	assert.Len(t, res.Results, 3)
}
