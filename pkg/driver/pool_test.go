package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func parseResults(t *testing.T, out *bytes.Buffer) map[string]Result {
	t.Helper()
	results := map[string]Result{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r Result
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		results[r.Key] = r
	}
	return results
}

func TestPoolRun(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		var out bytes.Buffer
		pool := &Pool{Concurrency: 4, Retries: 0, Logger: zap.NewNop(), Out: &out}

		work := func(ctx context.Context, item Item) (Result, error) {
			return Result{Cid: "cid-" + item.Key}, nil
		}

		stdin := `{"key":"a.car"}
{"key":"b.car"}
{"key":"c.car"}
`
		require.NoError(t, pool.Run(ctx, nil, strings.NewReader(stdin), work))

		results := parseResults(t, &out)
		require.Len(t, results, 3)
		for _, key := range []string{"a.car", "b.car", "c.car"} {
			assert.True(t, results[key].Ok)
			assert.Equal(t, "cid-"+key, results[key].Cid)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var out bytes.Buffer
		pool := &Pool{Concurrency: 1, Retries: 2, Logger: zap.NewNop(), Out: &out}

		var mu sync.Mutex
		attempts := 0
		work := func(ctx context.Context, item Item) (Result, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 2 {
				return Result{}, fmt.Errorf("connection reset")
			}
			return Result{}, nil
		}

		require.NoError(t, pool.Run(ctx, []string{"flaky.car"}, nil, work))

		assert.Equal(t, 2, attempts)
		results := parseResults(t, &out)
		assert.True(t, results["flaky.car"].Ok)
	})

	t.Run("item failure does not stop the batch", func(t *testing.T) {
		var out bytes.Buffer
		pool := &Pool{Concurrency: 2, Retries: 0, Logger: zap.NewNop(), Out: &out}

		work := func(ctx context.Context, item Item) (Result, error) {
			if item.Key == "bad.car" {
				return Result{}, fmt.Errorf("object not found")
			}
			return Result{}, nil
		}

		require.NoError(t, pool.Run(ctx, []string{"good.car", "bad.car", "also-good.car"}, nil, work))

		results := parseResults(t, &out)
		require.Len(t, results, 3)
		assert.True(t, results["good.car"].Ok)
		assert.True(t, results["also-good.car"].Ok)
		assert.False(t, results["bad.car"].Ok)
		assert.Contains(t, results["bad.car"].Error, "not found")
	})
}
