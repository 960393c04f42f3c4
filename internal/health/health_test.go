package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gse/internal/cognitive"
)

func static(status Status) Check {
	return func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name     string
		critical Status
		optional Status
		want     Status
	}{
		{"all healthy", StatusHealthy, StatusHealthy, StatusHealthy},
		{"optional unhealthy degrades", StatusHealthy, StatusUnhealthy, StatusDegraded},
		{"critical unhealthy", StatusUnhealthy, StatusHealthy, StatusUnhealthy},
		{"critical degraded", StatusDegraded, StatusHealthy, StatusDegraded},
		{"critical unknown", StatusUnknown, StatusHealthy, StatusUnknown},
		{"optional unknown ignored", StatusHealthy, StatusUnknown, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register(&Component{Name: "engine", Critical: true, Check: static(tt.critical)})
			c.Register(&Component{Name: "journal", Check: static(tt.optional)})

			assert.Equal(t, tt.want, c.Overall(c.Check(context.Background())))
		})
	}
}

func TestCheckRecoversPanics(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{Name: "bad", Check: func(ctx context.Context) CheckResult {
		panic("boom")
	}})

	results := c.Check(context.Background())
	require.Contains(t, results, "bad")
	assert.Equal(t, StatusUnhealthy, results["bad"].Status)
	assert.Equal(t, "boom", results["bad"].Error)
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
}

func TestHandler(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{Name: "engine", Critical: true, Check: static(StatusHealthy)})

	serve := func() (*httptest.ResponseRecorder, Response) {
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec, resp
	}

	rec, resp := serve()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not ready yet")
	assert.False(t, resp.Ready)

	c.SetReady(true)
	assert.True(t, c.IsReady())
	rec, resp = serve()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Contains(t, resp.Components, "engine")

	c.Register(&Component{Name: "journal", Check: static(StatusUnhealthy)})
	rec, resp = serve()
	assert.Equal(t, http.StatusOK, rec.Code, "degraded still serves")
	assert.Equal(t, StatusDegraded, resp.Status)

	assert.Equal(t, []string{"engine", "journal"}, c.Names())
}

func TestEngineCheck(t *testing.T) {
	e := cognitive.New()
	result := EngineCheck(e.Snapshot)(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "flow", result.Details["state"])

	broken := func() cognitive.Snapshot {
		return cognitive.Snapshot{Belief: cognitive.Belief{0.5, 0.5, 0.5}}
	}
	assert.Equal(t, StatusUnhealthy, EngineCheck(broken)(context.Background()).Status)

	recovered := func() cognitive.Snapshot {
		s := e.Snapshot()
		s.Stats.Recoveries = 1
		return s
	}
	assert.Equal(t, StatusDegraded, EngineCheck(recovered)(context.Background()).Status)
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(func(ctx context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	failing := PingCheck(func(ctx context.Context) error { return errors.New("database is locked") })
	result := failing(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "database is locked", result.Error)
}
