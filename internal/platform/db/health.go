package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the body of the /health response.
type HealthStatus struct {
	Status  string     `json:"status"`
	Error   string     `json:"error,omitempty"`
	Storage *PoolUsage `json:"storage,omitempty"`
}

// PoolUsage summarizes the connection pool at the time of the check.
type PoolUsage struct {
	Total    int32 `json:"total_conns"`
	Idle     int32 `json:"idle_conns"`
	Acquired int32 `json:"acquired_conns"`
	Max      int32 `json:"max_conns"`
}

func poolUsage(pool *pgxpool.Pool) *PoolUsage {
	s := pool.Stat()
	return &PoolUsage{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		Acquired: s.AcquiredConns(),
		Max:      s.MaxConns(),
	}
}

// HealthHandler reports whether storage answers a ping within the same
// timeout that bounds regular storage operations.
func HealthHandler(pool *pgxpool.Pool, timeout time.Duration) echo.HandlerFunc {
	return healthHandler(pool, func() *PoolUsage { return poolUsage(pool) }, timeout)
}

func healthHandler(p pinger, usage func() *PoolUsage, timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, HealthStatus{
				Status:  "unhealthy",
				Error:   err.Error(),
				Storage: usage(),
			})
		}
		return c.JSON(http.StatusOK, HealthStatus{
			Status:  "healthy",
			Storage: usage(),
		})
	}
}
