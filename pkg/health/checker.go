package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	redisclient "github.com/aeroride/carpool/pkg/redis"
)

// Status is a single dependency check outcome.
type Status struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes the process dependencies.
type Checker struct {
	db    *pgxpool.Pool
	redis *redisclient.Client
}

// NewChecker creates a health checker over the given dependencies.
func NewChecker(db *pgxpool.Pool, redis *redisclient.Client) *Checker {
	return &Checker{db: db, redis: redis}
}

// Liveness always reports the process as up.
func (h *Checker) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness probes the database and, when enabled, the cache backend. The
// cache is best-effort so a down Redis degrades readiness detail without
// failing the check.
func (h *Checker) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Status{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = Status{Healthy: false, Detail: err.Error()}
		healthy = false
	} else {
		checks["database"] = Status{Healthy: true}
	}

	if h.redis.Enabled() {
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = Status{Healthy: false, Detail: "cache degraded: " + err.Error()}
		} else {
			checks["redis"] = Status{Healthy: true}
		}
	} else {
		checks["redis"] = Status{Healthy: true, Detail: "cache disabled"}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": healthy, "checks": checks})
}
