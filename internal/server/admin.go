package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	coreagg "github.com/aevon-lab/carbonrelay/internal/core/aggregation"
	httperr "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/instrumentation"
	"github.com/aevon-lab/carbonrelay/internal/relay"
	"github.com/gin-gonic/gin"
)

// Admin serves the relay's operational endpoints: stats, ring lookups and
// ring membership changes.
type Admin struct {
	Router  *relay.Router
	Rules   *coreagg.RuleStore
	Buffers *coreagg.BufferTable
	Metrics *instrumentation.Metrics
	Pending func() int // inbound queue depth, optional
}

// RegisterRoutes registers the admin routes.
func (a *Admin) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stats", a.statsHandler)
	r.GET("/v1/ring/lookup/*metric", a.lookupHandler)
	r.PUT("/v1/ring/nodes/:node", a.addNodeHandler)
	r.DELETE("/v1/ring/nodes/:node", a.removeNodeHandler)
}

type destinationStats struct {
	Node     string `json:"node"`
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
}

func (a *Admin) statsHandler(c *gin.Context) {
	ring := a.Router.Ring()
	rules := a.Rules.Load()

	destinations := make([]destinationStats, 0)
	for _, q := range a.Router.Destinations() {
		destinations = append(destinations, destinationStats{Node: q.Name(), Queued: q.Len(), Capacity: q.Cap()})
	}
	pending := 0
	if a.Pending != nil {
		pending = a.Pending()
	}

	c.JSON(http.StatusOK, gin.H{
		"ring": gin.H{
			"nodes":         ring.Nodes(),
			"replica_count": ring.ReplicaCount(),
			"hash_type":     ring.HashType().String(),
			"method":        a.Router.Method(),
		},
		"rules": gin.H{
			"count":       rules.Len(),
			"fingerprint": rules.Fingerprint(),
		},
		"buffers":      a.Buffers.Len(),
		"pending":      pending,
		"destinations": destinations,
		"counters":     a.Metrics.Snapshot(),
	})
}

func (a *Admin) lookupHandler(c *gin.Context) {
	metric := strings.TrimPrefix(c.Param("metric"), "/")
	if metric == "" {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidDatapoint, "metric is required")
		return
	}

	nodes, err := a.Router.Lookup(metric)
	if err != nil {
		if errors.Is(err, httperr.ErrEmptyRing) {
			writeError(c, http.StatusServiceUnavailable, httperr.HttpUnroutableError, err.Error())
			return
		}
		slog.Error("[Admin] Ring lookup failed", "metric", metric, "error", err)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "ring lookup failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metric": metric,
		"key":    a.Router.Key(metric),
		"nodes":  nodes,
	})
}

func (a *Admin) addNodeHandler(c *gin.Context) {
	node := strings.TrimSpace(c.Param("node"))
	if node == "" {
		writeError(c, http.StatusBadRequest, httperr.HttpRingMutationFailed, "node is required")
		return
	}
	if _, err := a.Router.AddDestination(node); err != nil {
		writeError(c, http.StatusConflict, httperr.HttpRingMutationFailed, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "nodes": a.Router.Ring().Nodes()})
}

func (a *Admin) removeNodeHandler(c *gin.Context) {
	node := c.Param("node")
	if !a.Router.RemoveDestination(node) {
		writeError(c, http.StatusNotFound, httperr.HttpRingMutationFailed, "node is not a ring member")
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": node, "nodes": a.Router.Ring().Nodes()})
}

func writeError(c *gin.Context, status int, errorType, message string) {
	c.JSON(status, httperr.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
	})
}
