package ingestion

import (
	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	"github.com/aevon-lab/carbonrelay/internal/instrumentation"
	"github.com/gin-gonic/gin"
)

// Deliverer accepts one datapoint for asynchronous processing without
// blocking. *aggregation.Dispatcher satisfies it.
type Deliverer interface {
	Deliver(metric string, dp v1.Datapoint) error
}

type Service struct {
	deliverer        Deliverer
	metrics          *instrumentation.Metrics
	maxBodySizeBytes int
}

func NewService(d Deliverer, maxBodySizeMB int, metrics *instrumentation.Metrics) *Service {
	if d == nil {
		panic("ingestion: deliverer must not be nil")
	}
	if metrics == nil {
		metrics = instrumentation.New(nil)
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		deliverer:        d,
		metrics:          metrics,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/datapoints", s.IngestHandler)
}
