// Package ingestion accepts events over HTTP for producers without a broker
// client and forwards them to the topic exchange the pipeline consumes.
package ingestion

import (
	"context"

	"github.com/gin-gonic/gin"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
	"github.com/aevon-lab/report-core/internal/schema"
)

// Publisher forwards a validated envelope to the broker.
type Publisher interface {
	Publish(ctx context.Context, env *v1.Envelope) error
}

type Service struct {
	registry         *schema.Registry
	publisher        Publisher
	maxBodySizeBytes int
}

func NewService(reg *schema.Registry, pub Publisher, maxBodySizeMB int) *Service {
	if reg == nil {
		panic("ingestion: registry must not be nil")
	}
	if pub == nil {
		panic("ingestion: publisher must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		registry:         reg,
		publisher:        pub,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
}
