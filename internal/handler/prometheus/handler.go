package prometheus

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the process-wide Prometheus registry, which carries
// the promauto-registered application metrics.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
