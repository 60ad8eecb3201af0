package http

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/txpipeline/pkg/logger"
)

// CorrelationMiddleware toma X-Correlation-Id (o genera uno), lo devuelve en
// la respuesta y lo deja en el contexto de la petición. El id viaja en el
// context.Context, nunca en estado compartido entre goroutines.
func CorrelationMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(logger.CorrelationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(logger.CorrelationHeader, cid)

		ctx := logger.WithCorrelationID(c.Request.Context(), cid)
		c.Request = c.Request.WithContext(ctx)

		logger.FromContext(ctx, log).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		c.Next()
	}
}
