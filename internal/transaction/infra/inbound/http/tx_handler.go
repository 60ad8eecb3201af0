package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/txpipeline/internal/transaction/application"
	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
	"github.com/davicafu/txpipeline/pkg/utils"
)

const (
	defaultBurstCount  = 100
	defaultStreamCount = 200
	defaultStreamRate  = 50
	defaultStatsDays   = 7
)

// ProducerHandler expone los endpoints de generación de carga.
// Responden cuando el broker ha confirmado, no cuando se ha persistido.
type ProducerHandler struct {
	service *application.ProducerService
}

func NewProducerHandler(service *application.ProducerService) *ProducerHandler {
	return &ProducerHandler{service: service}
}

// PublishOne endpoint POST /api/tx/one
func (h *ProducerHandler) PublishOne(c *gin.Context) {
	if _, err := h.service.PublishOne(c.Request.Context()); err != nil {
		sendPublishError(c, err)
		return
	}
	utils.SendOK(c, nil)
}

// PublishBurst endpoint POST /api/tx/burst?count=N
func (h *ProducerHandler) PublishBurst(c *gin.Context) {
	count, ok := positiveQueryInt(c, "count", defaultBurstCount)
	if !ok {
		return
	}
	sent, err := h.service.PublishBurst(c.Request.Context(), count)
	if err != nil {
		sendPublishError(c, err)
		return
	}
	utils.SendOK(c, gin.H{"sent": sent})
}

// PublishStream endpoint POST /api/tx/stream?count=N&ratePerSec=R
func (h *ProducerHandler) PublishStream(c *gin.Context) {
	count, ok := positiveQueryInt(c, "count", defaultStreamCount)
	if !ok {
		return
	}
	rate, ok := positiveQueryInt(c, "ratePerSec", defaultStreamRate)
	if !ok {
		return
	}
	sent, err := h.service.PublishStream(c.Request.Context(), count, rate)
	if err != nil {
		sendPublishError(c, err)
		return
	}
	utils.SendOK(c, gin.H{"sent": sent, "rate": rate})
}

func sendPublishError(c *gin.Context, err error) {
	var sendErr *txDomain.BrokerSendError
	switch {
	case errors.Is(err, application.ErrInvalidLoadParams):
		utils.SendBadRequest(c, err.Error())
	case errors.As(err, &sendErr):
		utils.SendBadGateway(c, err.Error())
	default:
		utils.SendInternalServerError(c, err.Error())
	}
}

// ConsumerHandler expone las lecturas de lo persistido.
type ConsumerHandler struct {
	queries *application.QueryService
	now     func() time.Time
}

func NewConsumerHandler(queries *application.QueryService) *ConsumerHandler {
	return &ConsumerHandler{queries: queries, now: time.Now}
}

// ListRecent endpoint GET /api/tx/all
func (h *ConsumerHandler) ListRecent(c *gin.Context) {
	limit, ok := positiveQueryInt(c, "limit", application.MaxRecentTransactions)
	if !ok {
		return
	}
	txs, err := h.queries.ListRecent(c.Request.Context(), limit)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, txs)
}

// GetByID endpoint GET /api/tx/:id
func (h *ConsumerHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid transaction id")
		return
	}
	tx, err := h.queries.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, txDomain.ErrTransactionNotFound) {
			utils.SendNotFound(c, "transaction not found")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, tx)
}

// DailyVolume endpoint GET /api/tx/stats/daily?days=D
func (h *ConsumerHandler) DailyVolume(c *gin.Context) {
	days, ok := positiveQueryInt(c, "days", defaultStatsDays)
	if !ok {
		return
	}
	stats, err := h.queries.DailyVolume(c.Request.Context(), days, h.now())
	if err != nil {
		if errors.Is(err, application.ErrAnalyticsDisabled) {
			utils.SendServiceUnavailable(c, err.Error())
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

// positiveQueryInt lee un entero positivo opcional; si es inválido responde 400.
func positiveQueryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		utils.SendBadRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}
