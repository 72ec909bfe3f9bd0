package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lilkinjongun/pncp-monitor/internal/monitor"
	"github.com/lilkinjongun/pncp-monitor/internal/notices"
	"go.uber.org/zap"
)

const (
	cronTokenHeader  = "X-Cron-Token"
	filterDateLayout = "2006-01-02"
)

var (
	errMissingStore    = errors.New("notice store dependency required")
	errMissingPipeline = errors.New("monitor pipeline dependency required")
)

// NoticeStore is the read surface the facade exposes.
type NoticeStore interface {
	Query(ctx context.Context, filter notices.QueryFilter) ([]notices.Notice, error)
	Count(ctx context.Context, filter notices.QueryFilter) (int64, error)
	Statistics(ctx context.Context) (notices.Statistics, error)
}

// Pipeline triggers one reconciliation run.
type Pipeline interface {
	Run(ctx context.Context, lookbackDays int, modalityCodes []int) monitor.Result
}

// DetailFetcher proxies single-notice lookups to the registry.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, cnpj string, year, sequence int) (json.RawMessage, error)
}

// Dependencies wires the facade's collaborators.
type Dependencies struct {
	Store            NoticeStore
	Pipeline         Pipeline
	Details          DetailFetcher
	CronToken        string
	MunicipalityName string
	LookbackDays     int
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router for the monitor facade.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Pipeline == nil {
		return nil, errMissingPipeline
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lookbackDays := deps.LookbackDays
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", cronTokenHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:            deps.Store,
		pipeline:         deps.Pipeline,
		details:          deps.Details,
		cronToken:        deps.CronToken,
		municipalityName: deps.MunicipalityName,
		lookbackDays:     lookbackDays,
		logger:           logger,
	}

	router.GET("/", handler.handleIndex)
	router.GET("/health", handler.handleHealth)
	router.GET("/api/stats", handler.handleStats)
	router.GET("/api/contratacoes", handler.handleListNotices)
	router.GET("/api/contratacoes/:cnpj/:ano/:sequencial", handler.handleNoticeDetail)
	router.POST("/api/monitor", handler.handleRunMonitor)
	router.POST("/api/monitor/auto", handler.handleRunMonitorAuto)

	return router, nil
}

type httpHandler struct {
	store            NoticeStore
	pipeline         Pipeline
	details          DetailFetcher
	cronToken        string
	municipalityName string
	lookbackDays     int
	logger           *zap.Logger
}

func (h *httpHandler) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"nome":      "PNCP Monitor API",
		"municipio": h.municipalityName,
		"endpoints": gin.H{
			"GET /health":            "Health check",
			"GET /api/stats":         "Estatísticas gerais",
			"GET /api/contratacoes":  "Lista de contratações",
			"POST /api/monitor":      "Executar monitoramento",
			"POST /api/monitor/auto": "Executar monitoramento (cron)",
		},
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.store.Statistics(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type noticePayload struct {
	ID               uint       `json:"id"`
	PurchaseNumber   string     `json:"numero_compra"`
	PurchaseYear     int        `json:"ano_compra"`
	PurchaseSequence int        `json:"sequencial_compra"`
	MunicipalityCode string     `json:"codigo_ibge"`
	AgencyCNPJ       string     `json:"cnpj_orgao"`
	AgencyName       string     `json:"orgao_nome"`
	Object           string     `json:"objeto"`
	EstimatedValue   float64    `json:"valor_estimado"`
	HomologatedValue *float64   `json:"valor_homologado"`
	ModalityCode     int        `json:"modalidade_codigo"`
	ModalityName     string     `json:"modalidade_nome"`
	PublishedAt      time.Time  `json:"data_publicacao"`
	Status           string     `json:"situacao"`
	PortalLink       string     `json:"link_pncp"`
	CapturedAt       time.Time  `json:"data_captura"`
	Notified         bool       `json:"notificado"`
	NotifiedAt       *time.Time `json:"data_notificacao"`
}

type listNoticesResponse struct {
	Total   int64           `json:"total"`
	Limit   int             `json:"limite"`
	Offset  int             `json:"offset"`
	Notices []noticePayload `json:"contratacoes"`
}

func (h *httpHandler) handleListNotices(c *gin.Context) {
	limit, err := intQuery(c, "limite", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limite"})
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offset"})
		return
	}

	filter := notices.QueryFilter{Limit: limit, Offset: offset}

	if raw := c.Query("modalidade"); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_modalidade"})
			return
		}
		filter.ModalityCode = &code
	}
	if raw := c.Query("dataInicio"); raw != "" {
		from, err := time.Parse(filterDateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_dataInicio"})
			return
		}
		filter.DateFrom = &from
	}
	if raw := c.Query("dataFim"); raw != "" {
		to, err := time.Parse(filterDateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_dataFim"})
			return
		}
		filter.DateTo = &to
	}

	result, err := h.store.Query(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query notices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	total, err := h.store.Count(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to count notices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed"})
		return
	}

	payload := make([]noticePayload, 0, len(result))
	for _, notice := range result {
		payload = append(payload, toNoticePayload(notice))
	}

	c.JSON(http.StatusOK, listNoticesResponse{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		Notices: payload,
	})
}

func (h *httpHandler) handleNoticeDetail(c *gin.Context) {
	if h.details == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "detail_unavailable"})
		return
	}

	year, yearErr := strconv.Atoi(c.Param("ano"))
	sequence, seqErr := strconv.Atoi(c.Param("sequencial"))
	cnpj := c.Param("cnpj")
	if cnpj == "" || yearErr != nil || seqErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_key"})
		return
	}

	detail, err := h.details.FetchDetail(c.Request.Context(), cnpj, year, sequence)
	if err != nil {
		h.logger.Warn("detail lookup failed", zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Data(http.StatusOK, "application/json", detail)
}

// handleRunMonitor triggers one reconciliation run. Transport status is 200
// even when the pipeline fails; the failure travels in the body.
func (h *httpHandler) handleRunMonitor(c *gin.Context) {
	result := h.pipeline.Run(c.Request.Context(), h.lookbackDays, nil)
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleRunMonitorAuto(c *gin.Context) {
	if h.cronToken == "" || c.GetHeader(cronTokenHeader) != h.cronToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.handleRunMonitor(c)
}

func toNoticePayload(notice notices.Notice) noticePayload {
	return noticePayload{
		ID:               notice.ID,
		PurchaseNumber:   notice.PurchaseNumber,
		PurchaseYear:     notice.PurchaseYear,
		PurchaseSequence: notice.PurchaseSequence,
		MunicipalityCode: notice.MunicipalityCode,
		AgencyCNPJ:       notice.AgencyCNPJ,
		AgencyName:       notice.AgencyName,
		Object:           notice.Object,
		EstimatedValue:   notice.EstimatedValue,
		HomologatedValue: notice.HomologatedValue,
		ModalityCode:     notice.ModalityCode,
		ModalityName:     notice.ModalityName,
		PublishedAt:      notice.PublishedAt,
		Status:           notice.Status,
		PortalLink:       notice.PortalLink,
		CapturedAt:       notice.CapturedAt,
		Notified:         notice.Notified,
		NotifiedAt:       notice.NotifiedAt,
	}
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer parameter")
	}
	return value, nil
}
