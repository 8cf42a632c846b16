package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
	"github.com/MarcoPoloResearchLab/diagramsync/internal/wire"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("diagram store dependency required")

// DiagramStore persists diagrams behind the sync endpoints.
type DiagramStore interface {
	Put(ctx context.Context, diagram diagrams.Diagram) error
	Get(ctx context.Context, diagramID string) (diagrams.Diagram, bool, error)
	List(ctx context.Context) ([]diagrams.ListItem, error)
}

type Dependencies struct {
	Store             DiagramStore
	Codec             *wire.Codec
	Realtime          *RealtimeDispatcher
	Clock             func() time.Time
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := deps.Codec
	if codec == nil {
		codec = wire.NewCodec(nil)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = realtimeHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		store:     deps.Store,
		codec:     codec,
		realtime:  deps.Realtime,
		clock:     clock,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/health", handler.handleHealth)

	syncGroup := router.Group("/api/sync")
	syncGroup.POST("/push", handler.handlePush)
	syncGroup.GET("/pull/:id", handler.handlePull)
	syncGroup.GET("/diagrams", handler.handleListDiagrams)
	syncGroup.GET("/stream", handler.handleStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", "Accept", "Cache-Control"},
		MaxAge:          12 * time.Hour,
	})
}

type httpHandler struct {
	store     DiagramStore
	codec     *wire.Codec
	realtime  *RealtimeDispatcher
	clock     func() time.Time
	heartbeat time.Duration
	logger    *zap.Logger
}

type errorResponsePayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type pushRequestPayload struct {
	Diagram *wire.Diagram `json:"diagram"`
}

type pushResponsePayload struct {
	Success   bool   `json:"success"`
	DiagramID string `json:"diagram_id"`
}

type listItemPayload struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	DatabaseType    string  `json:"database_type"`
	DatabaseEdition *string `json:"database_edition,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type realtimeEventPayload struct {
	DiagramIDs []string `json:"diagramIds,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handlePush(c *gin.Context) {
	var request pushRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Diagram == nil {
		c.JSON(http.StatusBadRequest, errorResponsePayload{Error: "diagram payload required", Code: "invalid_request"})
		return
	}

	diagramID, err := diagrams.NewDiagramID(request.Diagram.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponsePayload{Error: err.Error(), Code: "invalid_request"})
		return
	}

	diagram, err := h.codec.Decode(*request.Diagram)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponsePayload{Error: err.Error(), Code: "invalid_request"})
		return
	}
	diagram.ID = diagramID.String()

	if err := h.store.Put(c.Request.Context(), diagram); err != nil {
		if errors.Is(err, diagrams.ErrStaleDiagram) {
			h.logger.Info("stale diagram push rejected", zap.String("diagram_id", diagram.ID))
			c.JSON(http.StatusConflict, errorResponsePayload{Error: "stale diagram", Code: "stale_update"})
			return
		}
		h.logger.Error("failed to store diagram", zap.String("diagram_id", diagram.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponsePayload{Error: "push failed", Code: "push_failed"})
		return
	}

	if h.realtime != nil {
		h.realtime.Publish(RealtimeMessage{
			EventType:  RealtimeEventDiagramChanged,
			DiagramIDs: []string{diagram.ID},
			Timestamp:  h.clock().UTC(),
		})
	}

	c.JSON(http.StatusOK, pushResponsePayload{Success: true, DiagramID: diagram.ID})
}

func (h *httpHandler) handlePull(c *gin.Context) {
	diagramID := c.Param("id")
	diagram, found, err := h.store.Get(c.Request.Context(), diagramID)
	if err != nil {
		h.logger.Error("failed to load diagram", zap.String("diagram_id", diagramID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponsePayload{Error: "pull failed", Code: "pull_failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, errorResponsePayload{Error: "diagram not found", Code: "not_found"})
		return
	}
	c.JSON(http.StatusOK, h.codec.Encode(diagram))
}

func (h *httpHandler) handleListDiagrams(c *gin.Context) {
	items, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list diagrams", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponsePayload{Error: "list failed", Code: "list_failed"})
		return
	}

	response := make([]listItemPayload, 0, len(items))
	for _, item := range items {
		response = append(response, listItemPayload{
			ID:              item.ID,
			Name:            item.Name,
			DatabaseType:    string(item.DatabaseType),
			DatabaseEdition: item.DatabaseEdition,
			CreatedAt:       wire.FormatTimestamp(item.CreatedAt),
			UpdatedAt:       wire.FormatTimestamp(item.UpdatedAt),
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleStream(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponsePayload{Error: "realtime unavailable", Code: "stream_unavailable"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{Timestamp: wire.FormatTimestamp(h.clock())})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				DiagramIDs: message.DiagramIDs,
				Timestamp:  wire.FormatTimestamp(message.Timestamp),
			})
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{Timestamp: wire.FormatTimestamp(h.clock())})
			return true
		}
	})
}
