// Package api provides HTTP handlers for the REST API endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/models"
	"github.com/stwalsh4118/cadence/internal/playback"
	"github.com/stwalsh4118/cadence/internal/resolver"
)

const (
	commandTimeout = 5 * time.Second
	resolveTimeout = 2 * time.Minute

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// sessionManager defines the playback operations SessionHandler depends on
type sessionManager interface {
	JoinSession(ctx context.Context, id playback.SessionID, outputChannel string) (playback.SessionInfo, error)
	LeaveSession(ctx context.Context, id playback.SessionID) error
	RegisterListener(ctx context.Context, id playback.SessionID) (int, error)
	UnregisterListener(ctx context.Context, id playback.SessionID) (int, error)
	PlayOrQueue(ctx context.Context, id playback.SessionID, locator, requester string) (playback.PlayResult, error)
	LoadPlaylist(ctx context.Context, id playback.SessionID, locator, requester string) (*playback.BulkSummary, error)
	LastBulkSummary(ctx context.Context, id playback.SessionID) (*playback.BulkSummary, bool, error)
	Skip(ctx context.Context, id playback.SessionID) (playback.TrackInfo, error)
	Pause(ctx context.Context, id playback.SessionID) error
	Resume(ctx context.Context, id playback.SessionID) error
	StopPlayback(ctx context.Context, id playback.SessionID) error
	ClearQueue(ctx context.Context, id playback.SessionID) (int, error)
	Remove(ctx context.Context, id playback.SessionID, position int) (playback.TrackInfo, error)
	ListQueue(ctx context.Context, id playback.SessionID) (playback.QueueListing, error)
	SetVolume(ctx context.Context, id playback.SessionID, percent int) error
	SetLoopMode(ctx context.Context, id playback.SessionID, mode playback.LoopMode) error
	NowPlaying(ctx context.Context, id playback.SessionID) (playback.NowPlaying, error)
	SessionInfo(ctx context.Context, id playback.SessionID) (playback.SessionInfo, error)
	ListSessions(ctx context.Context) ([]playback.SessionInfo, error)
}

// historyLister reads recorded playback history
type historyLister interface {
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.PlaybackHistory, error)
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Request/Response DTOs

// JoinSessionRequest represents a request to connect a session to an output channel
type JoinSessionRequest struct {
	OutputChannel string `json:"output_channel" binding:"required"`
}

// PlayRequest represents a request to play or queue a locator
type PlayRequest struct {
	Locator     string `json:"locator" binding:"required"`
	RequestedBy string `json:"requested_by,omitempty"`
	// Wait loads a playlist synchronously and returns its summary
	Wait bool `json:"wait,omitempty"`
}

// VolumeRequest represents a request to change the session volume
type VolumeRequest struct {
	Percent *int `json:"percent" binding:"required"`
}

// LoopRequest represents a request to change the loop mode
type LoopRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// ListenerResponse reports the listener count after a change
type ListenerResponse struct {
	Listeners int `json:"listeners"`
}

// ClearQueueResponse reports how many pending tracks were removed
type ClearQueueResponse struct {
	Removed int `json:"removed"`
}

// SkipResponse reports the track that was skipped
type SkipResponse struct {
	Skipped playback.TrackInfo `json:"skipped"`
}

// SessionListResponse represents all live sessions
type SessionListResponse struct {
	Sessions []playback.SessionInfo `json:"sessions"`
}

// HistoryResponse represents a page of playback history
type HistoryResponse struct {
	Entries []*models.PlaybackHistory `json:"entries"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

// SessionHandler handles session playback API requests
type SessionHandler struct {
	manager sessionManager
	history historyLister
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(manager *playback.Manager, history historyLister) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		history: history,
	}
}

// sessionID parses the :session_id path parameter, writing a 400 on failure
func sessionID(c *gin.Context) (playback.SessionID, bool) {
	raw := c.Param("session_id")
	id, err := playback.ParseSessionID(raw)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid session ID format",
		})
		return 0, false
	}
	return id, true
}

// writeError maps playback and resolver errors onto HTTP responses
func writeError(c *gin.Context, id playback.SessionID, op string, err error) {
	status, body := errorResponse(err)

	event := logger.Log.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Log.Error()
	}
	event.Err(err).
		Str("session_id", id.String()).
		Str("op", op).
		Int("status", status).
		Msg("Session request failed")

	c.JSON(status, body)
}

func errorResponse(err error) (int, ErrorResponse) {
	var resolveErr *resolver.ResolveError
	var playbackErr *playback.PlaybackError

	switch {
	case errors.Is(err, playback.ErrInvalidVolume), errors.Is(err, playback.ErrInvalidLoopMode),
		errors.Is(err, resolver.ErrEmptyLocator):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()}
	case errors.Is(err, playback.ErrManagerStopped):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "shutting_down", Message: "Playback is shutting down"}
	case playback.IsNotConnected(err):
		return http.StatusNotFound, ErrorResponse{Error: "not_connected", Message: "Session is not connected"}
	case playback.IsNotPlaying(err):
		return http.StatusConflict, ErrorResponse{Error: "not_playing", Message: "Nothing is playing"}
	case playback.IsNotPaused(err):
		return http.StatusConflict, ErrorResponse{Error: "not_paused", Message: "Playback is not paused"}
	case errors.Is(err, playback.ErrBulkLoadInProgress):
		return http.StatusConflict, ErrorResponse{Error: "bulk_load_in_progress", Message: "A playlist is already loading"}
	case errors.Is(err, playback.ErrLoadCancelled):
		return http.StatusConflict, ErrorResponse{Error: "load_cancelled", Message: "The queue was cleared while loading"}
	case playback.IsIndexOutOfRange(err):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "index_out_of_range", Message: err.Error()}
	case errors.Is(err, resolver.ErrNoResults):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "no_results", Message: "No results for that search"}
	case errors.As(err, &resolveErr):
		if resolveErr.Kind == resolver.KindExtractionFailed || resolveErr.Kind == resolver.KindUnknown {
			return http.StatusBadGateway, ErrorResponse{Error: resolveErr.Kind.String(), Message: resolveErr.Message}
		}
		return http.StatusUnprocessableEntity, ErrorResponse{Error: resolveErr.Kind.String(), Message: resolveErr.Message}
	case errors.As(err, &playbackErr):
		if playbackErr.Kind == playback.DeviceUnavailable {
			return http.StatusBadGateway, ErrorResponse{Error: "device_unavailable", Message: "Output device is unavailable"}
		}
		return http.StatusBadGateway, ErrorResponse{Error: "playback_failed", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "timeout", Message: "The request timed out"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Request failed"}
	}
}

// ListSessions handles GET /api/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	sessions, err := h.manager.ListSessions(ctx)
	if err != nil {
		writeError(c, 0, "list_sessions", err)
		return
	}
	if sessions == nil {
		sessions = []playback.SessionInfo{}
	}
	c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions})
}

// JoinSession handles PUT /api/sessions/:session_id
func (h *SessionHandler) JoinSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	info, err := h.manager.JoinSession(ctx, id, strings.TrimSpace(req.OutputChannel))
	if err != nil {
		writeError(c, id, "join", err)
		return
	}

	logger.Log.Info().
		Str("session_id", id.String()).
		Str("output_channel", info.OutputChannel).
		Msg("Session joined")

	c.JSON(http.StatusOK, info)
}

// LeaveSession handles DELETE /api/sessions/:session_id
func (h *SessionHandler) LeaveSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	if err := h.manager.LeaveSession(ctx, id); err != nil {
		writeError(c, id, "leave", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSession handles GET /api/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	info, err := h.manager.SessionInfo(ctx, id)
	if err != nil {
		writeError(c, id, "info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// RegisterListener handles POST /api/sessions/:session_id/listeners
func (h *SessionHandler) RegisterListener(c *gin.Context) {
	h.changeListeners(c, "register_listener", h.manager.RegisterListener)
}

// UnregisterListener handles DELETE /api/sessions/:session_id/listeners
func (h *SessionHandler) UnregisterListener(c *gin.Context) {
	h.changeListeners(c, "unregister_listener", h.manager.UnregisterListener)
}

func (h *SessionHandler) changeListeners(c *gin.Context, op string, fn func(context.Context, playback.SessionID) (int, error)) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	count, err := fn(ctx, id)
	if err != nil {
		writeError(c, id, op, err)
		return
	}
	c.JSON(http.StatusOK, ListenerResponse{Listeners: count})
}

// AddTrack handles POST /api/sessions/:session_id/tracks
func (h *SessionHandler) AddTrack(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}
	locator := strings.TrimSpace(req.Locator)

	if req.Wait && resolver.IsURL(locator) && resolver.IsPlaylist(locator) {
		// a synchronous load runs for as long as the client stays connected
		summary, err := h.manager.LoadPlaylist(c.Request.Context(), id, locator, req.RequestedBy)
		if err != nil {
			writeError(c, id, "load_playlist", err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), resolveTimeout)
	defer cancel()

	result, err := h.manager.PlayOrQueue(ctx, id, locator, req.RequestedBy)
	if err != nil {
		writeError(c, id, "play", err)
		return
	}

	status := http.StatusCreated
	if result.Kind == playback.PlaylistLoading {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// Skip handles POST /api/sessions/:session_id/skip
func (h *SessionHandler) Skip(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	skipped, err := h.manager.Skip(ctx, id)
	if err != nil {
		writeError(c, id, "skip", err)
		return
	}
	c.JSON(http.StatusOK, SkipResponse{Skipped: skipped})
}

// Pause handles POST /api/sessions/:session_id/pause
func (h *SessionHandler) Pause(c *gin.Context) {
	h.command(c, "pause", h.manager.Pause)
}

// Resume handles POST /api/sessions/:session_id/resume
func (h *SessionHandler) Resume(c *gin.Context) {
	h.command(c, "resume", h.manager.Resume)
}

// Stop handles POST /api/sessions/:session_id/stop
func (h *SessionHandler) Stop(c *gin.Context) {
	h.command(c, "stop", h.manager.StopPlayback)
}

func (h *SessionHandler) command(c *gin.Context, op string, fn func(context.Context, playback.SessionID) error) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	if err := fn(ctx, id); err != nil {
		writeError(c, id, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListQueue handles GET /api/sessions/:session_id/queue
func (h *SessionHandler) ListQueue(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	listing, err := h.manager.ListQueue(ctx, id)
	if err != nil {
		writeError(c, id, "list_queue", err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// ClearQueue handles DELETE /api/sessions/:session_id/queue
func (h *SessionHandler) ClearQueue(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	removed, err := h.manager.ClearQueue(ctx, id)
	if err != nil {
		writeError(c, id, "clear_queue", err)
		return
	}
	c.JSON(http.StatusOK, ClearQueueResponse{Removed: removed})
}

// RemoveFromQueue handles DELETE /api/sessions/:session_id/queue/:position
func (h *SessionHandler) RemoveFromQueue(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_position",
			Message: "Position must be a number",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	removed, err := h.manager.Remove(ctx, id, position)
	if err != nil {
		writeError(c, id, "remove", err)
		return
	}
	c.JSON(http.StatusOK, removed)
}

// SetVolume handles PUT /api/sessions/:session_id/volume
func (h *SessionHandler) SetVolume(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req VolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	if err := h.manager.SetVolume(ctx, id, *req.Percent); err != nil {
		writeError(c, id, "set_volume", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetLoop handles PUT /api/sessions/:session_id/loop
func (h *SessionHandler) SetLoop(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req LoopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	mode := playback.LoopMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if err := h.manager.SetLoopMode(ctx, id, mode); err != nil {
		writeError(c, id, "set_loop", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NowPlaying handles GET /api/sessions/:session_id/now-playing
func (h *SessionHandler) NowPlaying(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	np, err := h.manager.NowPlaying(ctx, id)
	if err != nil {
		writeError(c, id, "now_playing", err)
		return
	}
	c.JSON(http.StatusOK, np)
}

// GetPlaylistLoad handles GET /api/sessions/:session_id/playlist-load
func (h *SessionHandler) GetPlaylistLoad(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	summary, found, err := h.manager.LastBulkSummary(ctx, id)
	if err != nil {
		writeError(c, id, "playlist_load", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No playlist has been loaded in this session",
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetHistory handles GET /api/sessions/:session_id/history
func (h *SessionHandler) GetHistory(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit", defaultHistoryLimit)
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_limit",
			Message: "limit must be between 1 and 500",
		})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_offset",
			Message: "offset must be a non-negative number",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	entries, err := h.history.ListBySession(ctx, id.String(), limit, offset)
	if err != nil {
		logger.Log.Error().
			Err(err).
			Str("session_id", id.String()).
			Msg("Failed to list playback history")

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: "Failed to retrieve playback history",
		})
		return
	}
	if entries == nil {
		entries = []*models.PlaybackHistory{}
	}

	c.JSON(http.StatusOK, HistoryResponse{Entries: entries, Limit: limit, Offset: offset})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// SetupSessionRoutes registers session playback routes
func SetupSessionRoutes(apiGroup *gin.RouterGroup, manager *playback.Manager, history historyLister) {
	handler := NewSessionHandler(manager, history)
	registerSessionRoutes(apiGroup, handler)
}

func registerSessionRoutes(apiGroup *gin.RouterGroup, handler *SessionHandler) {
	apiGroup.GET("/sessions", handler.ListSessions)

	sessions := apiGroup.Group("/sessions/:session_id")
	sessions.GET("", handler.GetSession)
	sessions.PUT("", handler.JoinSession)
	sessions.DELETE("", handler.LeaveSession)

	sessions.POST("/listeners", handler.RegisterListener)
	sessions.DELETE("/listeners", handler.UnregisterListener)

	sessions.POST("/tracks", handler.AddTrack)
	sessions.POST("/skip", handler.Skip)
	sessions.POST("/pause", handler.Pause)
	sessions.POST("/resume", handler.Resume)
	sessions.POST("/stop", handler.Stop)

	sessions.GET("/queue", handler.ListQueue)
	sessions.DELETE("/queue", handler.ClearQueue)
	sessions.DELETE("/queue/:position", handler.RemoveFromQueue)

	sessions.PUT("/volume", handler.SetVolume)
	sessions.PUT("/loop", handler.SetLoop)

	sessions.GET("/now-playing", handler.NowPlaying)
	sessions.GET("/playlist-load", handler.GetPlaylistLoad)
	sessions.GET("/history", handler.GetHistory)
}
