package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callhub-backend/internal/orchestrator"
	"callhub-backend/internal/signaling"
	apperrors "callhub-backend/pkg/errors"
	"callhub-backend/pkg/response"
)

// Handler handles call HTTP requests. Every operation routes through the
// caller's live orchestrator so REST and WebSocket act on the same state.
type Handler struct {
	hub   *orchestrator.Hub
	store *signaling.Store
}

// NewHandler creates a new call handler
func NewHandler(hub *orchestrator.Hub, store *signaling.Store) *Handler {
	return &Handler{hub: hub, store: store}
}

// StartCallRequest represents a 1:1 call initiation request
type StartCallRequest struct {
	Callee string `json:"callee" binding:"required"`
	Video  bool   `json:"video"`
}

// StartGroupCallRequest represents a group call start request
type StartGroupCallRequest struct {
	GroupID   string `json:"group_id" binding:"required"`
	GroupName string `json:"group_name"`
	Video     bool   `json:"video"`
}

// AcceptCallRequest carries the answerer's camera choice
type AcceptCallRequest struct {
	Video bool `json:"video"`
}

// JoinGroupCallRequest represents a group call join request
type JoinGroupCallRequest struct {
	Video bool `json:"video"`
}

// StartCall places a 1:1 call
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	record, err := orch.StartDirectCall(c.Request.Context(), req.Callee, req.Video)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, record)
}

// AcceptCall answers an incoming call
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	// The body is optional; an empty accept answers audio-only.
	var req AcceptCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	record, err := orch.AcceptCall(c.Request.Context(), callID, req.Video)
	if err != nil {
		response.AppError(c, err)
		return
	}
	if record == nil {
		// The call was already answered elsewhere or torn down. Not an
		// error from the client's point of view.
		response.Success(c, http.StatusOK, gin.H{"call_id": callID, "accepted": false})
		return
	}

	response.Success(c, http.StatusOK, record)
}

// RejectCall declines an incoming call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	if err := orch.RejectCall(c.Request.Context(), callID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"call_id": callID, "rejected": true})
}

// EndCall hangs up the current 1:1 call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	if err := orch.EndCall(c.Request.Context(), callID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"call_id": callID, "ended": true})
}

// GetCall retrieves a call record
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	record, err := h.store.GetDirectCall(c.Request.Context(), callID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, record)
}

// GetState returns the caller's current call snapshot
// GET /v1/calls/state
func (h *Handler) GetState(c *gin.Context) {
	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	response.Success(c, http.StatusOK, orch.Snapshot())
}

// GetHistory returns the caller's recent call events
// GET /v1/calls/history
func (h *Handler) GetHistory(c *gin.Context) {
	address, ok := h.address(c)
	if !ok {
		return
	}

	events, err := h.store.CallHistory(address, 50)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// StartGroupCall starts or joins the group's active call
// POST /v1/calls/group
func (h *Handler) StartGroupCall(c *gin.Context) {
	var req StartGroupCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	call, err := orch.StartGroupCall(c.Request.Context(), req.GroupID, req.GroupName, req.Video)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, call)
}

// JoinGroupCall joins a known active group call
// POST /v1/calls/group/:id/join
func (h *Handler) JoinGroupCall(c *gin.Context) {
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	var req JoinGroupCallRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.ValidationError(c, err.Error())
		return
	}

	record, err := h.store.GetGroupCall(c.Request.Context(), callID)
	if err != nil {
		if apperrors.IsCallNotFound(err) {
			response.Success(c, http.StatusOK, gin.H{"call_id": callID, "joined": false})
			return
		}
		response.AppError(c, err)
		return
	}

	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	joined, err := orch.JoinGroupCall(c.Request.Context(), record, req.Video)
	if err != nil {
		response.AppError(c, err)
		return
	}
	if joined == nil {
		// Stale banner: the call ended between the prompt and the click.
		response.Success(c, http.StatusOK, gin.H{"call_id": callID, "joined": false})
		return
	}

	response.Success(c, http.StatusOK, joined)
}

// LeaveGroupCall leaves the joined group call
// POST /v1/calls/group/leave
func (h *Handler) LeaveGroupCall(c *gin.Context) {
	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	orch.LeaveGroupCall(c.Request.Context())
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// DismissGroupCall hides a group call banner for this user
// POST /v1/calls/group/:id/dismiss
func (h *Handler) DismissGroupCall(c *gin.Context) {
	callID, ok := h.callID(c)
	if !ok {
		return
	}

	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	orch.DismissGroupCall(callID)
	response.Success(c, http.StatusOK, gin.H{"call_id": callID, "dismissed": true})
}

// ToggleMute flips the microphone
// POST /v1/calls/media/mute
func (h *Handler) ToggleMute(c *gin.Context) {
	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	response.Success(c, http.StatusOK, gin.H{"muted": orch.ToggleMute()})
}

// ToggleVideo flips the camera
// POST /v1/calls/media/video
func (h *Handler) ToggleVideo(c *gin.Context) {
	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	response.Success(c, http.StatusOK, gin.H{"video_enabled": orch.ToggleVideo()})
}

// ToggleScreenShare flips screen sharing
// POST /v1/calls/media/screen
func (h *Handler) ToggleScreenShare(c *gin.Context) {
	orch, address, ok := h.session(c)
	if !ok {
		return
	}
	defer h.hub.Release(address)

	response.Success(c, http.StatusOK, gin.H{"screen_sharing": orch.ToggleScreenShare()})
}

// session acquires the caller's orchestrator from the hub. Callers must
// release it when ok is true.
func (h *Handler) session(c *gin.Context) (*orchestrator.Orchestrator, string, bool) {
	address, ok := h.address(c)
	if !ok {
		return nil, "", false
	}

	username, _ := c.Get("username")
	name, _ := username.(string)

	return h.hub.Acquire(address, name), address, true
}

func (h *Handler) address(c *gin.Context) (string, bool) {
	addressVal, exists := c.Get("address")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return "", false
	}

	address, ok := addressVal.(string)
	if !ok || address == "" {
		response.InternalError(c, "Invalid address")
		return "", false
	}

	return address, true
}

func (h *Handler) callID(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}
