package controllers

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/assetlink/api/models"
	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/tool"
	"github.com/moyoez/assetlink/types"
)

type StatusController struct {
	store           *asset.Store
	slot            *models.UploadSlot
	sessions        *models.SessionRegistry
	notifyWSEnabled bool
}

func NewStatusController(store *asset.Store, slot *models.UploadSlot, sessions *models.SessionRegistry, notifyWSEnabled bool) *StatusController {
	return &StatusController{
		store:           store,
		slot:            slot,
		sessions:        sessions,
		notifyWSEnabled: notifyWSEnabled,
	}
}

// UserStatus returns live and recent sessions.
// GET /api/self/v1/status
func (ctrl *StatusController) UserStatus(c *gin.Context) {
	platforms, err := ctrl.store.Platforms()
	if err != nil {
		tool.DefaultLogger.Warnf("[Status] failed to list platforms: %v", err)
		platforms = []string{}
	}
	writeJSON(c, http.StatusOK, &types.StatusResponse{
		Running:          true,
		UploadInProgress: ctrl.slot.InProgress(),
		NotifyWSEnabled:  ctrl.notifyWSEnabled,
		Platforms:        platforms,
		Active:           ctrl.sessions.Active(),
		Recent:           ctrl.sessions.Recent(),
	})
}

// UserSession returns one session by id.
// GET /api/self/v1/sessions/:id
func (ctrl *StatusController) UserSession(c *gin.Context) {
	info, ok := ctrl.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, tool.FastReturnError("Session not found or expired"))
		return
	}
	writeJSON(c, http.StatusOK, tool.FastReturnSuccessWithData(info))
}

func writeJSON(c *gin.Context, code int, v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		c.JSON(http.StatusInternalServerError, tool.FastReturnError("Failed to encode response"))
		return
	}
	c.Data(code, "application/json; charset=utf-8", payload)
}
