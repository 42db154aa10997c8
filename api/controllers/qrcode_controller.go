package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/moyoez/assetlink/asset"
	"github.com/moyoez/assetlink/tool"
)

const (
	defaultQRSize = 200
	maxQRSize     = 512
)

type QRCodeController struct {
	secure bool
}

func NewQRCodeController(secure bool) *QRCodeController {
	return &QRCodeController{secure: secure}
}

// DownloadQRCode returns a PNG QR code holding the download URL of one asset on this server.
// GET /api/self/v1/qrcode?platform=xxx&name=xxx&size=200x200
func (ctrl *QRCodeController) DownloadQRCode(c *gin.Context) {
	platform := c.Query("platform")
	name := c.Query("name")
	if platform == "" || name == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing required parameter: platform and name"))
		return
	}
	if asset.ValidateSegment(platform) != nil || asset.ValidateSegment(name) != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid platform or name"))
		return
	}

	link, err := tool.BuildDownloadURL(c.Request.Host, ctrl.secure, platform, name)
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Failed to build download url: "+err.Error()))
		return
	}

	size := parseSize(c.Query("size"))
	if size <= 0 {
		size = defaultQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}

	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, tool.FastReturnError("Failed to encode QR code: "+err.Error()))
		return
	}
	c.Header("X-Download-URL", link)
	c.Data(http.StatusOK, "image/png", png)
}

// parseSize parses size from "200x200" or "200" and returns the pixel dimension.
func parseSize(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if idx := strings.Index(s, "x"); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
