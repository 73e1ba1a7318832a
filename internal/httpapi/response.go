// Package httpapi is the gin transport layer: routing, the response
// envelope, caller identity and per-buyer rate limiting.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/bosquejun/flashdrop/internal/apperr"
	"github.com/bosquejun/flashdrop/internal/obs"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ok writes the success envelope.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// fail maps err onto the error envelope. Infrastructure failures are logged
// with their cause; the caller only sees the generic 500.
func fail(c *gin.Context, err error) {
	ae := apperr.From(err)
	if ae.Status >= 500 {
		obs.Logger.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(ae.Status, gin.H{
		"success": false,
		"error":   errorBody{Code: ae.Code, Message: ae.Message},
	})
}

func abort(c *gin.Context, err error) {
	fail(c, err)
	c.Abort()
}
