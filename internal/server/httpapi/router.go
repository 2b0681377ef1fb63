package httpapi

import (
	"net/http"

	"github.com/astepanov/syncbox/internal/server/config"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP routing table around the handler set.
func NewRouter(cfg *config.Config, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/refresh", h.Refresh)

	api := r.Group("/api")
	api.Use(Auth([]byte(cfg.SecretKey)))
	{
		api.POST("/sync/init", h.InitSync)
		api.GET("/sync/changes", h.GetChanges)
		api.PUT("/sync/submit", h.SubmitChange)
		api.GET("/sync/conflicts", h.ListConflicts)
		api.PUT("/sync/resolve", h.ResolveConflict)

		api.GET("/checksums", h.BatchChecksums)
		api.POST("/checksums/verify", h.VerifyChecksum)

		api.GET("/quota", h.GetQuota)
		api.POST("/quota/reconcile", h.ReconcileQuota)
		api.PUT("/quota", RequireAdmin(), h.SetQuotaLimit)

		api.GET("/files/:id/content", h.DownloadFile)
		api.DELETE("/files/:id", h.DeleteFile)
	}
	return r
}
