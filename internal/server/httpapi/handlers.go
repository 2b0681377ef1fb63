// Package httpapi exposes the sync core over HTTP: session handshake,
// change feed, submissions, conflict resolution, checksums, quota, and auth.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/astepanov/syncbox/internal/checksum"
	"github.com/astepanov/syncbox/internal/common"
	"github.com/astepanov/syncbox/internal/logging"
	"github.com/astepanov/syncbox/internal/server/models"
	"github.com/astepanov/syncbox/internal/server/services"
	"github.com/gin-gonic/gin"
)

// Handler carries the services behind the HTTP surface.
type Handler struct {
	sync     *services.SyncService
	users    *services.UserService
	quotas   *services.QuotaService
	resolver *services.ConflictResolver
	logger   logging.Logger
}

// NewHandler constructs the handler set.
func NewHandler(sync *services.SyncService, users *services.UserService,
	quotas *services.QuotaService, resolver *services.ConflictResolver, logger logging.Logger) *Handler {
	return &Handler{
		sync:     sync,
		users:    users,
		quotas:   quotas,
		resolver: resolver,
		logger:   logger.With("module", "httpapi"),
	}
}

// --- wire DTOs ---

type versionBody struct {
	Seq             int64     `json:"seq"`
	FileID          string    `json:"file_id"`
	VersionID       int64     `json:"version_id"`
	ParentVersionID int64     `json:"parent_version_id"`
	ContentHash     string    `json:"content_hash"`
	SizeBytes       int64     `json:"size_bytes"`
	ModifiedAt      time.Time `json:"modified_at"`
	OriginDeviceID  string    `json:"origin_device_id"`
	Deleted         bool      `json:"deleted"`
}

func toVersionBody(v *models.FileVersion) versionBody {
	return versionBody{
		Seq:             v.Seq,
		FileID:          v.FileID,
		VersionID:       v.VersionID,
		ParentVersionID: v.ParentVersionID,
		ContentHash:     v.ContentHash,
		SizeBytes:       v.SizeBytes,
		ModifiedAt:      v.ModifiedAt,
		OriginDeviceID:  v.OriginDeviceID,
		Deleted:         v.Deleted,
	}
}

type conflictBody struct {
	ID                      string    `json:"id"`
	FileID                  string    `json:"file_id"`
	LocalVersionID          int64     `json:"local_version_id"`
	RemoteHash              string    `json:"remote_hash"`
	RemoteSizeBytes         int64     `json:"remote_size_bytes"`
	RemoteParentVersionID   int64     `json:"remote_parent_version_id"`
	CommonAncestorVersionID int64     `json:"common_ancestor_version_id"`
	State                   string    `json:"state"`
	CreatedAt               time.Time `json:"created_at"`
}

func toConflictBody(c *models.Conflict) conflictBody {
	return conflictBody{
		ID:                      c.ID,
		FileID:                  c.FileID,
		LocalVersionID:          c.LocalVersionID,
		RemoteHash:              c.RemoteHash,
		RemoteSizeBytes:         c.RemoteSizeBytes,
		RemoteParentVersionID:   c.RemoteParentVersionID,
		CommonAncestorVersionID: c.CommonAncestorVersionID,
		State:                   string(c.State),
		CreatedAt:               c.CreatedAt,
	}
}

// --- auth ---

type credentialsBody struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Register(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), body.UserName, body.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.UserName})
}

func (h *Handler) Login(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	pair, err := h.users.Login(c.Request.Context(), body.UserName, body.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h *Handler) Refresh(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	pair, err := h.users.RefreshToken(c.Request.Context(), body.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- sync ---

func (h *Handler) InitSync(c *gin.Context) {
	userID := UserIDFromContext(c)
	var body struct {
		DeviceID string `json:"device_id"`
		Cursor   string `json:"cursor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(body.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id required"})
		return
	}
	sess, fullResync, err := h.sync.Initialize(c.Request.Context(), userID, body.DeviceID, body.Cursor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":           sess.ID,
		"cursor":               sess.Cursor.Encode(),
		"full_resync_required": fullResync,
	})
}

func (h *Handler) GetChanges(c *gin.Context) {
	userID := UserIDFromContext(c)
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	batch, err := h.sync.GetChanges(c.Request.Context(), userID, sessionID, c.Query("ack"))
	if err != nil {
		if batch != nil && batch.FullResyncRequired {
			c.JSON(http.StatusGone, gin.H{"error": "cursor outside retained history", "full_resync_required": true})
			return
		}
		h.writeError(c, err)
		return
	}
	changes := make([]versionBody, 0, len(batch.Changes))
	for _, v := range batch.Changes {
		changes = append(changes, toVersionBody(v))
	}
	c.JSON(http.StatusOK, gin.H{
		"changes":     changes,
		"next_cursor": batch.NextCursor,
	})
}

type submitBody struct {
	SessionID       string `json:"session_id"`
	FileID          string `json:"file_id"`
	Name            string `json:"name"`
	ParentFolderID  string `json:"parent_folder_id"`
	ParentVersionID int64  `json:"parent_version_id"`
	Content         []byte `json:"content"`
	DeclaredHash    string `json:"declared_hash"`
}

func (h *Handler) SubmitChange(c *gin.Context) {
	userID := UserIDFromContext(c)
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if body.SessionID == "" || body.FileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and file_id required"})
		return
	}
	version, conflict, err := h.sync.SubmitChange(c.Request.Context(), userID, services.SubmitInput{
		SessionID:       body.SessionID,
		FileID:          body.FileID,
		Name:            body.Name,
		ParentFolderID:  body.ParentFolderID,
		ParentVersionID: body.ParentVersionID,
		Content:         body.Content,
		DeclaredHash:    body.DeclaredHash,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if conflict != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "conflict": toConflictBody(conflict)})
		return
	}
	c.JSON(http.StatusOK, toVersionBody(version))
}

func (h *Handler) DeleteFile(c *gin.Context) {
	userID := UserIDFromContext(c)
	parent, err := strconv.ParseInt(c.Query("parent_version_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parent_version_id required"})
		return
	}
	version, err := h.sync.Tombstone(c.Request.Context(), userID, c.Param("id"), parent)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionBody(version))
}

func (h *Handler) DownloadFile(c *gin.Context) {
	userID := UserIDFromContext(c)
	url, err := h.sync.DownloadURL(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// --- conflicts ---

func (h *Handler) ListConflicts(c *gin.Context) {
	userID := UserIDFromContext(c)
	pending, err := h.resolver.ListPending(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]conflictBody, 0, len(pending))
	for _, cf := range pending {
		out = append(out, toConflictBody(cf))
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": out})
}

func (h *Handler) ResolveConflict(c *gin.Context) {
	userID := UserIDFromContext(c)
	var body struct {
		ConflictID string `json:"conflict_id"`
		Decision   string `json:"decision"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	version, err := h.resolver.Resolve(c.Request.Context(), userID, body.ConflictID, models.ResolutionDecision(body.Decision))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionBody(version))
}

// --- checksums ---

func (h *Handler) BatchChecksums(c *gin.Context) {
	userID := UserIDFromContext(c)
	var ids []string
	if raw := strings.TrimSpace(c.Query("ids")); raw != "" {
		ids = strings.Split(raw, ",")
	}
	hashes, err := h.sync.BatchChecksums(c.Request.Context(), userID, ids)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checksums": hashes})
}

func (h *Handler) VerifyChecksum(c *gin.Context) {
	var body struct {
		Content []byte `json:"content"`
		Hash    string `json:"hash"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if err := checksum.Verify(body.Content, body.Hash); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "hash": checksum.Compute(body.Content)})
}

// --- quota ---

func (h *Handler) GetQuota(c *gin.Context) {
	userID := UserIDFromContext(c)
	rec, err := h.quotas.Usage(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit_bytes": rec.LimitBytes,
		"used_bytes":  rec.UsedBytes,
	})
}

func (h *Handler) SetQuotaLimit(c *gin.Context) {
	var body struct {
		UserID     string `json:"user_id"`
		LimitBytes int64  `json:"limit_bytes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if body.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if err := h.quotas.SetLimit(c.Request.Context(), body.UserID, body.LimitBytes); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ReconcileQuota(c *gin.Context) {
	userID := UserIDFromContext(c)
	rec, err := h.quotas.Reconcile(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit_bytes": rec.LimitBytes,
		"used_bytes":  rec.UsedBytes,
	})
}

// writeError maps domain errors to HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var integrity *common.IntegrityError
	var quota *common.QuotaExceededError
	switch {
	case errors.As(err, &integrity):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "checksum mismatch",
			"file_id":  integrity.FileID,
			"expected": integrity.Expected,
			"actual":   integrity.Actual,
		})
	case errors.As(err, &quota):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":           "quota exceeded",
			"used_bytes":      quota.UsedBytes,
			"limit_bytes":     quota.LimitBytes,
			"requested_bytes": quota.RequestedBytes,
		})
	case errors.Is(err, common.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version conflict"})
	case errors.Is(err, common.ErrStaleCursor):
		c.JSON(http.StatusGone, gin.H{"error": "cursor outside retained history", "full_resync_required": true})
	case errors.Is(err, common.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": "session expired"})
	case errors.Is(err, common.ErrFileDeleted):
		c.JSON(http.StatusGone, gin.H{"error": "file deleted"})
	case errors.Is(err, common.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, common.ErrorForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
