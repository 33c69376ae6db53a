package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"roomchat/internal/auth"
	"roomchat/internal/service"

	"github.com/gin-gonic/gin"
)

// multipart 头部与边界的额外余量
const multipartOverhead = 1 << 20

var allowedExt = map[string]bool{
	".jpeg": true, ".jpg": true, ".png": true, ".gif": true,
	".mp4": true, ".mov": true, ".avi": true,
	".pdf": true, ".doc": true, ".docx": true, ".txt": true,
}

// mimeFor 优先使用客户端声明的类型，缺失或泛型时按扩展名推断。
func mimeFor(declared, ext string) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		mt, _, _ = mime.ParseMediaType(mt)
		return mt
	}
	return "application/octet-stream"
}

// UploadFile 校验附件的大小与类型后交给消息管道，与文本消息一样先落库再广播。
func (h *Handler) UploadFile(c *gin.Context) {
	room, err := h.roomSvc.Enter(c.Request.Context(), c.Param("id"), c.GetHeader(roomSecretHeader))
	if err != nil {
		respondError(c, err, "upload file")
		return
	}

	limit := h.cfg.MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	file, hdr, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	if hdr.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if !allowedExt[ext] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported file type"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		respondError(c, err, "read upload")
		return
	}
	if int64(len(data)) > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	content := service.FileContent(data, filepath.Base(hdr.Filename), mimeFor(hdr.Header.Get("Content-Type"), ext))
	msg, err := h.msgSvc.Submit(c.Request.Context(), room.ID, auth.GetUserName(c), content)
	if err != nil {
		respondError(c, err, "upload file")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
