package server

import (
	"net/http"
	"os"
	"path/filepath"

	"roomchat/internal/auth"
	"roomchat/internal/metrics"
	"roomchat/internal/mw"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// webDir 存在时作为静态前端目录，未匹配任何路由的请求回落到这里。
const webDir = "./web"

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// limiter 为 nil 时不限速。
func SetupRouter(h *Handler, gw *ws.Gateway, users auth.UserFinder, limiter *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(h.cfg.Env))
	if limiter != nil {
		r.Use(limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/otp", h.RequestOTP)
	api.POST("/auth/otp/verify", h.VerifyOTP)
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(h.cfg.JWTSecret, users))
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms/:id/enter", h.EnterRoom)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/rooms/:id/files", h.UploadFile)

	r.GET("/ws", ws.Serve(gw, h.cfg.JWTSecret, users))

	if fi, err := os.Stat(filepath.Join(webDir, "index.html")); err == nil && !fi.IsDir() {
		r.NoRoute(gin.WrapH(http.FileServer(http.Dir(webDir))))
	}
	return r
}
