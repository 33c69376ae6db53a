package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"
)

const (
	registrationSession = "roomchat_registration"
	roomSecretHeader    = "X-Room-Secret"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg      config.Config
	userSvc  *service.UserService
	roomSvc  *service.RoomService
	msgSvc   *service.MessageService
	sessions sessions.Store
}

func NewHandler(cfg config.Config, userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService, store sessions.Store) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc, sessions: store}
}

// NewSessionStore 创建保存注册进度的签名 cookie 存储。
func NewSessionStore(cfg config.Config) *sessions.CookieStore {
	st := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	st.Options = &sessions.Options{
		Path:     "/api/v1/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   cfg.Env == "prod",
		SameSite: http.SameSiteLaxMode,
	}
	return st
}

// respondError 把业务错误映射为 HTTP 状态码，未知错误记录日志后返回 500。
func respondError(c *gin.Context, err error, op string) {
	var (
		locked *service.LockedError
		creds  *service.CredentialsError
	)
	switch {
	case errors.As(err, &locked):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts", "remaining_seconds": locked.RemainingSeconds()})
	case errors.As(err, &creds):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials", "attempts": creds.Attempts, "locked": creds.Locked})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code"})
	case errors.Is(err, service.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "code expired"})
	case errors.Is(err, service.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
	case errors.Is(err, service.ErrDuplicateID):
		c.JSON(http.StatusConflict, gin.H{"error": "room id taken"})
	case errors.Is(err, service.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, service.ErrWrongSecret):
		c.JSON(http.StatusForbidden, gin.H{"error": "wrong room secret"})
	case errors.Is(err, service.ErrTransport):
		log.Error().Err(err).Msg(op)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send email"})
	default:
		log.Error().Err(err).Msg(op)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return false
	}
	return true
}

func (h *Handler) session(c *gin.Context) *sessions.Session {
	// 签名校验失败时 Get 仍返回一个新会话
	s, _ := h.sessions.Get(c.Request, registrationSession)
	return s
}

func sessionString(s *sessions.Session, key string) string {
	v, _ := s.Values[key].(string)
	return v
}

// RequestOTP 注册第一步：记下名字与邮箱并发送验证码。
func (h *Handler) RequestOTP(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.userSvc.RequestCode(c.Request.Context(), req.Name, req.Email); err != nil {
		respondError(c, err, "request code")
		return
	}
	s := h.session(c)
	s.Values["name"] = strings.TrimSpace(req.Name)
	s.Values["email"] = strings.ToLower(strings.TrimSpace(req.Email))
	s.Values["verified"] = false
	if err := s.Save(c.Request, c.Writer); err != nil {
		respondError(c, err, "save session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "code sent", "expires_in": h.cfg.OTPTTLSeconds})
}

// VerifyOTP 注册第二步：校验验证码并在会话中标记邮箱已验证。
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if !bind(c, &req) {
		return
	}
	s := h.session(c)
	email := sessionString(s, "email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request a code first"})
		return
	}
	if err := h.userSvc.VerifyCode(c.Request.Context(), email, req.Code); err != nil {
		respondError(c, err, "verify code")
		return
	}
	s.Values["verified"] = true
	if err := s.Save(c.Request, c.Writer); err != nil {
		respondError(c, err, "save session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

// Register 注册第三步：为已验证的邮箱设置密码。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !bind(c, &req) {
		return
	}
	s := h.session(c)
	if verified, _ := s.Values["verified"].(bool); !verified {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "email not verified"})
		return
	}
	user, err := h.userSvc.Register(c.Request.Context(), sessionString(s, "name"), sessionString(s, "email"), req.Password, req.ConfirmPassword)
	if err != nil {
		respondError(c, err, "register")
		return
	}
	s.Options.MaxAge = -1
	if err := s.Save(c.Request, c.Writer); err != nil {
		log.Warn().Err(err).Msg("clear registration session")
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !bind(c, &req) {
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateRoom 处理创建房间请求，创建者取自 token。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Secret string `json:"secret"`
	}
	if !bind(c, &req) {
		return
	}
	room, err := h.roomSvc.Create(c.Request.Context(), req.ID, strings.TrimSpace(req.Name), req.Secret, auth.GetUserName(c))
	if err != nil {
		respondError(c, err, "create room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// ListRooms 处理获取房间列表请求。
func (h *Handler) ListRooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rooms, err := h.roomSvc.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// EnterRoom 只校验口令，实际加入通过 WebSocket 的 join 事件完成。
func (h *Handler) EnterRoom(c *gin.Context) {
	var req struct {
		Secret string `json:"secret"`
	}
	if !bind(c, &req) {
		return
	}
	room, err := h.roomSvc.Enter(c.Request.Context(), c.Param("id"), req.Secret)
	if err != nil {
		respondError(c, err, "enter room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": gin.H{"id": room.ID, "name": room.Name, "created_by": room.CreatedBy}})
}

// ListMessages 返回房间最近的消息，按时间升序。
func (h *Handler) ListMessages(c *gin.Context) {
	room, err := h.roomSvc.Enter(c.Request.Context(), c.Param("id"), c.GetHeader(roomSecretHeader))
	if err != nil {
		respondError(c, err, "list messages")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = h.cfg.HistoryLimit
	}
	msgs, err := h.msgSvc.History(c.Request.Context(), room.ID, limit)
	if err != nil {
		respondError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
