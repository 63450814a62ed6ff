package web

import (
	"GlyphNet/cache"
	"GlyphNet/classmap"
	iface "GlyphNet/interface"
	"GlyphNet/logger"
	"GlyphNet/monitor"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxUploadSize = 10 * 1024 * 1024
	wsReadLimit          = 20 * 1024 * 1024
	requestIDHeader      = "X-Request-Id"
)

type Options struct {
	// Cache 可选，为 nil 时每次都重新识别
	Cache cache.ResultCache
	// Digest 当前权重的摘要，作为缓存 key 的一部分
	Digest        string
	Metrics       *monitor.Metrics
	MaxUploadSize int64
}

type handler struct {
	recognizer iface.Recognizer
	opts       Options
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// NewRouter 注册 HTTP 与 websocket 路由
func NewRouter(recognizer iface.Recognizer, opts Options) *gin.Engine {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	h := &handler{
		recognizer: recognizer,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.Named("web"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(h.log))
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", h.status)
	r.POST("/api/recognize", h.recognize)
	r.GET("/ws/recognize", h.stream)
	return r
}

// RequestID 为每个请求分配 id，客户端带了就沿用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Logger Zap日志中间件
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		log.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("cost", time.Since(start)),
		)
	}
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, iface.RetData{
		Success: true,
		Data: gin.H{
			"weights": h.recognizer.WeightState(),
			"classes": classmap.NumClasses,
		},
	})
}

func (h *handler) recognize(c *gin.Context) {
	h.opts.Metrics.ObserveRequest("http")
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, iface.RetData{Data: "File upload failed: " + err.Error()})
		return
	}
	if file.Size > h.opts.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, iface.RetData{Data: fmt.Sprintf("file exceeds %d bytes", h.opts.MaxUploadSize)})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, iface.RetData{Data: err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, iface.RetData{Data: err.Error()})
		return
	}

	det, err := h.recognizeCached(c.Request.Context(), data)
	if err != nil {
		c.JSON(errorStatus(err), iface.RetData{Data: err.Error()})
		return
	}
	c.JSON(http.StatusOK, iface.RetData{Success: true, Data: det})
}

func (h *handler) stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx := c.Request.Context()
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		var reply iface.RetData
		switch mt {
		case websocket.TextMessage:
			h.opts.Metrics.ObserveRequest("ws")
			reply = h.recognizeBase64(ctx, string(msg))
		default:
			reply = iface.RetData{Data: "unsupported message type"}
		}
		if err := conn.WriteJSON(reply); err != nil {
			h.log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *handler) recognizeBase64(ctx context.Context, b64 string) iface.RetData {
	data, err := DecodeBase64Image(b64)
	if err != nil {
		return iface.RetData{Data: fmt.Sprintf("invalid image: %v", err)}
	}
	det, err := h.recognizeCached(ctx, data)
	if err != nil {
		return iface.RetData{Data: err.Error()}
	}
	return iface.RetData{Success: true, Data: det}
}

// recognizeCached 缓存故障只记录日志，不影响识别
func (h *handler) recognizeCached(ctx context.Context, data []byte) (*iface.Detection, error) {
	if h.opts.Cache == nil || h.opts.Digest == "" {
		return h.recognizer.RecognizeBytes(data)
	}
	key := cache.Key(h.opts.Digest, data)
	det, err := h.opts.Cache.Get(ctx, key)
	if err != nil {
		h.log.Warn("cache get failed", zap.Error(err))
	} else if det != nil {
		return det, nil
	}

	det, err = h.recognizer.RecognizeBytes(data)
	if err != nil {
		return nil, err
	}
	if err := h.opts.Cache.Set(ctx, key, det); err != nil {
		h.log.Warn("cache set failed", zap.Error(err))
	}
	return det, nil
}

// DecodeBase64Image 解码 websocket 文本帧，允许带 data URL 前缀
func DecodeBase64Image(b64 string) ([]byte, error) {
	// 去掉可能的 data URL 前缀
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image payload")
	}
	return data, nil
}

func errorStatus(err error) int {
	if errors.Is(err, iface.ErrMalformedImage) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
