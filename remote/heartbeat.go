package remote

import (
	"GlyphNet/logger"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	HTTPPort  int    `json:"httpPort"`
	RPCPort   int    `json:"rpcPort"`
	Weights   string `json:"weights"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type HeartbeatConfig struct {
	RegistryURL string
	Interval    time.Duration
	IP          string
	HTTPPort    int
	RPCPort     int
	// Weights 每次心跳时读取当前权重状态
	Weights func() string
}

// GetOutboundIP 通过 UDP "连接" 获取本机出口 IP，不会真正发包
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Heartbeat 定期向注册中心上报本实例，ctx 结束时返回
func Heartbeat(ctx context.Context, cfg HeartbeatConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	client := resty.New().SetTimeout(cfg.Interval)
	id := uuid.NewString()
	url := fmt.Sprintf("%s/api/register", cfg.RegistryURL)
	log := logger.Named("heartbeat").With(zap.String("id", id))

	send := func() {
		req := RegisterRequest{
			Id:        id,
			IP:        cfg.IP,
			HTTPPort:  cfg.HTTPPort,
			RPCPort:   cfg.RPCPort,
			TimeStamp: time.Now().Unix(),
		}
		if cfg.Weights != nil {
			req.Weights = cfg.Weights()
		}
		var respBody RegisterResponse
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			log.Warn("register request failed", zap.Error(err))
			return
		}
		if resp.IsError() {
			log.Warn("registry returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
			return
		}
		log.Debug("registered", zap.Bool("success", respBody.Success))
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	send()
	for {
		select {
		case <-ctx.Done():
			log.Info("heartbeat stopped")
			return nil
		case <-ticker.C:
			send()
		}
	}
}
