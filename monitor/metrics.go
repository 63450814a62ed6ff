package monitor

import (
	"GlyphNet/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics 训练与识别共用的 prometheus 指标，nil 接收者上的 Observe* 调用为空操作
type Metrics struct {
	Registry *prometheus.Registry

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge

	EpochLoss     prometheus.Gauge
	EvalAccuracy  prometheus.Gauge
	ImagesPerSec  prometheus.Gauge
	EpochsTotal   prometheus.Counter
	SamplesTotal  prometheus.Counter
	RegionsTotal  prometheus.Counter
	RequestsTotal *prometheus.CounterVec

	proc *process.Process
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		EpochLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glyphnet_epoch_loss",
			Help: "Mean cross-entropy loss of the last finished epoch",
		}),
		EvalAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glyphnet_eval_accuracy_percent",
			Help: "Accuracy on the held-out split in percent",
		}),
		ImagesPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glyphnet_train_images_per_second",
			Help: "Training throughput of the last epoch",
		}),
		EpochsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_epochs_total",
			Help: "Total number of finished training epochs",
		}),
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_train_samples_total",
			Help: "Total number of samples consumed by training steps",
		}),
		RegionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glyphnet_regions_recognized_total",
			Help: "Total number of glyph regions classified",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glyphnet_requests_total",
			Help: "Total number of recognition requests by transport",
		}, []string{"transport"}),
	}
	m.Registry.MustRegister(m.memUsage, m.cpuUsage, m.EpochLoss, m.EvalAccuracy, m.ImagesPerSec,
		m.EpochsTotal, m.SamplesTotal, m.RegionsTotal, m.RequestsTotal)
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

func (m *Metrics) ObserveEpoch(loss float64, samples int, imagesPerSec float64) {
	if m == nil {
		return
	}
	m.EpochLoss.Set(loss)
	m.EpochsTotal.Inc()
	m.SamplesTotal.Add(float64(samples))
	m.ImagesPerSec.Set(imagesPerSec)
}

func (m *Metrics) ObserveAccuracy(percent float64) {
	if m == nil {
		return
	}
	m.EvalAccuracy.Set(percent)
}

func (m *Metrics) ObserveRegions(n int) {
	if m == nil {
		return
	}
	m.RegionsTotal.Add(float64(n))
}

func (m *Metrics) ObserveRequest(transport string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) CheckProcessInfo() {
	if m == nil || m.proc == nil {
		return
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve 在独立端口暴露 /metrics，每 500ms 采样一次进程信息，ctx 结束后关闭
func (m *Metrics) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Log().Info("metrics server listening", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		case <-ticker.C:
			m.CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
