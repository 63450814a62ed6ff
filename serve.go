package main

import (
	"GlyphNet/cache"
	backend "GlyphNet/gRPC"
	"GlyphNet/logger"
	"GlyphNet/monitor"
	"GlyphNet/recognize"
	"GlyphNet/remote"
	"GlyphNet/vision"
	"GlyphNet/web"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.String("weights", "", "trained weights file")
	fs.Int("rpc-port", 0, "gRPC port")
	fs.Int("http-port", 0, "HTTP and websocket port")
	fs.Int("metrics-port", 0, "prometheus port")
	fs.Int("workers", 0, "gRPC worker count")
	cfg, err := loadConfig(fs, args, map[string]string{
		"weights":      "detect.weights_path",
		"rpc-port":     "server.rpc_port",
		"http-port":    "server.http_port",
		"metrics-port": "server.metrics_port",
		"workers":      "server.workers",
	})
	if err != nil {
		return err
	}
	log := logger.Named("serve")

	fmt.Println(strings.Repeat("#", 64))
	cpuNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", cpuNum)
	fmt.Println(" gRPC    Port:", cfg.Server.RPCPort)
	fmt.Println(" HTTP    Port:", cfg.Server.HTTPPort)
	fmt.Println(" Metrics Port:", cfg.Server.MetricsPort)
	fmt.Println("Configured Workers Num:", cfg.Server.Workers)
	fmt.Println(strings.Repeat("#", 64))
	if cfg.Server.Workers > cpuNum {
		log.Warn("workers exceed CPU cores, which may lead to performance degradation",
			zap.Int("workers", cfg.Server.Workers), zap.Int("cpus", cpuNum))
	}

	clf, err := loadClassifier(cfg.Detect.WeightsPath, cfg.Detect.AllowUninitialized)
	if err != nil {
		return err
	}
	metrics := monitor.NewMetrics()
	pipeline := recognize.NewPipeline(vision.NewOps(), clf)
	pipeline.Metrics = metrics

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var resultCache cache.ResultCache
	if cfg.Redis.Enabled {
		rc := cache.NewRedisCache(cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err := rc.Connect(ctx, 5, 200*time.Millisecond); err != nil {
			log.Warn("redis unavailable, result cache disabled", zap.Error(err))
			_ = rc.Close()
		} else {
			defer rc.Close()
			resultCache = rc
		}
	}

	digest := clf.Digest()
	rpc := backend.NewServer(pipeline, metrics, cfg.Server.Workers)
	if resultCache != nil {
		rpc.SetCache(resultCache, digest)
	}
	rpc.StartWorker(cfg.Server.Workers)
	defer rpc.Close()
	grpcServer, grpcErr, err := backend.StartGRPCServer(cfg.Server.RPCPort, rpc)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: web.NewRouter(pipeline, web.Options{
			Cache:         resultCache,
			Digest:        digest,
			Metrics:       metrics,
			MaxUploadSize: cfg.Server.MaxUploadSize,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err, ok := <-grpcErr; ok && err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Server.MetricsPort)
	})
	if cfg.Registry.Enabled {
		ip, err := remote.GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP, skipping registration", zap.Error(err))
		} else {
			g.Go(func() error {
				return remote.Heartbeat(gctx, remote.HeartbeatConfig{
					RegistryURL: cfg.Registry.URL,
					Interval:    cfg.Registry.Interval,
					IP:          ip,
					HTTPPort:    cfg.Server.HTTPPort,
					RPCPort:     cfg.Server.RPCPort,
					Weights:     pipeline.WeightState,
				})
			})
		}
	} else {
		log.Info("registry disabled, skipping registration")
	}
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("Safely exited")
	return err
}
