package proto

import (
	"GlyphNet/cache"
	iface "GlyphNet/interface"
	"GlyphNet/logger"
	"GlyphNet/monitor"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type JobPackage struct {
	id     string
	image  []byte
	Result chan jobResult
}

type jobResult struct {
	Data *iface.Detection
	Err  error
}

// Server 识别请求进入 JobQueue，由固定数量的 worker 处理
type Server struct {
	recognizer iface.Recognizer
	metrics    *monitor.Metrics
	JobQueue   chan JobPackage
	closeOnce  sync.Once

	cache  cache.ResultCache
	digest string
}

func NewServer(recognizer iface.Recognizer, metrics *monitor.Metrics, workerNum int) *Server {
	if workerNum <= 0 {
		workerNum = 1
	}
	return &Server{
		recognizer: recognizer,
		metrics:    metrics,
		JobQueue:   make(chan JobPackage, workerNum),
	}
}

func (s *Server) StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		go s.runWorker(i)
	}
}

func (s *Server) runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic, restarting in 1s", zap.Int("worker", workerID), zap.Any("panic", r))
			// 重启这个 Worker
			time.Sleep(1 * time.Second)
			go s.runWorker(workerID)
		}
	}()
	logger.Log().Info("worker created", zap.Int("worker", workerID))
	for job := range s.JobQueue {
		s.handle(workerID, job)
	}
}

// handle 单独处理一个 job，panic 时也要给调用方回结果
func (s *Server) handle(workerID int, job JobPackage) {
	defer func() {
		if r := recover(); r != nil {
			job.Result <- jobResult{Err: fmt.Errorf("worker %d panic: %v", workerID, r)}
			panic(r)
		}
	}()
	det, err := s.recognizer.RecognizeBytes(job.image)
	job.Result <- jobResult{Data: det, Err: err}
}

// SetCache 启用结果缓存，digest 为当前权重摘要；需在开始服务前调用
func (s *Server) SetCache(c cache.ResultCache, digest string) {
	s.cache = c
	s.digest = digest
}

// cached 缓存故障只记录日志
func (s *Server) cached(ctx context.Context, key string) *iface.Detection {
	det, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Log().Warn("cache get failed", zap.Error(err))
		return nil
	}
	return det
}

// Close 关闭队列，worker 处理完剩余任务后退出
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.JobQueue) })
}

func (s *Server) Recognize(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	s.metrics.ObserveRequest("grpc")
	id := uuid.NewString()
	if len(req.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image data cannot be empty")
	}
	var key string
	if s.cache != nil && s.digest != "" {
		key = cache.Key(s.digest, req.GetValue())
		if det := s.cached(ctx, key); det != nil {
			return toList(det), nil
		}
	}
	// 缓冲为 1，调用方超时离开后 worker 也不会阻塞
	inferResult := make(chan jobResult, 1)
	job := JobPackage{id: id, image: req.GetValue(), Result: inferResult}
	select {
	case s.JobQueue <- job:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	var result jobResult
	select {
	case result = <-inferResult:
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	if result.Err != nil {
		logger.Log().Warn("recognition failed", zap.String("request", id), zap.Error(result.Err))
		if errors.Is(result.Err, iface.ErrMalformedImage) {
			return nil, status.Error(codes.InvalidArgument, result.Err.Error())
		}
		return nil, status.Error(codes.Internal, result.Err.Error())
	}
	if key != "" {
		if err := s.cache.Set(ctx, key, result.Data); err != nil {
			logger.Log().Warn("cache set failed", zap.Error(err))
		}
	}
	logger.Log().Info("recognized", zap.String("request", id), zap.Strings("chars", result.Data.Chars), zap.String("weights", result.Data.Weights))
	return toList(result.Data), nil
}

func toList(det *iface.Detection) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(det.Chars))
	for _, c := range det.Chars {
		values = append(values, structpb.NewStringValue(c))
	}
	return &structpb.ListValue{Values: values}
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	s.metrics.ObserveRequest("grpc")
	return wrapperspb.String(s.recognizer.WeightState()), nil
}

// StartGRPCServer 监听端口并在后台 Serve
func StartGRPCServer(port int, srv RecognizerServer) (*grpc.Server, <-chan error, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen: %w", err)
	}
	server, serveErr := ServeGRPC(lis, srv)
	return server, serveErr, nil
}

// ServeGRPC 在 lis 上后台 Serve。Serve 异常退出时错误写入返回的 channel，
// 正常 Stop/GracefulStop 后 channel 直接关闭
func ServeGRPC(lis net.Listener, srv RecognizerServer) (*grpc.Server, <-chan error) {
	server := grpc.NewServer()
	RegisterRecognizerServer(server, srv)
	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := server.Serve(lis); err != nil {
			logger.Log().Error("failed to serve", zap.Error(err))
			serveErr <- err
		}
	}()
	return server, serveErr
}

var _ RecognizerServer = (*Server)(nil)
