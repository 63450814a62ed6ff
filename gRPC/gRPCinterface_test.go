package proto

import (
	"GlyphNet/cache"
	iface "GlyphNet/interface"
	"GlyphNet/monitor"
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type MockRecognizer struct{}

func (m *MockRecognizer) RecognizeBytes(data []byte) (*iface.Detection, error) {
	switch string(data) {
	case "bad":
		return nil, fmt.Errorf("%w: mock", iface.ErrMalformedImage)
	case "panic":
		panic("mock panic")
	}
	return &iface.Detection{
		Chars:   []string{"G", "o"},
		Boxes:   []iface.Box{{X: 1, Y: 1, W: 8, H: 8}, {X: 12, Y: 1, W: 8, H: 8}},
		Weights: "loaded",
	}, nil
}

func (m *MockRecognizer) WeightState() string { return "loaded" }

func TestRecognizerService(t *testing.T) {
	metrics := monitor.NewMetrics()
	srv := NewServer(&MockRecognizer{}, metrics, 2)
	srv.StartWorker(2)
	defer srv.Close()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterRecognizerServer(server, srv)
	go server.Serve(lis)
	defer server.GracefulStop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := NewRecognizerClient(conn)
	ctx := context.Background()

	t.Run("Test Recognize", func(t *testing.T) {
		resp, err := client.Recognize(ctx, wrapperspb.Bytes([]byte("image")))
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"G", "o"}, resp.AsSlice())
	})

	t.Run("Test Malformed", func(t *testing.T) {
		_, err := client.Recognize(ctx, wrapperspb.Bytes([]byte("bad")))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Test Empty", func(t *testing.T) {
		_, err := client.Recognize(ctx, wrapperspb.Bytes(nil))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Test Worker Panic", func(t *testing.T) {
		_, err := client.Recognize(ctx, wrapperspb.Bytes([]byte("panic")))
		assert.Equal(t, codes.Internal, status.Code(err))
		// worker 重启后继续服务
		resp, err := client.Recognize(ctx, wrapperspb.Bytes([]byte("image")))
		require.NoError(t, err)
		assert.Len(t, resp.GetValues(), 2)
	})

	t.Run("Test Status", func(t *testing.T) {
		resp, err := client.Status(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		assert.Equal(t, "loaded", resp.GetValue())
	})

	t.Run("Test Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := client.Recognize(cctx, wrapperspb.Bytes([]byte("image")))
		assert.Equal(t, codes.Canceled, status.Code(err))
	})

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("grpc")), 6.0)
}

func TestStartGRPCServer(t *testing.T) {
	server, serveErr, err := StartGRPCServer(0, NewServer(&MockRecognizer{}, nil, 1))
	require.NoError(t, err)
	server.GracefulStop()
	_, open := <-serveErr
	assert.False(t, open, "graceful stop closes the channel without an error")
}

func TestServeGRPCReportsFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, lis.Close())

	server, serveErr := ServeGRPC(lis, NewServer(&MockRecognizer{}, nil, 1))
	defer server.Stop()
	select {
	case err, ok := <-serveErr:
		require.True(t, ok)
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve error was not reported")
	}
}

// CountingRecognizer 统计真正执行识别的次数
type CountingRecognizer struct {
	MockRecognizer
	calls atomic.Int32
}

func (c *CountingRecognizer) RecognizeBytes(data []byte) (*iface.Detection, error) {
	c.calls.Add(1)
	return c.MockRecognizer.RecognizeBytes(data)
}

func TestRecognizeUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.NewRedisCache(cache.Options{Addr: mr.Addr(), TTL: time.Minute})
	defer rc.Close()

	rec := &CountingRecognizer{}
	srv := NewServer(rec, nil, 1)
	srv.SetCache(rc, "digest")
	srv.StartWorker(1)
	defer srv.Close()

	lis := bufconn.Listen(1 << 20)
	server, _ := ServeGRPC(lis, srv)
	defer server.GracefulStop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := NewRecognizerClient(conn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := client.Recognize(ctx, wrapperspb.Bytes([]byte("image")))
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"G", "o"}, resp.AsSlice())
	}
	assert.Equal(t, int32(1), rec.calls.Load())
	assert.True(t, mr.Exists(cache.Key("digest", []byte("image"))))

	_, err = client.Recognize(ctx, wrapperspb.Bytes([]byte("bad")))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.False(t, mr.Exists(cache.Key("digest", []byte("bad"))), "failures are not cached")
}
