package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func TestCheckHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	srv, hs := NewServer()
	go func() {
		_ = srv.Serve(lis)
	}()
	defer srv.Stop()

	hs.SetServingStatus("scheduling", healthpb.HealthCheckResponse_SERVING)
	ctx := context.Background()
	if err := CheckHealth(ctx, lis.Addr().String(), "scheduling", 2*time.Second); err != nil {
		t.Fatalf("expected serving, got %v", err)
	}

	hs.SetServingStatus("scheduling", healthpb.HealthCheckResponse_NOT_SERVING)
	if err := CheckHealth(ctx, lis.Addr().String(), "scheduling", 2*time.Second); err == nil {
		t.Fatal("expected error for NOT_SERVING")
	}
}

func TestServerInterceptorStoresRequestID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-7"))

	var seen string
	_, err := requestIDUnaryServer(ctx, nil, nil, func(ctx context.Context, _ any) (any, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "req-7" {
		t.Fatalf("expected request id req-7, got %q", seen)
	}

	_, _ = requestIDUnaryServer(context.Background(), nil, nil, func(ctx context.Context, _ any) (any, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	})
	if seen == "" || seen == "req-7" {
		t.Fatalf("expected a generated request id, got %q", seen)
	}
}
