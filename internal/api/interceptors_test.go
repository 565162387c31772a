package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAccessLogInterceptorRecoversPanics(t *testing.T) {
	interceptor := accessLogInterceptor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodRemediate)}

	resp, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if resp != nil {
		t.Fatalf("expected nil response, got %v", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestAccessLogInterceptorPassesThrough(t *testing.T) {
	interceptor := accessLogInterceptor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodGetPlan)}

	resp, err := interceptor(context.Background(), "req", info, func(_ context.Context, req any) (any, error) {
		return req, nil
	})
	if err != nil || resp != "req" {
		t.Fatalf("unexpected result %v, %v", resp, err)
	}

	notFound := status.Error(codes.NotFound, "missing")
	_, err = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, notFound
	})
	if !errors.Is(err, notFound) {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}
}
