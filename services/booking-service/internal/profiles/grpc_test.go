package profiles

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	"github.com/md-rashed-zaman/servicebook/libs/grpcx"
	"google.golang.org/grpc"
)

type testServer struct{}

func (testServer) GetProfile(_ context.Context, req *GetProfileRequest) (*Profile, error) {
	if req.ID == "ghost" {
		return nil, apperr.NotFound("profiles.test", "profile ghost")
	}
	return &Profile{ID: req.ID, Name: "Ada Provider", Picture: "https://cdn.example.com/ada.png", Verified: true}, nil
}

func startServer(t *testing.T, srv Server) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcx.UnaryServerRequestIDInterceptor(),
		grpcx.UnaryServerErrorInterceptor(logger),
	))
	Register(s, srv)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)
	return lis.Addr().String()
}

func TestClient_GetProfile(t *testing.T) {
	client, err := NewClient(startServer(t, testServer{}), 2*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := client.GetProfile(ctx, "provider-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.ID != "provider-1" || p.Name != "Ada Provider" || !p.Verified {
		t.Fatalf("unexpected profile: %+v", p)
	}

	_, err = client.GetProfile(ctx, "ghost")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClientUnreachableIsTransient(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	client, err := NewClient(addr, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	_, err = client.GetProfile(context.Background(), "provider-1")
	if !apperr.IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestDirectoryServerOverStatic(t *testing.T) {
	static := NewStatic(Profile{ID: "client-1", Name: "Cleo Client"})
	client, err := NewClient(startServer(t, DirectoryServer{Directory: static}), 2*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	p, err := client.GetProfile(context.Background(), "client-1")
	if err != nil || p.Name != "Cleo Client" {
		t.Fatalf("unexpected profile %+v %v", p, err)
	}
	p, err = client.GetProfile(context.Background(), "someone")
	if err != nil || p.Name != "someone" {
		t.Fatalf("unknown ids fall back to a placeholder, got %+v %v", p, err)
	}
}
