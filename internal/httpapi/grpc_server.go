package httpapi

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/obs"
)

const healthMethodPrefix = "/grpc.health.v1.Health/"

// Authenticator resolves an access token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (auth.Principal, error)
}

// GRPCServer serves grpc.health.v1 publicly and server reflection behind the
// bearer-token interceptors.
type GRPCServer struct {
	server *grpc.Server
	health *healthService
}

// NewGRPCServer builds the server. Every method except the health service requires
// a valid access token in the "authorization" metadata, so only signed-in clients
// can enumerate the services.
func NewGRPCServer(r readinessChecker, authn Authenticator, opts ...grpc.ServerOption) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(authn)),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(authn)),
	)
	s := &GRPCServer{
		server: grpc.NewServer(opts...),
		health: &healthService{Server: health.NewServer(), readiness: r},
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	return s
}

func (s *GRPCServer) Serve(lis net.Listener) error { return s.server.Serve(lis) }

// GracefulStop marks the service NOT_SERVING and drains in-flight calls.
func (s *GRPCServer) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

type healthService struct {
	*health.Server
	readiness readinessChecker
}

// Check evaluates readiness on every call and mirrors it into the ready gauge.
func (h *healthService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	state := healthpb.HealthCheckResponse_SERVING
	if err := h.readiness.Check(ctx); err != nil {
		obs.Logger().WarnContext(ctx, "grpc readiness check failed", "error", err)
		state = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(state == healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus("", state)
	h.SetServingStatus(serviceName, state)
	return h.Server.Check(ctx, req)
}

// UnaryAuthInterceptor authenticates unary calls outside the health service.
func UnaryAuthInterceptor(authn Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}
		ctx, err := authenticateRPC(ctx, authn)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the streaming counterpart of UnaryAuthInterceptor.
func StreamAuthInterceptor(authn Authenticator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(srv, ss)
		}
		ctx, err := authenticateRPC(ss.Context(), authn)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func authenticateRPC(ctx context.Context, authn Authenticator) (context.Context, error) {
	if authn == nil {
		return nil, status.Error(codes.Unauthenticated, "authentication unavailable")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, errMissingToken.Error())
	}
	token, err := extractBearerToken(values[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	principal, err := authn.Authenticate(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			return nil, status.Error(codes.Unauthenticated, "token expired")
		case errors.Is(err, auth.ErrInvalidToken):
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		default:
			obs.Logger().ErrorContext(ctx, "grpc authentication failed", "error", err)
			return nil, status.Error(codes.Internal, "authentication error")
		}
	}
	return auth.ContextWithPrincipal(ctx, principal), nil
}
