package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the service reported by the gRPC health endpoint.
const ServiceName = "holdings.ledger"

type PingFunc func(ctx context.Context) error

// HealthChecker pings each registered dependency concurrently.
type HealthChecker struct {
	checks  map[string]PingFunc
	timeout time.Duration
}

func NewHealthChecker(timeout time.Duration, checks map[string]PingFunc) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{checks: checks, timeout: timeout}
}

type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (c *HealthChecker) Check(ctx context.Context) (HealthReport, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, ping PingFunc) {
			defer wg.Done()
			results[i] = ping(ctx)
		}(i, c.checks[name])
	}
	wg.Wait()

	report := HealthReport{Status: "ok", Checks: make(map[string]string, len(names))}
	healthy := true
	for i, name := range names {
		if results[i] != nil {
			report.Checks[name] = "down: " + results[i].Error()
			healthy = false
			continue
		}
		report.Checks[name] = "up"
	}
	if !healthy {
		report.Status = "degraded"
	}
	return report, healthy
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	report, healthy := h.health.Check(r.Context())
	code := http.StatusOK
	if !healthy {
		h.logger.Warn("health check failed", "checks", report.Checks)
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	checker *HealthChecker
}

func (s *healthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if _, healthy := s.checker.Check(ctx); !healthy {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer serves grpc.health.v1 backed by checker, with server
// reflection enabled.
func NewGRPCServer(checker *HealthChecker, logger *slog.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
	grpc_health_v1.RegisterHealthServer(s, &healthServer{checker: checker})
	reflection.Register(s)
	return s
}

func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		attrs := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
		if err != nil {
			logger.Warn("grpc request failed", append(attrs, "err", err)...)
		} else {
			logger.Debug("grpc request", attrs...)
		}
		return resp, err
	}
}
