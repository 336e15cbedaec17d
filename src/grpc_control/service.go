package grpc_control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Health service names. The empty name reports the process as a whole.
const (
	ServiceCache     = "stock-datahub.cache"
	ServicePrimary   = "stock-datahub.primary"
	ServiceSecondary = "stock-datahub.secondary"
)

// ICooldown is implemented by adapters that suspend calls after a rate limit.
type ICooldown interface {
	CoolingDown() (until time.Time, active bool)
}

// -----------------------------------------------------------------------------

// ControlService publishes the health of the cache and both providers over
// the standard grpc.health.v1 protocol.
type ControlService struct {
	Config    *models.MConfig
	DB        interfaces.IDatabase
	Primary   interfaces.IDataSource
	Secondary interfaces.IDataSource
	Logger    *logger.Logger
	Health    *health.Server
	Interval  time.Duration
}

// NewControlService creates a new instance of ControlService. Either provider may be nil.
func NewControlService(
	cfg *models.MConfig,
	db interfaces.IDatabase,
	primary, secondary interfaces.IDataSource,
	log *logger.Logger,
) *ControlService {
	return &ControlService{
		Config:    cfg,
		DB:        db,
		Primary:   primary,
		Secondary: secondary,
		Logger:    log,
		Health:    health.NewServer(),
		Interval:  30 * time.Second,
	}
}

// -----------------------------------------------------------------------------

// Register installs the health service and server reflection on g.
func (s *ControlService) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.Health)
	reflection.Register(g)
}

// -----------------------------------------------------------------------------

// Poll refreshes every serving status once.
func (s *ControlService) Poll(ctx context.Context) {
	cache := healthpb.HealthCheckResponse_SERVING
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Warning("Cache ping failed: %v", err)
		cache = healthpb.HealthCheckResponse_NOT_SERVING
	}
	primary := providerStatus(s.Primary)
	secondary := providerStatus(s.Secondary)

	s.Health.SetServingStatus(ServiceCache, cache)
	s.Health.SetServingStatus(ServicePrimary, primary)
	s.Health.SetServingStatus(ServiceSecondary, secondary)

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if cache == healthpb.HealthCheckResponse_SERVING &&
		(primary == healthpb.HealthCheckResponse_SERVING || secondary == healthpb.HealthCheckResponse_SERVING) {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.Health.SetServingStatus("", overall)
}

func providerStatus(src interfaces.IDataSource) healthpb.HealthCheckResponse_ServingStatus {
	if src == nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	if c, ok := src.(ICooldown); ok {
		if _, active := c.CoolingDown(); active {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}

// -----------------------------------------------------------------------------

// Run polls immediately and then every Interval until ctx is done, when all
// statuses turn NOT_SERVING.
func (s *ControlService) Run(ctx context.Context) {
	s.Poll(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Poll(ctx)
		case <-ctx.Done():
			s.Health.Shutdown()
			return
		}
	}
}

// -----------------------------------------------------------------------------

// Serve listens on addr and serves until ctx is done.
func (s *ControlService) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC on %s: %w", addr, err)
	}

	g := grpc.NewServer()
	s.Register(g)
	go s.Run(ctx)
	go func() {
		<-ctx.Done()
		g.GracefulStop()
	}()

	s.Logger.Info("Starting gRPC health server on %s", addr)
	if err := g.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
