// Package debugstats periodically logs runtime and gateway statistics.
package debugstats

import (
	"context"
	"fmt"
	"github.com/lefinal/flipmatch/gateway"
	"github.com/lefinal/flipmatch/services"
	"go.uber.org/zap"
	"runtime"
	"time"
)

type Config struct {
	// IsEnabled describes whether periodic debug stats logging is desired.
	IsEnabled bool
	// Interval in which to log debug stats.
	Interval time.Duration
	// IncludeStack includes the stack of all goroutines.
	IncludeStack bool
}

// GatewayStats provides gateway.Stats.
type GatewayStats interface {
	Stats() gateway.Stats
}

// ClientCounter provides the number of connected clients.
type ClientCounter interface {
	ClientCount() int
}

type debugStatsService struct {
	logger  *zap.Logger
	config  Config
	gateway GatewayStats
	clients ClientCounter
}

func NewService(logger *zap.Logger, config Config, gateway GatewayStats, clients ClientCounter) services.Service {
	return &debugStatsService{
		logger:  logger,
		config:  config,
		gateway: gateway,
		clients: clients,
	}
}

func (s *debugStatsService) Run(ctx context.Context) error {
	if !s.config.IsEnabled {
		return nil
	}
	s.logger.Debug(fmt.Sprintf("logging system state every %gs", s.config.Interval.Seconds()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.config.Interval):
			s.logStats()
		}
	}
}

// logStats logs the current system state like memory stats, connected clients
// and pending ticks.
func (s *debugStatsService) logStats() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	gatewayStats := s.gateway.Stats()
	fields := []zap.Field{
		zap.Int("num_cpu", runtime.NumCPU()),
		zap.Int("num_goroutine", runtime.NumGoroutine()),
		zap.Uint64("memory_in_use_mb", memStats.Sys/1000/1000),
		zap.Int("clients", s.clients.ClientCount()),
		zap.Int("sessions", gatewayStats.Sessions),
		zap.Int("rooms", gatewayStats.Rooms),
		zap.Int("pending_ticks", gatewayStats.PendingTicks),
	}
	if s.config.IncludeStack {
		buf := make([]byte, 1<<16)
		stackSize := runtime.Stack(buf, true)
		fields = append(fields, zap.String("stack", string(buf[0:stackSize])))
	}
	s.logger.Debug("debug system stats", fields...)
}
