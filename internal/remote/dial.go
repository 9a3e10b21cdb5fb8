package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/savesync/internal/config"
)

// Dialer opens replica connections described by configuration
type Dialer interface {
	Dial(ctx context.Context, id string, cfg config.ReplicaConfig) (Client, error)
}

// NetDialer opens FTP connections and local directory replicas
type NetDialer struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewDialer creates a dialer with the given connect timeout
func NewDialer(timeout time.Duration, logger *slog.Logger) *NetDialer {
	return &NetDialer{timeout: timeout, logger: logger}
}

// Dial implements Dialer
func (d *NetDialer) Dial(ctx context.Context, id string, cfg config.ReplicaConfig) (Client, error) {
	switch cfg.Kind {
	case config.KindLocal:
		d.logger.Debug("opening local replica", "replica", id, "path", cfg.Path)
		return NewLocalClient(cfg.Path)
	case config.KindFTP, "":
		d.logger.Debug("connecting to replica", "replica", id, "addr", cfg.Address(), "user", cfg.User)
		return DialFTP(ctx, cfg.Address(), cfg.User, cfg.Password, d.timeout)
	default:
		return nil, fmt.Errorf("unsupported replica kind %q", cfg.Kind)
	}
}
