package state

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/config"
)

// Open returns the store selected by the configuration, or nil when the
// guard is disabled
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StateBackend {
	case config.StateNone, "":
		return nil, nil
	case config.StateBolt:
		return NewBoltStore(cfg.DataDir)
	case config.StateEtcd:
		return NewEtcdStore(ctx, cfg.EtcdEndpoints, cfg.EtcdPrefix)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}
