// Package maintenance implements the housekeeping jobs: task expiry, order
// liveness, rapid-completion detection, wellness nudges and log retention.
// Every handler is idempotent against concurrent row movement; a transition
// lost to another actor is skipped, not retried.
package maintenance

import (
	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/config"
	"github.com/engagehub/maintenance-core/internal/domain/notification"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/remote"
	"github.com/engagehub/maintenance-core/internal/storage"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// expireBatch bounds how many tasks one expiry pass flips per store call.
const expireBatch = 256

// Service bundles the maintenance job handlers over shared capabilities.
type Service struct {
	suspicion config.SuspicionConfig
	wellness  config.WellnessConfig
	retention config.RetentionConfig
	store     storage.Store
	validator remote.Validator
	sink      notify.Sink
	clock     clock.Clock
	log       *logger.Logger

	nudgeCursor int
}

// New wires the maintenance service.
func New(suspicion config.SuspicionConfig, wellness config.WellnessConfig, retention config.RetentionConfig,
	store storage.Store, validator remote.Validator, sink notify.Sink, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		suspicion: suspicion,
		wellness:  wellness,
		retention: retention,
		store:     store,
		validator: validator,
		sink:      sink,
		clock:     clk,
		log:       log,
	}
}

func (s *Service) emit(intent notification.Intent) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(intent)
}
