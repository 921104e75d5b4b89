package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store — хранилище, из которого вычищаются простаивающие пользователи.
type Store interface {
	SweepExpired(now time.Time) int
}

// Sweeper периодически удаляет пользователей, простаивающих дольше TTL.
// Запросы к чату чистят хранилище и сами, фоновый проход нужен, когда запросов нет.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func New(store Store, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	return &Sweeper{store: store, interval: interval, logger: logger, now: time.Now}
}

// Enabled — выключен при интервале <= 0.
func (s *Sweeper) Enabled() bool { return s.interval > 0 }

// Run крутит очистку до отмены контекста. Первый проход — через один интервал.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.logger.Infow("Фоновая очистка запущена", "interval", s.interval.String())

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("Фоновая очистка остановлена")
			return context.Cause(ctx)
		case <-t.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	start := time.Now()
	if removed := s.store.SweepExpired(s.now()); removed > 0 {
		s.logger.Infow("Удалены простаивающие пользователи", "removed", removed, "duration", time.Since(start).String())
	}
}
