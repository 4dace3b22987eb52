// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежеминутная уборка истёкших
// лотов и отмена зависших сделок каждые пять минут.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/market"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron      *cron.Cron
	offers    *market.OfferService
	deals     *market.DealService
	staleDeal time.Duration
}

// NewScheduler создаёт планировщик задач в часовом поясе приложения.
func NewScheduler(offers *market.OfferService, deals *market.DealService, timezone string, staleDeal time.Duration) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.WithError(err).WithField("timezone", timezone).Warn("Не удалось загрузить часовой пояс, используем UTC")
		loc = time.UTC
	}

	return &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		offers:    offers,
		deals:     deals,
		staleDeal: staleDeal,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	// Уборка истёкших лотов каждую минуту
	s.cron.AddFunc("* * * * *", func() {
		if _, err := s.offers.ExpireOffers(ctx, time.Now()); err != nil {
			log.WithError(err).Error("[CRON] Ошибка уборки истёкших лотов")
		}
	})

	// Отмена зависших сделок каждые 5 минут
	s.cron.AddFunc("*/5 * * * *", func() {
		if _, err := s.deals.CancelStaleDeals(ctx, s.staleDeal); err != nil {
			log.WithError(err).Error("[CRON] Ошибка отмены зависших сделок")
		}
	})

	s.cron.Start()
	log.Info("Планировщик задач запущен")
}

// Stop останавливает планировщик, дожидаясь выполняющихся задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
