package metricspush

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Backlog exposes row counts per status for payments and fulfillment jobs.
type Backlog struct {
	db          *gorm.DB
	payments    *prometheus.GaugeVec
	fulfillment *prometheus.GaugeVec
}

func NewBacklog(db *gorm.DB, registerer prometheus.Registerer) (*Backlog, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	b := &Backlog{
		db: db,
		payments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "paysettle_payments",
			Help: "Payment records by status.",
		}, []string{"status"}),
		fulfillment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "paysettle_fulfillment_jobs",
			Help: "Fulfillment jobs by status.",
		}, []string{"status"}),
	}
	var err error
	if b.payments, err = registerGaugeVec(registerer, b.payments); err != nil {
		return nil, err
	}
	if b.fulfillment, err = registerGaugeVec(registerer, b.fulfillment); err != nil {
		return nil, err
	}
	return b, nil
}

func registerGaugeVec(registerer prometheus.Registerer, vec *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

// Refresh reloads both gauges from the database.
func (b *Backlog) Refresh(ctx context.Context) error {
	if b == nil || b.db == nil {
		return nil
	}
	if err := b.load(ctx, `SELECT status, COUNT(*) AS total FROM payment_records GROUP BY status`, b.payments); err != nil {
		return err
	}
	return b.load(ctx, `SELECT status, COUNT(*) AS total FROM fulfillment_jobs GROUP BY status`, b.fulfillment)
}

func (b *Backlog) load(ctx context.Context, query string, gauge *prometheus.GaugeVec) error {
	var rows []struct {
		Status string
		Total  int64
	}
	if err := b.db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return err
	}
	gauge.Reset()
	for _, row := range rows {
		gauge.WithLabelValues(row.Status).Set(float64(row.Total))
	}
	return nil
}
