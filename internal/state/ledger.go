package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"gorm.io/gorm"
)

// AddKPISnapshot appends a metric reading. A zero ts means now. It returns
// the snapshot id and the stored timestamp.
func (s *Store) AddKPISnapshot(ctx context.Context, metric string, value float64, ts time.Time) (uint, time.Time, error) {
	if strings.TrimSpace(metric) == "" {
		return 0, time.Time{}, fmt.Errorf("state: add kpi: metric is required")
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	snap := models.KPISnapshot{Metric: metric, Value: value, Timestamp: ts.UTC()}
	if err := s.write(ctx, "add kpi", func(tx *gorm.DB) error {
		return tx.Create(&snap).Error
	}); err != nil {
		return 0, time.Time{}, err
	}
	return snap.ID, snap.Timestamp, nil
}

// KPIReading is one metric value of a KPISnapshot batch.
type KPIReading struct {
	Metric string
	Value  float64
}

// AddKPISnapshots appends one snapshot per reading, all stamped ts, in a
// single transaction. Either every reading is stored or none is.
func (s *Store) AddKPISnapshots(ctx context.Context, readings []KPIReading, ts time.Time) error {
	if len(readings) == 0 {
		return nil
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	snaps := make([]models.KPISnapshot, 0, len(readings))
	for _, r := range readings {
		if strings.TrimSpace(r.Metric) == "" {
			return fmt.Errorf("state: add kpis: metric is required")
		}
		snaps = append(snaps, models.KPISnapshot{Metric: r.Metric, Value: r.Value, Timestamp: ts.UTC()})
	}
	return s.write(ctx, "add kpis", func(tx *gorm.DB) error {
		for i := range snaps {
			if err := tx.Create(&snaps[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLatestKPI returns the snapshot with the greatest timestamp for metric.
// Ties go to the most recently inserted row. ok is false when the metric has
// no data.
func (s *Store) GetLatestKPI(ctx context.Context, metric string) (models.KPISnapshot, bool, error) {
	var snap models.KPISnapshot
	err := s.gdb.WithContext(ctx).Where("metric = ?", metric).
		Order("timestamp DESC, id DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.KPISnapshot{}, false, nil
	}
	if err != nil {
		return models.KPISnapshot{}, false, read("latest kpi", err)
	}
	return snap, true, nil
}

// KPIHistory returns up to limit snapshots for metric, newest first.
func (s *Store) KPIHistory(ctx context.Context, metric string, limit int) ([]models.KPISnapshot, error) {
	q := s.gdb.WithContext(ctx).Where("metric = ?", metric).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var snaps []models.KPISnapshot
	if err := q.Find(&snaps).Error; err != nil {
		return nil, read("kpi history", err)
	}
	return snaps, nil
}

// ListMetrics returns the distinct metric names, sorted.
func (s *Store) ListMetrics(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.gdb.WithContext(ctx).Model(&models.KPISnapshot{}).
		Distinct("metric").Order("metric ASC").Pluck("metric", &names).Error; err != nil {
		return nil, read("list metrics", err)
	}
	return names, nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Level        string
	Acknowledged *bool
}

// newAlert validates the fields of an alert about to be written.
func newAlert(op, level, message, source string) (models.Alert, error) {
	if !models.ValidAlertLevel(level) {
		return models.Alert{}, fmt.Errorf("state: %s: invalid level %q", op, level)
	}
	if message == "" {
		return models.Alert{}, fmt.Errorf("state: %s: alert message is required", op)
	}
	if source == "" {
		return models.Alert{}, fmt.Errorf("state: %s: alert source is required", op)
	}
	return models.Alert{Level: level, Message: message, Source: source, CreatedAt: time.Now().UTC()}, nil
}

// AddAlert records an alert and returns its id.
func (s *Store) AddAlert(ctx context.Context, level, message, source string) (uint, error) {
	alert, err := newAlert("add alert", level, message, source)
	if err != nil {
		return 0, err
	}
	if err := s.write(ctx, "add alert", func(tx *gorm.DB) error {
		return tx.Create(&alert).Error
	}); err != nil {
		return 0, err
	}
	return alert.ID, nil
}

// ListAlerts returns matching alerts in insertion order.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	q := s.gdb.WithContext(ctx).Model(&models.Alert{})
	if f.Level != "" {
		q = q.Where("level = ?", f.Level)
	}
	if f.Acknowledged != nil {
		q = q.Where("acknowledged = ?", *f.Acknowledged)
	}
	var alerts []models.Alert
	if err := q.Order("id ASC").Find(&alerts).Error; err != nil {
		return nil, read("list alerts", err)
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging twice keeps
// the first acknowledgement time.
func (s *Store) AcknowledgeAlert(ctx context.Context, id uint) error {
	return s.write(ctx, "acknowledge alert", func(tx *gorm.DB) error {
		var alert models.Alert
		err := tx.Where("id = ?", id).First(&alert).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: alert %d", fault.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if alert.Acknowledged {
			return nil
		}
		return tx.Model(&models.Alert{}).Where("id = ?", id).Updates(map[string]interface{}{
			"acknowledged":    true,
			"acknowledged_at": time.Now().UTC(),
		}).Error
	})
}

// AddDecision records a decision and returns its id.
func (s *Store) AddDecision(ctx context.Context, title, rationale, maker, impact string) (uint, error) {
	if title == "" || rationale == "" || maker == "" {
		return 0, fmt.Errorf("state: add decision: title, rationale and decision maker are required")
	}
	d := models.Decision{Title: title, Rationale: rationale, DecisionMaker: maker, Impact: impact, CreatedAt: time.Now().UTC()}
	if err := s.write(ctx, "add decision", func(tx *gorm.DB) error {
		return tx.Create(&d).Error
	}); err != nil {
		return 0, err
	}
	return d.ID, nil
}

// ListDecisions returns decisions in insertion order. With limit > 0 only
// the most recent limit decisions are returned, still oldest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]models.Decision, error) {
	var decisions []models.Decision
	q := s.gdb.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&decisions).Error; err != nil {
		return nil, read("list decisions", err)
	}
	for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
		decisions[i], decisions[j] = decisions[j], decisions[i]
	}
	return decisions, nil
}

// RecordMeetingPrep stores a brief for a calendar event and returns its id.
func (s *Store) RecordMeetingPrep(ctx context.Context, eventID, brief, createdBy string) (uint, error) {
	if eventID == "" {
		return 0, fmt.Errorf("state: record meeting prep: event id is required")
	}
	p := models.MeetingPrep{EventID: eventID, Brief: brief, CreatedBy: createdBy, CreatedAt: time.Now().UTC()}
	if err := s.write(ctx, "record meeting prep", func(tx *gorm.DB) error {
		return tx.Create(&p).Error
	}); err != nil {
		return 0, err
	}
	return p.ID, nil
}

// GetMeetingPrep returns the latest brief for eventID.
func (s *Store) GetMeetingPrep(ctx context.Context, eventID string) (models.MeetingPrep, bool, error) {
	var p models.MeetingPrep
	err := s.gdb.WithContext(ctx).Where("event_id = ?", eventID).Order("id DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MeetingPrep{}, false, nil
	}
	if err != nil {
		return models.MeetingPrep{}, false, read("get meeting prep", err)
	}
	return p, true, nil
}
