package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/i474232898/weather-assistant/internal/alerts"
	"github.com/i474232898/weather-assistant/internal/weather"
)

type subscriptionRow struct {
	UserID       string        `gorm:"primaryKey;size:191"`
	ID           string        `gorm:"size:36;uniqueIndex;not null"`
	Latitude     float64       `gorm:"not null"`
	Longitude    float64       `gorm:"not null"`
	LocationName string        `gorm:"size:255"`
	Unit         string        `gorm:"size:16"`
	Rules        []alerts.Rule `gorm:"serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (subscriptionRow) TableName() string { return "alert_subscriptions" }

type deviceRow struct {
	UserID       string `gorm:"primaryKey;size:191"`
	Token        string `gorm:"size:512;not null"`
	Platform     string `gorm:"size:32"`
	RegisteredAt time.Time
}

func (deviceRow) TableName() string { return "device_registrations" }

type agentRow struct {
	UserID    string `gorm:"primaryKey;size:191"`
	AgentID   string `gorm:"size:128;not null"`
	Name      string `gorm:"size:191"`
	CreatedAt time.Time
}

func (agentRow) TableName() string { return "user_agents" }

// SQLStore persists subscriptions, device registrations and the agent
// directory through gorm. It serves postgres and mysql.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL connects to driver ("postgres" or "mysql") and migrates the schema.
func OpenSQL(driver, dsn string, logger logrus.FieldLogger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	cfg := &gorm.Config{}
	if logger != nil {
		cfg.Logger = gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an open gorm connection and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&subscriptionRow{}, &deviceRow{}, &agentRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Put upserts the user's subscription, keeping the previous ID and CreatedAt.
func (s *SQLStore) Put(ctx context.Context, sub alerts.Subscription) (alerts.Subscription, error) {
	row := toSubscriptionRow(sub)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev subscriptionRow
		err := tx.Where("user_id = ?", row.UserID).Take(&prev).Error
		switch {
		case err == nil:
			row.ID = prev.ID
			row.CreatedAt = prev.CreatedAt
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
	if err != nil {
		return alerts.Subscription{}, fmt.Errorf("store subscription: %w", err)
	}
	return fromSubscriptionRow(row), nil
}

func (s *SQLStore) Get(ctx context.Context, userID string) (alerts.Subscription, error) {
	var row subscriptionRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return alerts.Subscription{}, ErrNotFound
	}
	if err != nil {
		return alerts.Subscription{}, err
	}
	return fromSubscriptionRow(row), nil
}

func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&subscriptionRow{}).Error
}

// List reads all subscriptions in one query, which is the snapshot the
// evaluator works from.
func (s *SQLStore) List(ctx context.Context) ([]alerts.Subscription, error) {
	var rows []subscriptionRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]alerts.Subscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromSubscriptionRow(r))
	}
	return out, nil
}

func (s *SQLStore) PutDevice(ctx context.Context, reg DeviceRegistration) error {
	row := deviceRow(reg)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *SQLStore) GetDevice(ctx context.Context, userID string) (DeviceRegistration, error) {
	var row deviceRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DeviceRegistration{}, ErrNotFound
	}
	if err != nil {
		return DeviceRegistration{}, err
	}
	return DeviceRegistration(row), nil
}

func (s *SQLStore) DeleteDevice(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&deviceRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CountDevices(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&deviceRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLStore) PutAgent(ctx context.Context, rec AgentRecord) error {
	row := agentRow(rec)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *SQLStore) GetAgent(ctx context.Context, userID string) (AgentRecord, error) {
	var row agentRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AgentRecord{}, ErrNotFound
	}
	if err != nil {
		return AgentRecord{}, err
	}
	return AgentRecord(row), nil
}

func (s *SQLStore) DeleteAgent(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&agentRow{}).Error
}

func toSubscriptionRow(sub alerts.Subscription) subscriptionRow {
	return subscriptionRow{
		UserID:       sub.UserID,
		ID:           sub.ID,
		Latitude:     sub.Location.Latitude,
		Longitude:    sub.Location.Longitude,
		LocationName: sub.Location.Name,
		Unit:         string(sub.Unit),
		Rules:        append([]alerts.Rule(nil), sub.Rules...),
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
}

func fromSubscriptionRow(r subscriptionRow) alerts.Subscription {
	return alerts.Subscription{
		ID:     r.ID,
		UserID: r.UserID,
		Location: weather.Location{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Name:      r.LocationName,
		},
		Unit:      weather.Unit(r.Unit),
		Rules:     append([]alerts.Rule(nil), r.Rules...),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
