package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
	"trekkr/internal/logger"
	"trekkr/internal/repository"
)

type DeviceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ repository.DeviceRepository = (*DeviceRepo)(nil)

func NewDeviceRepo(db *gorm.DB, baseLog *logger.Logger) *DeviceRepo {
	return &DeviceRepo{db: db, log: baseLog.With("repo", "DeviceRepo")}
}

func (r *DeviceRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*entities.Device, error) {
	var device entities.Device
	err := conn(tx, r.db).WithContext(ctx).Where("user_id = ?", userID).Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// EnsureForUser returns the user's device, creating it on first use and
// applying any metadata the client sent (last write wins).
//
// Two first requests of the same user can both miss the read. The insert
// runs in a savepoint so the loser's unique violation rolls back only that
// statement; the loser then re-reads the winner's row and carries on.
func (r *DeviceRepo) EnsureForUser(ctx context.Context, tx *gorm.DB, userID int64, meta entities.DeviceMeta) (*entities.Device, error) {
	device, err := r.GetByUserID(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return r.create(ctx, tx, userID, meta)
	}
	if err := r.applyMeta(ctx, tx, device, meta); err != nil {
		return nil, err
	}
	return device, nil
}

func (r *DeviceRepo) create(ctx context.Context, tx *gorm.DB, userID int64, meta entities.DeviceMeta) (*entities.Device, error) {
	db := conn(tx, r.db).WithContext(ctx)
	device := entities.NewDevice(userID, meta)

	err := db.Transaction(func(sp *gorm.DB) error {
		return sp.Create(device).Error
	})
	if err == nil {
		return device, nil
	}
	if !IsUniqueViolation(err) {
		return nil, err
	}

	r.log.Debug("device insert lost race, re-reading", "user_id", userID)
	winner, err := r.GetByUserID(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, errors.New("device vanished after unique violation")
	}
	if err := r.applyMeta(ctx, tx, winner, meta); err != nil {
		return nil, err
	}
	return winner, nil
}

func (r *DeviceRepo) applyMeta(ctx context.Context, tx *gorm.DB, device *entities.Device, meta entities.DeviceMeta) error {
	updates := device.Changes(meta)
	if len(updates) == 0 {
		return nil
	}
	if err := conn(tx, r.db).WithContext(ctx).Model(device).Updates(updates).Error; err != nil {
		return err
	}
	if v, ok := updates["device_uuid"].(string); ok {
		device.DeviceUUID = &v
	}
	if v, ok := updates["device_name"].(string); ok {
		device.DeviceName = v
	}
	if v, ok := updates["platform"].(string); ok {
		device.Platform = v
	}
	return nil
}
