package gormrepo

import (
	"context"

	"gorm.io/gorm"
	"trekkr/internal/domain/entities"
)

// CreateAfterMissedRead runs the insert path of EnsureForUser as a request
// that did not see an existing device.
func (r *DeviceRepo) CreateAfterMissedRead(ctx context.Context, tx *gorm.DB, userID int64, meta entities.DeviceMeta) (*entities.Device, error) {
	return r.create(ctx, tx, userID, meta)
}
