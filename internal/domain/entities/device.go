package entities

import "time"

const (
	DefaultDeviceName = "My Phone"
	DefaultPlatform   = "unknown"
)

// Device is the single registered device of a user. It is created on first
// ingest and its metadata is overwritten by whatever the client last sent.
type Device struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"column:user_id;not null;uniqueIndex:uq_devices_user_id" json:"user_id"`
	DeviceUUID *string   `gorm:"column:device_uuid;size:64;index" json:"device_uuid,omitempty"`
	DeviceName string    `gorm:"column:device_name;size:100;not null" json:"device_name"`
	Platform   string    `gorm:"size:20;not null" json:"platform"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// DeviceMeta is the optional device metadata carried by an ingest request.
type DeviceMeta struct {
	DeviceUUID *string
	DeviceName *string
	Platform   *string
}

// NewDevice builds an unsaved device for userID, falling back to defaults for
// metadata the client did not send.
func NewDevice(userID int64, meta DeviceMeta) *Device {
	d := &Device{
		UserID:     userID,
		DeviceUUID: meta.DeviceUUID,
		DeviceName: DefaultDeviceName,
		Platform:   DefaultPlatform,
	}
	if meta.DeviceName != nil && *meta.DeviceName != "" {
		d.DeviceName = *meta.DeviceName
	}
	if meta.Platform != nil && *meta.Platform != "" {
		d.Platform = *meta.Platform
	}
	return d
}

// Changes returns the column updates needed to bring d in line with meta.
// An empty map means nothing changed.
func (d *Device) Changes(meta DeviceMeta) map[string]interface{} {
	updates := map[string]interface{}{}
	if meta.DeviceUUID != nil && (d.DeviceUUID == nil || *d.DeviceUUID != *meta.DeviceUUID) {
		updates["device_uuid"] = *meta.DeviceUUID
	}
	if meta.DeviceName != nil && *meta.DeviceName != "" && *meta.DeviceName != d.DeviceName {
		updates["device_name"] = *meta.DeviceName
	}
	if meta.Platform != nil && *meta.Platform != "" && *meta.Platform != d.Platform {
		updates["platform"] = *meta.Platform
	}
	return updates
}
