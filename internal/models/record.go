package models

import "time"

type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusComplete TransferStatus = "complete"
	TransferStatusFailed   TransferStatus = "failed"
	// TransferStatusMissing is derived at read time when the backing file no
	// longer exists on disk. It is never written to the database.
	TransferStatusMissing TransferStatus = "missing"
)

type TransferDirection string

const (
	DirectionToDesktop TransferDirection = "to_desktop"
	DirectionToMobile  TransferDirection = "to_mobile"
)

// DesktopDeviceID is the distinguished identity with unrestricted read scope.
const DesktopDeviceID = "desktop"

// TransferRecord is one row of the transfer history log. Rows are immutable
// after creation except for Status. The id is assigned by the store, never by
// a client.
type TransferRecord struct {
	ID         uint64            `json:"id" gorm:"primaryKey;autoIncrement"`
	DeviceID   string            `json:"deviceID" gorm:"size:120;not null;index:idx_transfer_history_device_ts,priority:1"`
	DeviceName string            `json:"deviceName" gorm:"size:80;not null"`
	FileName   string            `json:"fileName" gorm:"size:255;not null"`
	FilePath   *string           `json:"-" gorm:"type:text"`
	FileSize   int64             `json:"fileSize" gorm:"not null;default:0"`
	Direction  TransferDirection `json:"direction" gorm:"size:20;not null"`
	Status     TransferStatus    `json:"status" gorm:"size:20;not null;default:'pending'"`
	CreatedAt  time.Time         `json:"createdAt" gorm:"not null;index:idx_transfer_history_device_ts,priority:2;index"`
}

func (TransferRecord) TableName() string {
	return "transfer_history"
}

// PublicView is the wire shape pushed to clients over the records API and the
// websocket channel. FilePath is only exposed to desktop scope.
type PublicView struct {
	ID         uint64            `json:"id"`
	DeviceID   string            `json:"deviceID"`
	DeviceName string            `json:"deviceName"`
	FileName   string            `json:"fileName"`
	FilePath   string            `json:"filePath,omitempty"`
	FileSize   int64             `json:"fileSize"`
	Direction  TransferDirection `json:"direction"`
	Status     TransferStatus    `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
}
