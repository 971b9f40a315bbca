// Package store owns the transfer history log. It is the only writer of
// transfer_history rows: id assignment and row persistence happen under one
// mutex so concurrent uploads can never produce duplicate or skipped ids, and
// a row is durable before Append returns.
package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/landrop/server/internal/models"
	"github.com/landrop/server/pkg/logger"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrNoPath   = errors.New("record has no file path")
)

type EventKind string

const (
	EventRecordCreated EventKind = "record-created"
	EventRecordUpdated EventKind = "record-updated"
)

// Event describes one store mutation. Events leave the store in append order;
// the sync hub fans them out to connected clients.
type Event struct {
	Kind   EventKind
	Record models.TransferRecord
}

// Scope restricts reads and event delivery to one device, or to everything
// for the desktop.
type Scope struct {
	All      bool
	DeviceID string
}

func DesktopScope() Scope { return Scope{All: true} }

func DeviceScope(id string) Scope { return Scope{DeviceID: id} }

func (s Scope) Includes(deviceID string) bool {
	return s.All || s.DeviceID == deviceID
}

type RecordStore struct {
	db     *gorm.DB
	mu     sync.Mutex
	events chan Event
}

func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{
		db:     db,
		events: make(chan Event, 1024),
	}
}

// Events is the mutation feed consumed by the sync hub.
func (s *RecordStore) Events() <-chan Event {
	return s.events
}

// Append persists a new record and assigns its id. The record's ID and
// CreatedAt fields are set by the store; anything the caller put there is
// overwritten.
func (s *RecordStore) Append(record *models.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.ID = 0
	record.CreatedAt = time.Now()
	if record.Status == "" {
		record.Status = models.TransferStatusPending
	}
	if record.Status == models.TransferStatusMissing {
		return fmt.Errorf("status %q is derived, not storable", record.Status)
	}

	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("appending transfer record: %w", err)
	}

	s.emit(Event{Kind: EventRecordCreated, Record: *record})
	return nil
}

// UpdateStatus transitions a record's status; the only mutable field.
func (s *RecordStore) UpdateStatus(id uint64, status models.TransferStatus) error {
	if status == models.TransferStatusMissing {
		return fmt.Errorf("status %q is derived, not storable", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.Model(&models.TransferRecord{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("updating record status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	var record models.TransferRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		return fmt.Errorf("loading updated record: %w", err)
	}

	s.emit(Event{Kind: EventRecordUpdated, Record: record})
	return nil
}

// Complete marks a pending record complete and fixes its final location,
// stored name and observed size. None of these are known when the pending
// record is appended: the name may gain a uniqueness suffix and the declared
// size of a streaming upload is untrusted, so the values the pipeline
// actually produced are recorded here, in the same write as the status
// transition.
func (s *RecordStore) Complete(id uint64, path, fileName string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.Model(&models.TransferRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":    models.TransferStatusComplete,
		"file_path": path,
		"file_name": fileName,
		"file_size": size,
	})
	if result.Error != nil {
		return fmt.Errorf("completing record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	var record models.TransferRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		return fmt.Errorf("loading completed record: %w", err)
	}

	s.emit(Event{Kind: EventRecordUpdated, Record: record})
	return nil
}

// List returns records visible to the scope in creation order.
func (s *RecordStore) List(scope Scope) ([]models.TransferRecord, error) {
	query := s.db.Order("created_at ASC, id ASC")
	if !scope.All {
		query = query.Where("device_id = ?", scope.DeviceID)
	}

	var records []models.TransferRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing transfer records: %w", err)
	}
	return records, nil
}

func (s *RecordStore) Get(id uint64) (models.TransferRecord, error) {
	var record models.TransferRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TransferRecord{}, ErrNotFound
		}
		return models.TransferRecord{}, fmt.Errorf("loading record: %w", err)
	}
	return record, nil
}

// ResolvePath resolves a record id to its on-disk location. A known record
// whose file has since vanished reports missing=true; that is a displayable
// state, not an error. An unknown id is ErrNotFound.
func (s *RecordStore) ResolvePath(id uint64) (path string, missing bool, err error) {
	record, err := s.Get(id)
	if err != nil {
		return "", false, err
	}
	if record.FilePath == nil || *record.FilePath == "" {
		return "", false, ErrNoPath
	}
	if _, statErr := os.Stat(*record.FilePath); statErr != nil {
		return *record.FilePath, true, nil
	}
	return *record.FilePath, false, nil
}

// PublicView derives the wire shape for one record. Status becomes "missing"
// when the record claims a completed file that is no longer on disk; the
// derivation happens here, at read time, so no background job has to
// reconcile the table against the file system.
func PublicView(record models.TransferRecord, includePath bool) models.PublicView {
	view := models.PublicView{
		ID:         record.ID,
		DeviceID:   record.DeviceID,
		DeviceName: record.DeviceName,
		FileName:   record.FileName,
		FileSize:   record.FileSize,
		Direction:  record.Direction,
		Status:     record.Status,
		CreatedAt:  record.CreatedAt,
	}
	if record.FilePath != nil && *record.FilePath != "" {
		if includePath {
			view.FilePath = *record.FilePath
		}
		if record.Status == models.TransferStatusComplete {
			if _, err := os.Stat(*record.FilePath); err != nil {
				view.Status = models.TransferStatusMissing
			}
		}
	}
	return view
}

func (s *RecordStore) emit(event Event) {
	select {
	case s.events <- event:
	default:
		// The hub has stalled or nothing is draining events. Storage
		// correctness never waits on transport; clients reconcile through a
		// snapshot fetch.
		logger.Warn("record_event_dropped", map[string]interface{}{
			"record_id": event.Record.ID,
			"kind":      string(event.Kind),
		})
	}
}
