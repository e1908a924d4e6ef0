package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "notemapper.sqlite3"
const errDBClientNil = "db client is nil"

// ErrBatchNotFound is returned when a batch id has no row.
var ErrBatchNotFound = errors.New("batch not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// DetectionBatch is one detection run and the anchor frame it was mapped into.
type DetectionBatch struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	SessionID    string `gorm:"type:varchar(36);index:idx_batch_session"`
	CanvasID     string `gorm:"index:idx_batch_target,priority:1"`
	AnchorID     string `gorm:"index:idx_batch_target,priority:2"`
	AnchorName   string
	AnchorX      float64
	AnchorY      float64
	AnchorWidth  float64
	AnchorHeight float64
	AnchorScale  float64
	ImageBytes   int
	NoteCount    int
	CreatedAt    time.Time    `gorm:"index:idx_batch_created"`
	Notes        []NoteRecord `gorm:"foreignKey:BatchID"`
}

// NoteRecord is one note of a batch in both coordinate spaces.
type NoteRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	BatchID         string `gorm:"type:varchar(36);index:idx_note_batch"`
	Position        int
	Text            string
	BackgroundColor string
	State           string
	Scale           float64
	ImageX          float64
	ImageY          float64
	ImageWidth      float64
	ImageHeight     float64
	CanvasX         float64
	CanvasY         float64
	CanvasWidth     float64
	CanvasHeight    float64
}

// Placement is one attempt to create a batch's selected notes.
type Placement struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	BatchID      string `gorm:"type:varchar(36);index:idx_placement_batch"`
	SessionID    string `gorm:"type:varchar(36)"`
	CanvasID     string
	AnchorID     string
	Indices      []int `gorm:"serializer:json"`
	CreatedCount int
	Error        string
	CreatedAt    time.Time
}

// BatchRow is a DetectionBatch with its placement count, for listings.
type BatchRow struct {
	DetectionBatch
	Placements int
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("NOTEMAPPER_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// sqlite has a single writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&DetectionBatch{}, &NoteRecord{}, &Placement{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SaveBatch stores a batch and its notes in one transaction.
func (c *DBClient) SaveBatch(batch *DetectionBatch) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if batch.ID == "" {
		return errors.New("batch id is empty")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	batch.NoteCount = len(batch.Notes)

	return c.DB.Transaction(func(tx *gorm.DB) error {
		notes := batch.Notes
		batch.Notes = nil
		defer func() { batch.Notes = notes }()

		if err := tx.Create(batch).Error; err != nil {
			return fmt.Errorf("creating batch: %w", err)
		}
		if len(notes) == 0 {
			return nil
		}
		for i := range notes {
			notes[i].BatchID = batch.ID
		}
		if err := tx.CreateInBatches(notes, 200).Error; err != nil {
			return fmt.Errorf("batch insert notes: %w", err)
		}
		return nil
	})
}

func (c *DBClient) SavePlacement(p *Placement) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := c.DB.Create(p).Error; err != nil {
		return fmt.Errorf("creating placement: %w", err)
	}
	return nil
}

// ListBatches returns the newest batches first. limit <= 0 means no limit.
func (c *DBClient) ListBatches(limit int) ([]BatchRow, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	q := c.DB.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var batches []DetectionBatch
	if err := q.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	if len(batches) == 0 {
		return []BatchRow{}, nil
	}

	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}

	var counts []struct {
		BatchID string
		N       int
	}
	if err := c.DB.Model(&Placement{}).
		Select("batch_id, count(*) as n").
		Where("batch_id IN ?", ids).
		Group("batch_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting placements: %w", err)
	}
	byBatch := make(map[string]int, len(counts))
	for _, row := range counts {
		byBatch[row.BatchID] = row.N
	}

	rows := make([]BatchRow, len(batches))
	for i, b := range batches {
		rows[i] = BatchRow{DetectionBatch: b, Placements: byBatch[b.ID]}
	}
	return rows, nil
}

// GetBatch loads a batch with its notes in detection order and its placements
// oldest first.
func (c *DBClient) GetBatch(id string) (*DetectionBatch, []Placement, error) {
	if c == nil || c.DB == nil {
		return nil, nil, errors.New(errDBClientNil)
	}

	var batch DetectionBatch
	err := c.DB.Preload("Notes", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying batch: %w", err)
	}

	var placements []Placement
	if err := c.DB.Where("batch_id = ?", id).Order("created_at ASC, id ASC").Find(&placements).Error; err != nil {
		return nil, nil, fmt.Errorf("querying placements: %w", err)
	}
	return &batch, placements, nil
}

// DeleteBatch removes a batch with its notes and placements.
func (c *DBClient) DeleteBatch(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&Placement{}).Error; err != nil {
			return err
		}
		if err := tx.Where("batch_id = ?", id).Delete(&NoteRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&DetectionBatch{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		return nil
	})
}
