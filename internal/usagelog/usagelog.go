// Package usagelog records per-request token usage. Writes are
// fire-and-forget: a failed insert is logged and dropped, never surfaced
// to the request path.
package usagelog

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/hhszzzz/antihub/internal/db/models"
)

// Recorder writes usage rows asynchronously.
type Recorder struct {
	db *gorm.DB
	wg sync.WaitGroup
}

// NewRecorder builds a Recorder over the usage_logs table.
func NewRecorder(database *gorm.DB) *Recorder {
	return &Recorder{db: database}
}

// Record queues one usage row. Safe to call from request goroutines.
func (r *Recorder) Record(entry *models.UsageLog) {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.db.Create(entry).Error; err != nil {
			log.Printf("⚠️ usage log write failed: %v", err)
		}
	}()
}

// Flush waits for queued writes; used in tests and shutdown.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

// Stats aggregates usage per provider since a cutoff.
func (r *Recorder) Stats(since time.Time) ([]models.UsageStats, error) {
	var stats []models.UsageStats
	err := r.db.Model(&models.UsageLog{}).
		Select("provider, COUNT(*) as requests, SUM(input_tokens) as input_tokens, SUM(output_tokens) as output_tokens").
		Where("timestamp >= ?", since.Unix()).
		Group("provider").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
