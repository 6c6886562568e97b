// Package journal keeps a local write-ahead log of completed trades so the
// trading history survives database outages and restarts.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"cryptick/internal/entity"
)

const (
	defaultDir     = "./wal/trades"
	segmentLimit   = 1000
	maxSegments    = 100
	summaryKeyBase = "trade_summary_"
)

// Journal is a WAL-backed append-only log of trade summaries.
type Journal struct {
	mu  sync.RWMutex
	wal *gowal.Wal
}

func New(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "trades_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open trade journal")
	}

	return &Journal{wal: wal}, nil
}

// Append records one completed round trip.
func (j *Journal) Append(summary entity.TradeSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "failed to marshal trade summary")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	index := j.wal.CurrentIndex() + 1
	return errors.Wrap(j.wal.Write(index, summaryKeyBase+summary.Market.String(), payload),
		"failed to append trade summary")
}

// Entries returns every journalled trade summary in write order.
func (j *Journal) Entries() ([]entity.TradeSummary, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	summaries := make([]entity.TradeSummary, 0, current)
	for idx := uint64(1); idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, summaryKeyBase) {
			continue
		}
		var summary entity.TradeSummary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, errors.Wrap(err, "failed to decode trade summary")
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Wrap(j.wal.Close(), "failed to close trade journal")
}
