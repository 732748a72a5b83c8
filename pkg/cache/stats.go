package cache

import (
	"sync/atomic"
	"time"
)

// Statistics tracks cache counters
type Statistics struct {
	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	size        atomic.Int64
	maxSize     atomic.Int64
	startTime   time.Time
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) hit()        { s.hits.Add(1) }
func (s *Statistics) miss()       { s.misses.Add(1) }
func (s *Statistics) set()        { s.sets.Add(1) }
func (s *Statistics) delete()     { s.deletes.Add(1) }
func (s *Statistics) eviction()   { s.evictions.Add(1) }
func (s *Statistics) expiration() { s.expirations.Add(1) }

func (s *Statistics) updateSize(n int) {
	size := int64(n)
	s.size.Store(size)
	for {
		peak := s.maxSize.Load()
		if size <= peak || s.maxSize.CompareAndSwap(peak, size) {
			return
		}
	}
}

// Stats is a point-in-time copy of the counters
type Stats struct {
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Sets        int64         `json:"sets"`
	Deletes     int64         `json:"deletes"`
	Evictions   int64         `json:"evictions"`
	Expirations int64         `json:"expirations"`
	Size        int64         `json:"size"`
	MaxSize     int64         `json:"max_size"`
	Uptime      time.Duration `json:"uptime"`
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s *Statistics) snapshot() Stats {
	return Stats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Sets:        s.sets.Load(),
		Deletes:     s.deletes.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		Size:        s.size.Load(),
		MaxSize:     s.maxSize.Load(),
		Uptime:      time.Since(s.startTime),
	}
}
