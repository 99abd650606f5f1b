package model

import "time"

// Partition describes one time-bounded segment of the Operation and Batch history tables.
// Operations and Batches share the partition numbering.
type Partition struct {
	Number     int64
	Active     bool
	CreatedAt  time.Time
	DetachedAt *time.Time
}

// IsAttached reports whether the partition tables still exist.
func (p *Partition) IsAttached() bool {
	return p.DetachedAt == nil
}
