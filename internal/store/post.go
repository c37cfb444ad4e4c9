package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/robida/federation/internal/mf2"
)

// Post is the durable system of record for a microformats-2 entry, per
// SPEC_FULL.md section 3.
type Post struct {
	UUID           uuid.UUID  `json:"uuid"`
	Author         string     `json:"author"`
	Location       string     `json:"location"`
	Content        mf2.Object `json:"content"`
	Read           bool       `json:"read"`
	Deleted        bool       `json:"deleted"`
	CreatedAt      time.Time  `json:"created_at"`
	LastModifiedAt time.Time  `json:"last_modified_at"`
}

// PostListOptions configures List/ListByCategory/Search.
type PostListOptions struct {
	Author    string
	Since     *time.Time
	Category  string
	Needle    string
	Offset    int
	Limit     int
	Deleted   bool
	Protected bool
}
