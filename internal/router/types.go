package router

import "github.com/finverse/feedrelay/internal/model"

// Outbound is one item on a client outbox: either a feed record or the
// shutdown sentinel that makes the session's outbound loop terminate.
type Outbound struct {
	Shutdown bool
	Record   model.FeedRecord
}

// Stats contains runtime statistics for the router.
type Stats struct {
	Clients     int
	Distributed int64
	Delivered   int64
	Dropped     int64
}
