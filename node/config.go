package node

import "time"

// Config tunes a Node's timers and lookup parameters. Every field has a
// spec.md-mandated default; zero values are replaced by DefaultConfig's
// values in New.
type Config struct {
	// Version is advertised in every outbound message and checked
	// against peers (spec.md §4.G, §7 "wrong version").
	Version uint32

	K     int
	Alpha int
	// RoutingB is the routing table's relaxed-split parameter
	// (spec.md §4.E, §9 Open Questions — default 1, disabled).
	RoutingB int

	LookupDeadline time.Duration
	RequestTimeout time.Duration

	BucketRefreshInterval time.Duration
	RepublishInterval     time.Duration
	ExpireScanInterval    time.Duration
	ReaperInterval        time.Duration

	// StoreSoftCap bounds the local datastore; 0 means unbounded.
	StoreSoftCap int
}

// DefaultConfig returns the defaults spec.md §4.D, §4.E, §4.F, §4.I,
// and §5 specify.
func DefaultConfig() Config {
	return Config{
		Version:               1,
		K:                     20,
		Alpha:                 3,
		RoutingB:              1,
		LookupDeadline:        5 * time.Second,
		RequestTimeout:        time.Second,
		BucketRefreshInterval: time.Hour,
		RepublishInterval:     time.Hour,
		ExpireScanInterval:    10 * time.Minute,
		ReaperInterval:        time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.K <= 0 {
		c.K = d.K
	}
	if c.Alpha <= 0 {
		c.Alpha = d.Alpha
	}
	if c.RoutingB <= 0 {
		c.RoutingB = d.RoutingB
	}
	if c.LookupDeadline <= 0 {
		c.LookupDeadline = d.LookupDeadline
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.BucketRefreshInterval <= 0 {
		c.BucketRefreshInterval = d.BucketRefreshInterval
	}
	if c.RepublishInterval <= 0 {
		c.RepublishInterval = d.RepublishInterval
	}
	if c.ExpireScanInterval <= 0 {
		c.ExpireScanInterval = d.ExpireScanInterval
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = d.ReaperInterval
	}
	return c
}
