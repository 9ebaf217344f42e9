// Package cache holds the per-process configuration snapshot. The sync
// worker is the sole writer; request-path readers obtain an immutable
// snapshot for their whole lifetime via copy-on-swap.
package cache

import (
	"net"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/dobrevit/formwaf/internal/model"
)

// Snapshot is one immutable view of the full cached configuration. Readers
// must never mutate a snapshot after Swap publishes it.
type Snapshot struct {
	// Version increments monotonically with every successful swap and is
	// part of every memoization key derived from cached data.
	Version  int64
	SyncedAt time.Time
	// Warm is false until the first successful sync; requests before that
	// run against built-in defaults and carry a warmup flag.
	Warm bool

	Global *model.LayerConfig

	Vhosts          map[string]*model.Vhost
	VhostList       []*model.Vhost // priority ascending, id ascending
	Endpoints       map[string]*model.Endpoint
	GlobalEndpoints []*model.Endpoint            // priority ascending
	VhostEndpoints  map[string][]*model.Endpoint // per vhost, priority ascending

	Profiles   map[string]*model.DefenseProfile
	Signatures map[string]*model.AttackSignature
	// Fingerprints are ordered by priority ascending.
	Fingerprints []*model.FingerprintProfile

	// InvalidProfiles maps a profile id to its validation errors, computed
	// once at swap time. Invalid profiles never execute.
	InvalidProfiles map[string][]string

	// EndpointRegex holds endpoint path regexes compiled at swap time.
	// Endpoints whose regex failed to compile are absent and their regex
	// clause never matches.
	EndpointRegex map[string]*regexp.Regexp

	BlockedKeywords map[string]struct{}
	FlaggedKeywords map[string]float64
	BlockedHashes   map[string]struct{}

	whitelistExact map[string]struct{}
	whitelistCIDRs []*net.IPNet
}

// NewSnapshot returns an empty, cold snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Vhosts:          make(map[string]*model.Vhost),
		Endpoints:       make(map[string]*model.Endpoint),
		VhostEndpoints:  make(map[string][]*model.Endpoint),
		Profiles:        make(map[string]*model.DefenseProfile),
		Signatures:      make(map[string]*model.AttackSignature),
		InvalidProfiles: make(map[string][]string),
		EndpointRegex:   make(map[string]*regexp.Regexp),
		BlockedKeywords: make(map[string]struct{}),
		FlaggedKeywords: make(map[string]float64),
		BlockedHashes:   make(map[string]struct{}),
		whitelistExact:  make(map[string]struct{}),
	}
}

// SetWhitelist parses IP and CIDR entries; unparseable entries are dropped.
func (s *Snapshot) SetWhitelist(entries []string) {
	s.whitelistExact = make(map[string]struct{})
	s.whitelistCIDRs = nil
	for _, e := range entries {
		if _, cidr, err := net.ParseCIDR(e); err == nil {
			s.whitelistCIDRs = append(s.whitelistCIDRs, cidr)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			s.whitelistExact[ip.String()] = struct{}{}
		}
	}
}

// IPWhitelisted reports whether ip appears in the whitelist, by exact
// address or CIDR containment.
func (s *Snapshot) IPWhitelisted(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if _, ok := s.whitelistExact[ip.String()]; ok {
		return true
	}
	for _, cidr := range s.whitelistCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ProfileValid reports whether the profile exists and passed validation.
func (s *Snapshot) ProfileValid(id string) bool {
	if _, ok := s.Profiles[id]; !ok {
		return false
	}
	_, invalid := s.InvalidProfiles[id]
	return !invalid
}

// Cache is the process-wide snapshot holder.
type Cache struct {
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

// New creates a cache primed with an empty cold snapshot.
func New() *Cache {
	c := &Cache{}
	c.current.Store(NewSnapshot())
	return c
}

// Snapshot returns the live snapshot. Never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Swap atomically publishes a fully built staging snapshot, assigning it
// the next version. Returns the assigned version.
func (c *Cache) Swap(s *Snapshot) int64 {
	v := c.version.Add(1)
	s.Version = v
	c.current.Store(s)
	return v
}

// Warm reports whether at least one sync has completed.
func (c *Cache) Warm() bool {
	return c.Snapshot().Warm
}
