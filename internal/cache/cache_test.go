package cache

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dobrevit/formwaf/internal/model"
)

func TestCache_ColdStart(t *testing.T) {
	c := New()
	snap := c.Snapshot()
	assert.NotNil(t, snap)
	assert.False(t, snap.Warm)
	assert.Zero(t, snap.Version)
}

func TestCache_SwapVersions(t *testing.T) {
	c := New()

	s1 := NewSnapshot()
	s1.Warm = true
	v1 := c.Swap(s1)
	assert.Equal(t, int64(1), v1)
	assert.True(t, c.Warm())

	s2 := NewSnapshot()
	s2.Warm = true
	v2 := c.Swap(s2)
	assert.Equal(t, int64(2), v2)
	assert.Same(t, s2, c.Snapshot())
}

func TestCache_ReadersKeepOldSnapshot(t *testing.T) {
	c := New()

	s1 := NewSnapshot()
	s1.Profiles["p1"] = &model.DefenseProfile{ID: "p1"}
	s1.Warm = true
	c.Swap(s1)

	held := c.Snapshot()

	s2 := NewSnapshot()
	s2.Warm = true
	c.Swap(s2)

	// The reader's view is unchanged by the swap.
	assert.Contains(t, held.Profiles, "p1")
	assert.NotContains(t, c.Snapshot().Profiles, "p1")
}

func TestSnapshot_Whitelist(t *testing.T) {
	s := NewSnapshot()
	s.SetWhitelist([]string{"10.0.0.1", "192.168.0.0/16", "not-an-ip"})

	assert.True(t, s.IPWhitelisted(net.ParseIP("10.0.0.1")))
	assert.True(t, s.IPWhitelisted(net.ParseIP("192.168.4.20")))
	assert.False(t, s.IPWhitelisted(net.ParseIP("10.0.0.2")))
	assert.False(t, s.IPWhitelisted(nil))
}

func TestSnapshot_ProfileValid(t *testing.T) {
	s := NewSnapshot()
	s.Profiles["good"] = &model.DefenseProfile{ID: "good"}
	s.Profiles["bad"] = &model.DefenseProfile{ID: "bad"}
	s.InvalidProfiles["bad"] = []string{"graph has no start node"}

	assert.True(t, s.ProfileValid("good"))
	assert.False(t, s.ProfileValid("bad"))
	assert.False(t, s.ProfileValid("missing"))
}
