package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrevit/formwaf/internal/dag"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/store"
)

func testStore(t *testing.T) *store.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewWithRedis(rdb, logging.New("config-test", "error", "text"))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, int64(10485760), cfg.MaxBodyBytes)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WAF_LISTEN_ADDR", ":9999")
	t.Setenv("WAF_ENV", "production")
	t.Setenv("WAF_SYNC_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5*time.Second, cfg.SyncInterval)
}

func TestDefaultBootstrap_ProfileIsValid(t *testing.T) {
	b := DefaultBootstrap()
	require.NotEmpty(t, b.Profiles)
	for _, p := range b.Profiles {
		assert.Empty(t, dag.Validate(&p.Graph), "builtin profile %s must validate", p.ID)
	}
	require.NotNil(t, b.DefaultVhost)
	assert.Equal(t, model.DefaultVhostID, b.DefaultVhost.ID)
}

func TestSeed_RunsOncePerVersion(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	logger := logging.New("config-test", "error", "text")

	b := DefaultBootstrap()
	require.NoError(t, b.Seed(ctx, st, logger))

	profiles, err := st.ListProfiles(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, profiles)

	vhost, err := st.GetVhost(ctx, model.DefaultVhostID)
	require.NoError(t, err)
	assert.True(t, vhost.Enabled)

	// Second seed with the same version is a no-op.
	require.NoError(t, b.Seed(ctx, st, logger))

	v, err := st.BuiltinProfilesVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.Version, v)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := testStore(t)
	dst := testStore(t)
	ctx := context.Background()
	logger := logging.New("config-test", "error", "text")

	require.NoError(t, DefaultBootstrap().Seed(ctx, src, logger))
	vhostID := model.DefaultVhostID
	require.NoError(t, src.PutEndpoint(ctx, &model.Endpoint{
		ID: "contact", VhostID: &vhostID, Enabled: true, Priority: 5,
		Match: model.EndpointMatch{Paths: []string{"/contact"}, Methods: []string{"POST"}},
	}))

	exported, err := Export(ctx, src)
	require.NoError(t, err)

	raw, err := MarshalBundle(exported)
	require.NoError(t, err)
	parsed, err := UnmarshalBundle(raw)
	require.NoError(t, err)

	require.NoError(t, Import(ctx, dst, parsed))

	reexported, err := Export(ctx, dst)
	require.NoError(t, err)

	raw2, err := MarshalBundle(reexported)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(raw2))
}
