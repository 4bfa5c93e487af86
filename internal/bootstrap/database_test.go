package bootstrap

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/clipscore/config"
)

func TestPostgresDSNEscapesCredentials(t *testing.T) {
	dsn := postgresDSN(config.DBConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "clip",
		Password: "p@ss:w/rd",
		Name:     "clipscore",
		SSLMode:  "require",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/clipscore", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss:w/rd", pw)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestRedisOptionsDirect(t *testing.T) {
	opts, err := redisOptions(config.RedisConfig{URI: "cache:6379", Password: "secret", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:6379"}, opts.Addrs)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.False(t, opts.IsClusterMode)
}

func TestRedisOptionsURL(t *testing.T) {
	opts, err := redisOptions(config.RedisConfig{URI: "redis://user:pw@cache:6380/3", DB: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:6380"}, opts.Addrs)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
}

func TestRedisOptionsBadURL(t *testing.T) {
	_, err := redisOptions(config.RedisConfig{URI: "redis://cache:6380/notadb"})
	require.Error(t, err)
}

func TestRedisOptionsSentinel(t *testing.T) {
	opts, err := redisOptions(config.RedisConfig{
		UseSentinel:        true,
		SentinelNodes:      []string{" s1:26379 ", "", "s2:26379"},
		SentinelMasterName: "primary",
		SentinelPassword:   "spw",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, opts.Addrs)
	assert.Equal(t, "primary", opts.MasterName)
	assert.Equal(t, "spw", opts.SentinelPassword)

	_, err = redisOptions(config.RedisConfig{UseSentinel: true})
	require.Error(t, err)
}

func TestRedisOptionsCluster(t *testing.T) {
	opts, err := redisOptions(config.RedisConfig{UseCluster: true, ClusterNodes: []string{"n1:7000"}, DB: 4})
	require.NoError(t, err)
	assert.True(t, opts.IsClusterMode)
	assert.Equal(t, []string{"n1:7000"}, opts.Addrs)
	assert.Zero(t, opts.DB)

	_, err = redisOptions(config.RedisConfig{UseCluster: true})
	require.Error(t, err)
}

func TestRedisOptionsEmptyURI(t *testing.T) {
	_, err := redisOptions(config.RedisConfig{URI: "  "})
	require.Error(t, err)
}
