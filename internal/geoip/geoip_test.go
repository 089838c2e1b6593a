package geoip

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.json")
	data := `[{"net":"10.0.0.0/8","country":"US","region":"CA","city":"San Francisco"},
	          {"net":"192.168.0.0/16","country":"DE"}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	g, err := Init(path)
	require.NoError(t, err)
	defer g.Close()

	loc := g.Lookup(net.ParseIP("10.1.2.3"))
	require.NotNil(t, loc)
	assert.Equal(t, "US", loc.Country)
	assert.Equal(t, "CA", loc.Region)
	assert.Equal(t, "San Francisco", loc.City)

	assert.Equal(t, "DE", g.Country(net.ParseIP("192.168.1.1")))
	assert.Nil(t, g.Lookup(net.ParseIP("8.8.8.8")))
	assert.Equal(t, "", g.Country(net.ParseIP("8.8.8.8")))
}

func TestInit_MissingFile(t *testing.T) {
	_, err := Init(filepath.Join(t.TempDir(), "missing.mmdb"))
	assert.Error(t, err)
}

func TestNilGeoIP(t *testing.T) {
	var g *GeoIP
	assert.Nil(t, g.Lookup(net.ParseIP("10.0.0.1")))
	assert.NoError(t, g.Close())
}
