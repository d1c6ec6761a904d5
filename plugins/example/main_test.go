package main

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/pkg/plugin"
)

func TestLoad(t *testing.T) {
	entries := Load()
	require.Len(t, entries, 2)
	assert.Equal(t, "hello", entries[0].Name)
	assert.Equal(t, "count", entries[1].Name)
	assert.Equal(t, plugin.ABIVersion, ABIVersion)
}

func TestCount(t *testing.T) {
	hosts := host.NewManager(host.KnownPair{}, host.NewKnownPair(netip.MustParseAddr("10.0.0.5"), nil))

	m, err := hello(nil, hosts)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = count([]string{"every=10ms"}, hosts)
	require.NoError(t, err)
	assert.Equal(t, plugin.FilterPayload, m.Filter().Kind())
	m.Filter().Channel() <- plugin.NewFrame([]byte("abc"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, m.Stop(ctx))

	_, err = count([]string{"every=soon"}, hosts)
	assert.Error(t, err)
}
