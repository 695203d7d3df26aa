package filters

import (
	"testing"

	"github.com/stretchr/testify/require"

	"quilkin.dev/udp-proxy/pkg/cluster"
)

func testEndpoints() []cluster.Endpoint {
	return []cluster.Endpoint{
		{IP: "127.0.0.1", Port: 8080},
		{IP: "127.0.0.2", Port: 8080},
		{IP: "127.0.0.3", Port: 8080},
	}
}

func TestUpstreamEndpointsKeep(t *testing.T) {
	view := NewUpstreamEndpoints(testEndpoints())
	require.Equal(t, 3, view.Size())

	require.NoError(t, view.Keep(1))
	require.Equal(t, 1, view.Size())
	require.Equal(t, "127.0.0.2", view.Endpoints()[0].IP)

	// Collapsing is terminal: only index 0 remains valid afterwards.
	require.Error(t, view.Keep(1))
	require.NoError(t, view.Keep(0))
}

func TestUpstreamEndpointsKeepOutOfRange(t *testing.T) {
	view := NewUpstreamEndpoints(testEndpoints())
	require.Error(t, view.Keep(3))
	require.Error(t, view.Keep(-1))
	require.Equal(t, 3, view.Size(), "a failed Keep must not modify the view")
}

func TestUpstreamEndpointsClearAndPush(t *testing.T) {
	view := NewUpstreamEndpoints(testEndpoints())
	view.Clear()
	require.Zero(t, view.Size())

	view.Push(cluster.Endpoint{IP: "10.0.0.1", Port: 7777})
	require.Equal(t, 1, view.Size())
	require.Equal(t, "10.0.0.1:7777", view.Endpoints()[0].Address())
}

func TestUpstreamEndpointsViewIsACopy(t *testing.T) {
	endpoints := testEndpoints()
	view := NewUpstreamEndpoints(endpoints)
	view.Clear()
	require.Len(t, endpoints, 3, "mutating the view must not affect the source slice")
}

type nopFactory struct{ name string }

func (f *nopFactory) Name() string { return f.name }
func (f *nopFactory) Create(CreateFilterArgs) (Filter, error) {
	return nil, nil
}

func TestRegistryGet(t *testing.T) {
	registry := NewRegistry(&nopFactory{name: "my.filter"})

	factory, err := registry.Get("my.filter")
	require.NoError(t, err)
	require.Equal(t, "my.filter", factory.Name())

	_, err = registry.Get("unknown.filter")
	require.Error(t, err)
}
