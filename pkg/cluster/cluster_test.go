package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("10.0.0.1:7777")
	require.NoError(t, err)
	require.Equal(t, Endpoint{IP: "10.0.0.1", Port: 7777}, ep)
	require.Equal(t, "10.0.0.1:7777", ep.Address())

	_, err = ParseEndpoint("10.0.0.1")
	require.Error(t, err)

	_, err = ParseEndpoint("10.0.0.1:notaport")
	require.Error(t, err)

	_, err = ParseEndpoint("10.0.0.1:70000")
	require.Error(t, err)
}

func TestEndpointEquality(t *testing.T) {
	a := Endpoint{IP: "10.0.0.1", Port: 7777, Metadata: map[string]interface{}{"k": "v"}}
	b := Endpoint{IP: "10.0.0.1", Port: 7777, Metadata: map[string]interface{}{"k": "v"}}
	require.True(t, a.Equal(b))

	b.Metadata = map[string]interface{}{"k": "other"}
	require.False(t, a.Equal(b))

	b = Endpoint{IP: "10.0.0.1", Port: 7778}
	require.False(t, a.Equal(b))
}

func TestClusterValidateRejectsDuplicateEndpoints(t *testing.T) {
	ep := Endpoint{IP: "10.0.0.1", Port: 7777}
	c := Cluster{
		Name: "cluster-a",
		Localities: []LocalityEndpoints{
			{Endpoints: []Endpoint{ep, ep}},
		},
	}
	require.Error(t, c.Validate())

	// The same endpoint in two different locality groups is fine.
	c = Cluster{
		Name: "cluster-a",
		Localities: []LocalityEndpoints{
			{Locality: &Locality{Region: "us-east1"}, Endpoints: []Endpoint{ep}},
			{Locality: &Locality{Region: "us-west1"}, Endpoints: []Endpoint{ep}},
		},
	}
	require.NoError(t, c.Validate())
}

func TestClusterValidateRejectsDuplicateLocalities(t *testing.T) {
	locality := Locality{Region: "us-east1", Zone: "b"}
	c := Cluster{
		Localities: []LocalityEndpoints{
			{Locality: &locality},
			{Locality: &locality},
		},
	}
	require.Error(t, c.Validate())

	c = Cluster{
		Localities: []LocalityEndpoints{
			{Endpoints: []Endpoint{{IP: "10.0.0.1", Port: 1}}},
			{Endpoints: []Endpoint{{IP: "10.0.0.2", Port: 2}}},
		},
	}
	require.Error(t, c.Validate(), "two unassigned locality groups should be rejected")
}

func TestClusterGet(t *testing.T) {
	locality := Locality{Region: "us-east1", Zone: "b", SubZone: "c"}
	c := Cluster{
		Localities: []LocalityEndpoints{
			{Endpoints: []Endpoint{{IP: "10.0.0.1", Port: 1}}},
			{Locality: &locality, Endpoints: []Endpoint{{IP: "10.0.0.2", Port: 2}}},
		},
	}
	require.NoError(t, c.Validate())

	group, found := c.Get(nil)
	require.True(t, found)
	require.Equal(t, "10.0.0.1", group.Endpoints[0].IP)

	group, found = c.Get(&locality)
	require.True(t, found)
	require.Equal(t, "10.0.0.2", group.Endpoints[0].IP)

	_, found = c.Get(&Locality{Region: "elsewhere"})
	require.False(t, found)
}

func TestHolderWholesaleReplacement(t *testing.T) {
	holder := NewHolder()
	require.Empty(t, holder.Load().Endpoints())

	require.NoError(t, holder.Store([]Cluster{{
		Name: "cluster-a",
		Localities: []LocalityEndpoints{
			{Endpoints: []Endpoint{{IP: "10.0.0.1", Port: 7777}}},
		},
	}}))

	before := holder.Load()
	require.Len(t, before.Endpoints(), 1)

	require.NoError(t, holder.Store([]Cluster{{
		Name: "cluster-a",
		Localities: []LocalityEndpoints{
			{Endpoints: []Endpoint{
				{IP: "10.0.0.2", Port: 7777},
				{IP: "10.0.0.3", Port: 7777},
			}},
		},
	}}))

	// The earlier snapshot is unaffected by the update.
	require.Len(t, before.Endpoints(), 1)
	require.Equal(t, "10.0.0.1", before.Endpoints()[0].IP)
	require.Len(t, holder.Load().Endpoints(), 2)
}

func TestHolderRejectsInvalidClusters(t *testing.T) {
	holder := NewHolder()
	ep := Endpoint{IP: "10.0.0.1", Port: 7777}
	err := holder.Store([]Cluster{{
		Localities: []LocalityEndpoints{{Endpoints: []Endpoint{ep, ep}}},
	}})
	require.Error(t, err)
	require.Empty(t, holder.Load().Endpoints())
}

func TestEnvoyClusterRoundTrip(t *testing.T) {
	original := Cluster{
		Name: "cluster-a",
		Localities: []LocalityEndpoints{
			{
				Locality: &Locality{Region: "us-east1", Zone: "b", SubZone: "c"},
				Endpoints: []Endpoint{{
					IP:   "127.0.0.1",
					Port: 8080,
					Metadata: map[string]interface{}{
						"quilkin.dev": map[string]interface{}{
							"tokens": []interface{}{"MXg3aWp5Ng=="},
						},
					},
				}},
			},
			{
				Endpoints: []Endpoint{{IP: "127.0.0.2", Port: 8081}},
			},
		},
	}

	resource, err := ToEnvoyCluster(original)
	require.NoError(t, err)
	require.Equal(t, "cluster-a", resource.GetName())

	roundTripped, err := FromEnvoyCluster(resource)
	require.NoError(t, err)
	require.Equal(t, original, roundTripped)
}
