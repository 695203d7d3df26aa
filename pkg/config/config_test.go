package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"quilkin.dev/udp-proxy/pkg/cluster"
	"quilkin.dev/udp-proxy/pkg/filterchain"
)

func TestFromYAML(t *testing.T) {
	config, err := FromYAML([]byte(`
clusters:
- name: cluster-a
  localities:
  - endpoints:
    - ip: 127.0.0.1
      port: 8080
      metadata:
        'quilkin.dev':
          tokens:
          - MXg3aWp5Ng==
filters:
- name: quilkin.extensions.filters.load_balancer.v1alpha1.LoadBalancer
  config:
    policy: ROUND_ROBIN
`))
	require.NoError(t, err)

	require.Len(t, config.Clusters, 1)
	require.Equal(t, "cluster-a", config.Clusters[0].Name)
	require.Equal(t, []cluster.Endpoint{{
		IP:   "127.0.0.1",
		Port: 8080,
		Metadata: map[string]interface{}{
			"quilkin.dev": map[string]interface{}{
				"tokens": []interface{}{"MXg3aWp5Ng=="},
			},
		},
	}}, config.Clusters[0].Endpoints())

	require.Equal(t, []filterchain.FilterConfig{{
		Name:   "quilkin.extensions.filters.load_balancer.v1alpha1.LoadBalancer",
		Config: map[string]interface{}{"policy": "ROUND_ROBIN"},
	}}, config.Filters)
}

func TestFromYAMLRejectsInvalidClusters(t *testing.T) {
	_, err := FromYAML([]byte(`
clusters:
- name: cluster-a
  localities:
  - endpoints:
    - ip: 127.0.0.1
      port: 8080
    - ip: 127.0.0.1
      port: 8080
`))
	require.Error(t, err)
}

func TestFromYAMLRejectsMalformedDocument(t *testing.T) {
	_, err := FromYAML([]byte("clusters: {not a list"))
	require.Error(t, err)
}

func TestFileProvider(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configFile := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
clusters:
- name: cluster-a
  localities:
  - endpoints:
    - ip: 127.0.0.1
      port: 8080
`), 0o644))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	provider := NewFileProvider(configFile)
	configCh, errorCh := provider.Run(ctx, logger)

	// The initial file contents are delivered without any file event.
	var config *Config
	select {
	case config = <-configCh:
	case err := <-errorCh:
		t.Fatalf("provider failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial config")
	}
	require.Len(t, config.Clusters, 1)
	require.Len(t, config.Clusters[0].Endpoints(), 1)

	// Rewriting the file delivers the updated contents.
	require.NoError(t, os.WriteFile(configFile, []byte(`
clusters:
- name: cluster-a
  localities:
  - endpoints:
    - ip: 127.0.0.1
      port: 8080
    - ip: 127.0.0.2
      port: 8080
`), 0o644))

	require.Eventually(t, func() bool {
		select {
		case config = <-configCh:
			return len(config.Clusters[0].Endpoints()) == 2
		default:
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
}

func TestFileProviderSkipsBadUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configFile := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("clusters: {not a list"), 0o644))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	provider := NewFileProvider(configFile)
	configCh, errorCh := provider.Run(ctx, logger)

	// A file that fails to parse produces neither a config nor an error.
	select {
	case config := <-configCh:
		t.Fatalf("unexpected config from unparseable file: %+v", config)
	case err := <-errorCh:
		t.Fatalf("provider failed: %v", err)
	case <-time.After(time.Second):
	}

	// A good rewrite recovers.
	require.NoError(t, os.WriteFile(configFile, []byte(`
clusters:
- name: cluster-a
  localities:
  - endpoints:
    - ip: 127.0.0.1
      port: 8080
`), 0o644))

	select {
	case config := <-configCh:
		require.Len(t, config.Clusters, 1)
	case err := <-errorCh:
		t.Fatalf("provider failed: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for recovered config")
	}
}
