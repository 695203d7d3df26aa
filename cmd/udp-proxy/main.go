/*
 * Copyright 2022 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"

	"quilkin.dev/udp-proxy/pkg/admin"
	"quilkin.dev/udp-proxy/pkg/cluster"
	"quilkin.dev/udp-proxy/pkg/config"
	"quilkin.dev/udp-proxy/pkg/filterchain"
	"quilkin.dev/udp-proxy/pkg/filters"
	"quilkin.dev/udp-proxy/pkg/filters/loadbalancer"
	"quilkin.dev/udp-proxy/pkg/filters/sessionrouter"
	"quilkin.dev/udp-proxy/pkg/filters/sourceiprouter"
	"quilkin.dev/udp-proxy/pkg/proxy"
	"quilkin.dev/udp-proxy/pkg/tokentable"
)

type flags struct {
	Config               string            `name:"config" help:"Resource config file path." type:"path" default:"proxy.yaml"`
	Port                 int16             `name:"port" help:"Proxy listening port." default:"7000"`
	AdminPort            int16             `name:"admin-port" help:"Admin server listening port." default:"18090"`
	Workers              int               `name:"workers" help:"Number of packet-processing workers." default:"32"`
	TokenRefreshInterval time.Duration     `name:"token-refresh-interval" help:"How often to refresh the session token table." default:"10s"`
	StaticTokens         map[string]string `name:"static-token" help:"Static token=host:port entries used instead of DynamoDB."`
	LogLevel             string            `name:"log-level" help:"Log level, one of trace, debug, info, warn, error, fatal." default:"info"`
}

func getLogLevel(value string) (log.Level, error) {
	switch strings.ToLower(value) {
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	default:
		return 0, fmt.Errorf("invalid log level '%s'", value)
	}
}

func createTokenScanner(ctx context.Context, flags *flags) (tokentable.Scanner, error) {
	if len(flags.StaticTokens) > 0 {
		var records []tokentable.Record
		for token, target := range flags.StaticTokens {
			host, port, err := net.SplitHostPort(target)
			if err != nil {
				return nil, fmt.Errorf("invalid static token target %q: %w", target, err)
			}
			records = append(records, tokentable.Record{Token: token, IPAddress: host, Port: port})
		}
		return tokentable.NewStatic(records...), nil
	}
	return tokentable.NewDynamoScanner(ctx)
}

func main() {
	var flags flags
	kong.Parse(&flags)

	logLevel, err := getLogLevel(flags.LogLevel)
	if err != nil {
		log.Fatal(err)
	}

	logger := &log.Logger{}
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logLevel)
	logger.SetFormatter(&log.JSONFormatter{})

	ctx, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	scanner, err := createTokenScanner(ctx, &flags)
	if err != nil {
		logger.WithError(err).Fatal("failed to create token table scanner")
	}

	registry := filters.NewRegistry(
		loadbalancer.NewFactory(),
		sourceiprouter.NewFactory(),
		sessionrouter.NewFactory(scanner, flags.TokenRefreshInterval),
	)

	clusters := cluster.NewHolder()
	transport, err := newUDPTransport(flags.Port, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to start UDP transport")
	}
	pipeline := proxy.NewPipeline(logger, clusters, transport, flags.Workers)
	transport.pipeline = pipeline

	provider := config.NewFileProvider(flags.Config)
	configCh, providerErrorCh := provider.Run(ctx, logger)

	var configLoaded atomic.Bool
	go func() {
		for cfg := range configCh {
			if err := clusters.Store(cfg.Clusters); err != nil {
				logger.WithError(err).Warn("rejecting config update: invalid clusters")
				continue
			}
			chain, err := filterchain.New(registry, cfg.Filters, logger)
			if err != nil {
				logger.WithError(err).Warn("rejecting config update: failed to build filter chain")
				continue
			}
			pipeline.SwapChain(chain)
			configLoaded.Store(true)
			logger.WithFields(log.Fields{
				"clusters": len(cfg.Clusters),
				"filters":  chain.Len(),
			}).Info("applied config update")
		}
	}()

	adminServer := admin.New(logger, flags.AdminPort, []admin.HealthCheck{
		func(context.Context) error {
			if !configLoaded.Load() {
				return fmt.Errorf("no config loaded yet")
			}
			return nil
		},
	})
	adminServer.Run(ctx)

	go pipeline.Run(ctx)
	go transport.Run(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	select {
	case <-c:
		logger.Info("Received shutdown signal. Shutting down.")
		shutdown()
	case err := <-providerErrorCh:
		if err != nil {
			logger.WithError(err).Error("config provider encountered an error")
		}
		shutdown()
	case <-ctx.Done():
		logger.Info("Shutdown.")
	}

	if err := pipeline.Close(); err != nil {
		logger.WithError(err).Warn("failed to close pipeline")
	}
}
