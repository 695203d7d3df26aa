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

// Package proxy runs packets through the filter chain and hands the
// surviving destinations to the transport layer. Socket I/O itself lives
// outside this package; the pipeline only decides where packets go.
package proxy

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"quilkin.dev/udp-proxy/pkg/cluster"
	"quilkin.dev/udp-proxy/pkg/filterchain"
	"quilkin.dev/udp-proxy/pkg/filters"
	"quilkin.dev/udp-proxy/pkg/metrics"
)

// DefaultWorkers is the number of packet-processing workers used when none
// is configured.
const DefaultWorkers = 32

var (
	packetsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.Subsystem,
		Name:      "packets_processed_total",
		Help:      "Total number of downstream packets run through the filter chain",
	})
	packetsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.Subsystem,
		Name:      "packets_dropped_total",
		Help:      "Total number of packets that left the filter chain with no destination",
	})
	packetErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.Subsystem,
		Name:      "packet_errors_total",
		Help:      "Total number of packets aborted by a filter error",
	})
)

// PacketWriter transmits a payload from a source to a destination address.
// Implemented by the transport collaborator.
type PacketWriter interface {
	WriteTo(source string, payload []byte, destination string) error
}

type packet struct {
	source  string
	payload []byte
}

// Pipeline drives downstream packets through the filter chain on a pool of
// workers. Packets from distinct sources are processed concurrently with no
// ordering guarantees between them.
type Pipeline struct {
	logger   *log.Entry
	clusters *cluster.Holder
	writer   PacketWriter
	workers  int
	packetCh chan packet

	chainMu sync.RWMutex
	chain   *filterchain.Chain

	wg sync.WaitGroup
}

// NewPipeline returns a pipeline with an empty filter chain.
func NewPipeline(logger *log.Logger, clusters *cluster.Holder, writer PacketWriter, workers int) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pipeline{
		logger:   logger.WithFields(log.Fields{"component": "Pipeline"}),
		clusters: clusters,
		writer:   writer,
		workers:  workers,
		packetCh: make(chan packet, workers*4),
		chain:    &filterchain.Chain{},
	}
}

// SwapChain replaces the pipeline's filter chain and closes the previous
// one. In-flight packets finish against the chain they started with.
func (p *Pipeline) SwapChain(chain *filterchain.Chain) {
	p.chainMu.Lock()
	previous := p.chain
	p.chain = chain
	p.chainMu.Unlock()

	if err := previous.Close(); err != nil {
		p.logger.WithError(err).Warn("failed to close previous filter chain")
	}
}

// Run starts the worker pool and blocks until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case pkt := <-p.packetCh:
					p.routePacket(pkt.source, pkt.payload)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	p.wg.Wait()
}

// Process enqueues a downstream packet for routing. The payload is copied,
// so the caller may reuse its buffer. Packets are discarded when the
// workers cannot keep up.
func (p *Pipeline) Process(source string, payload []byte) {
	pkt := packet{source: source, payload: append([]byte(nil), payload...)}
	select {
	case p.packetCh <- pkt:
	default:
		packetsDroppedTotal.Inc()
		p.logger.WithFields(log.Fields{"source": source}).Warn("worker queue full, dropping packet")
	}
}

// Route runs a downstream packet through the chain synchronously and sends
// it to the resulting destinations.
func (p *Pipeline) Route(source string, payload []byte) {
	p.routePacket(source, payload)
}

func (p *Pipeline) routePacket(source string, payload []byte) {
	packetsProcessedTotal.Inc()

	ctx := filters.NewReadContext(source, payload, p.clusters.Load().Endpoints())

	p.chainMu.RLock()
	err := p.chain.Read(ctx)
	p.chainMu.RUnlock()
	if err != nil {
		packetErrorsTotal.Inc()
		p.logger.WithError(err).WithFields(log.Fields{"source": source}).
			Warn("filter chain aborted packet")
		return
	}

	destinations := ctx.Destinations.Endpoints()
	if len(destinations) == 0 {
		packetsDroppedTotal.Inc()
		p.logger.WithFields(log.Fields{"source": source}).Debug("packet has no destination")
		return
	}

	for _, endpoint := range destinations {
		if err := p.writer.WriteTo(source, ctx.Contents, endpoint.Address()); err != nil {
			p.logger.WithError(err).WithFields(log.Fields{
				"endpoint": endpoint.Address(),
			}).Warn("failed to forward packet")
		}
	}
}

// RouteUpstream runs an upstream packet through the write-side chain and
// sends it back to the client.
func (p *Pipeline) RouteUpstream(source, client string, payload []byte) {
	ctx := &filters.WriteContext{Source: source, Dest: client, Contents: payload}

	p.chainMu.RLock()
	err := p.chain.Write(ctx)
	p.chainMu.RUnlock()
	if err != nil {
		packetErrorsTotal.Inc()
		p.logger.WithError(err).WithFields(log.Fields{"source": source}).
			Warn("write chain aborted packet")
		return
	}

	if err := p.writer.WriteTo(ctx.Source, ctx.Contents, ctx.Dest); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{"client": client}).
			Warn("failed to forward packet to client")
	}
}

// Close releases the current filter chain.
func (p *Pipeline) Close() error {
	p.chainMu.Lock()
	defer p.chainMu.Unlock()
	return p.chain.Close()
}
