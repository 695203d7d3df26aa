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
	"sync"

	log "github.com/sirupsen/logrus"

	"quilkin.dev/udp-proxy/pkg/proxy"
)

const maxDatagramSize = 65535

// udpTransport is the socket collaborator of the routing core. It reads
// client datagrams into the pipeline and implements proxy.PacketWriter:
// downstream packets are forwarded through a per-client upstream socket so
// that game-server replies find their way back to the right client.
type udpTransport struct {
	logger   *log.Entry
	conn     *net.UDPConn
	pipeline *proxy.Pipeline

	mu       sync.Mutex
	sessions map[string]*net.UDPConn
	ctx      context.Context
}

func newUDPTransport(port int16, logger *log.Logger) (*udpTransport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return &udpTransport{
		logger:   logger.WithFields(log.Fields{"component": "UDPTransport"}),
		conn:     conn,
		sessions: make(map[string]*net.UDPConn),
	}, nil
}

// Run reads downstream datagrams and feeds them into the pipeline until
// the context is cancelled.
func (t *udpTransport) Run(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = t.conn.Close()

		t.mu.Lock()
		defer t.mu.Unlock()
		for _, session := range t.sessions {
			_ = session.Close()
		}
	}()

	t.logger.Infof("proxy listening on %s", t.conn.LocalAddr())

	buf := make([]byte, maxDatagramSize)
	for {
		n, clientAddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.WithError(err).Warn("failed to read datagram")
			continue
		}
		t.pipeline.Process(clientAddr.String(), buf[:n])
	}
}

// WriteTo implements proxy.PacketWriter. A destination with an active
// client session is a game-server reply headed back downstream; anything
// else is a downstream packet forwarded upstream on the source client's
// session socket.
func (t *udpTransport) WriteTo(source string, payload []byte, destination string) error {
	t.mu.Lock()
	_, destinationIsClient := t.sessions[destination]
	t.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp", destination)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", destination, err)
	}

	if destinationIsClient {
		_, err = t.conn.WriteToUDP(payload, addr)
		return err
	}

	session, err := t.sessionFor(source)
	if err != nil {
		return err
	}
	_, err = session.WriteToUDP(payload, addr)
	return err
}

// sessionFor returns the upstream socket for a client, creating it and its
// reply reader on first use.
func (t *udpTransport) sessionFor(client string) (*net.UDPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if session, found := t.sessions[client]; found {
		return session, nil
	}

	session, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream socket for %s: %w", client, err)
	}
	t.sessions[client] = session

	ctx := t.ctx
	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, upstreamAddr, err := session.ReadFromUDP(buf)
			if err != nil {
				if ctx != nil && ctx.Err() != nil {
					return
				}
				t.logger.WithError(err).WithFields(log.Fields{"client": client}).
					Debug("upstream socket closed")
				return
			}
			t.pipeline.RouteUpstream(upstreamAddr.String(), client, buf[:n])
		}
	}()

	return session, nil
}
