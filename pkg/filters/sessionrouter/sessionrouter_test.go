package sessionrouter

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"quilkin.dev/udp-proxy/pkg/cluster"
	"quilkin.dev/udp-proxy/pkg/filters"
	"quilkin.dev/udp-proxy/pkg/tokentable"
)

// "room" in base64.
const roomToken = "cm9vbQ=="

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestRouter(t *testing.T, scanner tokentable.Scanner) *SessionRouter {
	t.Helper()
	router, err := New(Config{
		HandshakeBytes: 4,
		TableName:      "TestTable",
	}, scanner, testLogger(), 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, router.Close()) })
	return router
}

func waitForToken(t *testing.T, router *SessionRouter, token string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, found := router.lookupToken(token)
		return found
	}, time.Second, time.Millisecond, "token %q never appeared in the token map", token)
}

func readContext(source string, contents []byte) *filters.ReadContext {
	return filters.NewReadContext(source, contents, []cluster.Endpoint{
		{IP: "127.0.0.1", Port: 8080},
		{IP: "127.0.0.2", Port: 8080},
	})
}

func TestHandshakeEstablishesSession(t *testing.T) {
	scanner := tokentable.NewStatic(tokentable.Record{
		Token: roomToken, IPAddress: "10.0.101.69", Port: "7777",
	})
	router := newTestRouter(t, scanner)
	waitForToken(t, router, roomToken)

	ctx := readContext("127.0.0.1:4321", []byte("roomHELLO"))
	require.NoError(t, router.Read(ctx))
	require.Equal(t, 1, ctx.Destinations.Size())
	require.Equal(t, "10.0.101.69:7777", ctx.Destinations.Endpoints()[0].Address())
	require.Equal(t, []byte("HELLO"), ctx.Contents, "the handshake bytes must be stripped")
}

func TestEstablishedSessionSkipsHandshake(t *testing.T) {
	scanner := tokentable.NewStatic(tokentable.Record{
		Token: roomToken, IPAddress: "10.0.101.69", Port: "7777",
	})
	router := newTestRouter(t, scanner)
	waitForToken(t, router, roomToken)

	ctx := readContext("127.0.0.1:4321", []byte("roomHELLO"))
	require.NoError(t, router.Read(ctx))

	// A followup packet from the same address is routed without a token,
	// and its payload is forwarded whole.
	ctx = readContext("127.0.0.1:4321", []byte("xy"))
	require.NoError(t, router.Read(ctx))
	require.Equal(t, 1, ctx.Destinations.Size())
	require.Equal(t, "10.0.101.69:7777", ctx.Destinations.Endpoints()[0].Address())
	require.Equal(t, []byte("xy"), ctx.Contents)
}

func TestShortHandshakePacketIsDropped(t *testing.T) {
	scanner := tokentable.NewStatic(tokentable.Record{
		Token: roomToken, IPAddress: "10.0.101.69", Port: "7777",
	})
	router := newTestRouter(t, scanner)
	waitForToken(t, router, roomToken)

	ctx := readContext("127.0.0.1:4321", []byte("roo"))
	require.NoError(t, router.Read(ctx))
	require.Zero(t, ctx.Destinations.Size())

	// The address remains unestablished.
	ctx = readContext("127.0.0.1:4321", []byte("xy"))
	require.NoError(t, router.Read(ctx))
	require.Zero(t, ctx.Destinations.Size())
}

func TestUnknownTokenIsDropped(t *testing.T) {
	scanner := tokentable.NewStatic(tokentable.Record{
		Token: roomToken, IPAddress: "10.0.101.69", Port: "7777",
	})
	router := newTestRouter(t, scanner)
	waitForToken(t, router, roomToken)

	ctx := readContext("127.0.0.1:4321", []byte("nopeHELLO"))
	require.NoError(t, router.Read(ctx))
	require.Zero(t, ctx.Destinations.Size())
}

func TestInvalidTableEntryIsTreatedAsAMiss(t *testing.T) {
	scanner := tokentable.NewStatic(tokentable.Record{
		Token: roomToken, IPAddress: "not an ip", Port: "not a port",
	})
	router := newTestRouter(t, scanner)
	waitForToken(t, router, roomToken)

	ctx := readContext("127.0.0.1:4321", []byte("roomHELLO"))
	require.NoError(t, router.Read(ctx))
	require.Zero(t, ctx.Destinations.Size())
}

func TestFailedScanKeepsPreviousTokenMap(t *testing.T) {
	scanner := tokentable.NewStatic(tokentable.Record{
		Token: roomToken, IPAddress: "10.0.101.69", Port: "7777",
	})
	router := newTestRouter(t, scanner)
	waitForToken(t, router, roomToken)

	scanner.SetError(fmt.Errorf("table unavailable"))
	time.Sleep(50 * time.Millisecond)

	// Failed refreshes must not clear the cached map.
	target, found := router.lookupToken(roomToken)
	require.True(t, found)
	require.Equal(t, "10.0.101.69:7777", target)

	// Once scans recover, the next interval picks up new records.
	scanner.SetError(nil)
	scanner.SetRecords([]tokentable.Record{
		{Token: roomToken, IPAddress: "10.0.101.70", Port: "7777"},
	})
	require.Eventually(t, func() bool {
		target, found := router.lookupToken(roomToken)
		return found && target == "10.0.101.70:7777"
	}, time.Second, time.Millisecond)
}

func TestCloseStopsTheRefresher(t *testing.T) {
	scanner := tokentable.NewStatic()
	router, err := New(Config{HandshakeBytes: 4, TableName: "TestTable"}, scanner, testLogger(), 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, router.Close())

	select {
	case <-router.refreshDone:
	default:
		t.Fatal("refresh loop still running after Close")
	}
}

func TestNewRequiresAScanner(t *testing.T) {
	_, err := New(Config{}, nil, testLogger(), time.Second)
	require.Error(t, err)
}

func TestParseConfigDefaults(t *testing.T) {
	config, err := parseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultHandshakeBytes, config.HandshakeBytes)
	require.Equal(t, DefaultTableName, config.TableName)

	config, err = parseConfig([]byte(`{"handshake_bytes": 8, "table_name": "Sessions"}`))
	require.NoError(t, err)
	require.Equal(t, 8, config.HandshakeBytes)
	require.Equal(t, "Sessions", config.TableName)

	_, err = parseConfig([]byte(`{"handshake_bytes": -1}`))
	require.Error(t, err)
}
