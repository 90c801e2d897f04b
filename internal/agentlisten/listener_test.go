// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package agentlisten

import (
	"context"
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/ssh-agentd/pkg/agentdispatch"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentkeys"
	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
)

func startTestListener(t *testing.T) (*Listener, string) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "agent.sock")

	handler := agentdispatch.New(agentkeys.NewStore(), nil)
	l := New(Config{SocketPath: sock}, handler, nil, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve() }()

	require.Eventually(t, func() bool {
		_, err := net.Dial("unix", sock)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Stop(ctx)
	})

	return l, sock
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [4]byte
	_, err := readFull(conn, lenBuf[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	_, err = readFull(conn, payload)
	require.NoError(t, err)
	return payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	_, err := conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestListenerEndToEndListEmpty(t *testing.T) {
	_, sock := startTestListener(t)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame(t, conn, []byte{agentwire.SSH2AgentcRequestIdentities})
	reply := readFrame(t, conn)
	assert.Equal(t, []byte{agentwire.SSH2AgentIdentitiesAnswer, 0, 0, 0, 0}, reply)
}

func TestListenerEndToEndMultipleRequestsOneConn(t *testing.T) {
	_, sock := startTestListener(t)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		writeFrame(t, conn, []byte{agentwire.SSH2AgentcRequestIdentities})
		reply := readFrame(t, conn)
		assert.Equal(t, byte(agentwire.SSH2AgentIdentitiesAnswer), reply[0])
	}
}

func TestListenerAcceptsConcurrentConnections(t *testing.T) {
	_, sock := startTestListener(t)

	var conns []net.Conn
	for i := 0; i < 4; i++ {
		c, err := net.Dial("unix", sock)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for _, c := range conns {
		writeFrame(t, c, []byte{agentwire.SSH1AgentcRequestRSAIdentities})
		reply := readFrame(t, c)
		assert.Equal(t, byte(agentwire.SSH1AgentRSAIdentitiesAnswer), reply[0])
	}
}

func TestListenerOverlongFrameThenNormalRequest(t *testing.T) {
	_, sock := startTestListener(t)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 262144)
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)

	reply := readFrame(t, conn)
	assert.Equal(t, []byte{agentwire.SSHAgentFailure}, reply)

	_, err = conn.Write(make([]byte, 262144))
	require.NoError(t, err)

	writeFrame(t, conn, []byte{agentwire.SSH2AgentcRequestIdentities})
	reply2 := readFrame(t, conn)
	assert.Equal(t, byte(agentwire.SSH2AgentIdentitiesAnswer), reply2[0])
}
