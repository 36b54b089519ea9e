package probes

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

func TestVarIntRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, 127, 128, 255, 25565, 2097151, -1} {
		var buf bytes.Buffer
		writeVarInt(&buf, v)

		got, err := readVarInt(&buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

// fakeJavaServer answers one server-list ping with the given status JSON.
func fakeJavaServer(t *testing.T, statusJSON string) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// handshake, then status request
		if _, err := readPacket(conn); err != nil {
			return
		}
		if _, err := readPacket(conn); err != nil {
			return
		}

		var body bytes.Buffer
		writeVarInt(&body, 0x00)
		writeVarInt(&body, int32(len(statusJSON)))
		body.WriteString(statusJSON)
		writePacket(conn, body.Bytes())
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestMinecraftJavaStatusPing(t *testing.T) {
	port := fakeJavaServer(t, `{"version":{"name":"1.21"},"players":{"online":17,"max":100}}`)

	m := &config.Monitor{
		Name: "mc",
		MinecraftJava: &config.Minecraft{
			Host:    "127.0.0.1",
			Port:    &port,
			Timeout: int64Ptr(2),
		},
	}

	r, err := MinecraftJava(context.Background(), m)
	require.NoError(t, err)

	_, ok := r.Latency()
	assert.True(t, ok)

	online, ok := r.Custom(1)
	require.True(t, ok)
	assert.Equal(t, 17.0, online)
}

func TestMinecraftJavaWithoutPlayerData(t *testing.T) {
	port := fakeJavaServer(t, `{"version":{"name":"1.21"}}`)

	m := &config.Monitor{
		Name: "mc",
		MinecraftJava: &config.Minecraft{
			Host:    "127.0.0.1",
			Port:    &port,
			Timeout: int64Ptr(2),
		},
	}

	r, err := MinecraftJava(context.Background(), m)
	require.NoError(t, err)

	_, ok := r.Custom(1)
	assert.False(t, ok, "no players section means no player metric")
}

// fakeBedrockServer answers one RakNet unconnected ping.
func fakeBedrockServer(t *testing.T, serverID string) uint16 {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil || n < 1 || buf[0] != 0x01 {
			return
		}

		var pong bytes.Buffer
		pong.WriteByte(0x1c)
		pong.Write(buf[1:9]) // echo the ping time
		binary.Write(&pong, binary.BigEndian, int64(424242))
		pong.Write(raknetMagic[:])
		binary.Write(&pong, binary.BigEndian, uint16(len(serverID)))
		pong.WriteString(serverID)

		pc.WriteTo(pong.Bytes(), addr)
	}()

	return uint16(pc.LocalAddr().(*net.UDPAddr).Port)
}

func TestMinecraftBedrockUnconnectedPing(t *testing.T) {
	port := fakeBedrockServer(t, "MCPE;My Server;712;1.21.50;23;50;123456789;world;Survival;1;19132;19133;")

	m := &config.Monitor{
		Name: "mc-bedrock",
		MinecraftBedrock: &config.Minecraft{
			Host:    "127.0.0.1",
			Port:    &port,
			Timeout: int64Ptr(2),
		},
	}

	r, err := MinecraftBedrock(context.Background(), m)
	require.NoError(t, err)

	online, ok := r.Get(result.KeyCustom1)
	require.True(t, ok)
	assert.Equal(t, 23.0, online)
}

func TestMinecraftBedrockMalformedServerID(t *testing.T) {
	port := fakeBedrockServer(t, "garbage")

	m := &config.Monitor{
		Name: "mc-bedrock",
		MinecraftBedrock: &config.Minecraft{
			Host:    "127.0.0.1",
			Port:    &port,
			Timeout: int64Ptr(2),
		},
	}

	_, err := MinecraftBedrock(context.Background(), m)
	assert.ErrorContains(t, err, "malformed server ID")
}
