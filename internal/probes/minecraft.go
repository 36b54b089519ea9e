package probes

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

const (
	defaultJavaPort    = 25565
	defaultBedrockPort = 19132

	// Status handshake protocol number; -1 asks the server to answer
	// regardless of client version.
	javaStatusProtocol = -1
)

// raknetMagic is the fixed byte sequence RakNet uses to distinguish
// unconnected pings from game traffic.
var raknetMagic = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// MinecraftJava performs a server-list ping: handshake (next state 1)
// followed by a status request, reporting latency and the online player
// count as custom1.
func MinecraftJava(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	mc := m.MinecraftJava
	if mc == nil {
		return nil, fmt.Errorf("monitor does not contain Minecraft Java configuration")
	}

	port := uint16(defaultJavaPort)
	if mc.Port != nil {
		port = *mc.Port
	}
	to := time.Duration(timeout(mc.Timeout, config.DefaultTimeout)) * time.Second
	addr := net.JoinHostPort(mc.Host, strconv.Itoa(int(port)))

	dialer := net.Dialer{Timeout: to}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("Minecraft Java ping failed: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(to)); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	start := time.Now()

	var handshake bytes.Buffer
	writeVarInt(&handshake, 0x00)
	writeVarInt(&handshake, javaStatusProtocol)
	writeVarInt(&handshake, int32(len(mc.Host)))
	handshake.WriteString(mc.Host)
	binary.Write(&handshake, binary.BigEndian, port)
	writeVarInt(&handshake, 1) // next state: status

	if err := writePacket(conn, handshake.Bytes()); err != nil {
		return nil, fmt.Errorf("Minecraft Java handshake: %w", err)
	}
	if err := writePacket(conn, []byte{0x00}); err != nil {
		return nil, fmt.Errorf("Minecraft Java status request: %w", err)
	}

	payload, err := readPacket(conn)
	if err != nil {
		return nil, fmt.Errorf("Minecraft Java status response: %w", err)
	}
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	body := bytes.NewReader(payload)
	id, err := readVarInt(body)
	if err != nil || id != 0x00 {
		return nil, fmt.Errorf("unexpected status packet id %d", id)
	}
	strLen, err := readVarInt(body)
	if err != nil || strLen < 0 {
		return nil, fmt.Errorf("malformed status string length")
	}
	status := make([]byte, strLen)
	if _, err := io.ReadFull(body, status); err != nil {
		return nil, fmt.Errorf("reading status JSON: %w", err)
	}

	r := result.FromLatency(latencyMs)
	if online := gjson.GetBytes(status, "players.online"); online.Exists() {
		r.Set(result.KeyCustom1, online.Num)
	}
	return r, nil
}

// MinecraftBedrock performs a RakNet unconnected ping and parses the player
// count out of the server ID string.
func MinecraftBedrock(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	mc := m.MinecraftBedrock
	if mc == nil {
		return nil, fmt.Errorf("monitor does not contain Minecraft Bedrock configuration")
	}

	port := uint16(defaultBedrockPort)
	if mc.Port != nil {
		port = *mc.Port
	}
	to := time.Duration(timeout(mc.Timeout, config.DefaultTimeout)) * time.Second
	addr := net.JoinHostPort(mc.Host, strconv.Itoa(int(port)))

	dialer := net.Dialer{Timeout: to}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("Minecraft Bedrock ping failed: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(to)); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	var ping bytes.Buffer
	ping.WriteByte(0x01) // unconnected ping
	binary.Write(&ping, binary.BigEndian, time.Now().UnixMilli())
	ping.Write(raknetMagic[:])
	binary.Write(&ping, binary.BigEndian, rand.Int63())

	start := time.Now()
	if _, err := conn.Write(ping.Bytes()); err != nil {
		return nil, fmt.Errorf("sending unconnected ping: %w", err)
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("Minecraft Bedrock ping failed: %w", err)
	}
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	// 0x1c + time(8) + server GUID(8) + magic(16) + string16 server ID
	if n < 35 || buf[0] != 0x1c {
		return nil, fmt.Errorf("unexpected unconnected pong (%d bytes)", n)
	}
	idLen := int(binary.BigEndian.Uint16(buf[33:35]))
	if 35+idLen > n {
		return nil, fmt.Errorf("truncated unconnected pong")
	}
	serverID := string(buf[35 : 35+idLen])

	// MCPE;motd;protocol;version;online;max;...
	fields := strings.Split(serverID, ";")
	if len(fields) < 5 {
		return nil, fmt.Errorf("malformed server ID string")
	}
	online, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing player count: %w", err)
	}

	r := result.FromLatency(latencyMs)
	r.Set(result.KeyCustom1, online)
	return r, nil
}

func writeVarInt(w io.ByteWriter, v int32) {
	u := uint32(v)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if u == 0 {
			return
		}
	}
}

func readVarInt(r io.ByteReader) (int32, error) {
	var v uint32
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return int32(v), nil
		}
	}
	return 0, fmt.Errorf("varint too long")
}

func writePacket(conn net.Conn, payload []byte) error {
	var frame bytes.Buffer
	writeVarInt(&frame, int32(len(payload)))
	frame.Write(payload)
	_, err := conn.Write(frame.Bytes())
	return err
}

// oneByteReader reads a single byte at a time so readPacket never
// consumes bytes beyond the packet it is framing.
type oneByteReader struct{ r io.Reader }

func (b oneByteReader) ReadByte() (byte, error) {
	var p [1]byte
	if _, err := io.ReadFull(b.r, p[:]); err != nil {
		return 0, err
	}
	return p[0], nil
}

func readPacket(conn net.Conn) ([]byte, error) {
	length, err := readVarInt(oneByteReader{conn})
	if err != nil {
		return nil, err
	}
	if length < 0 || length > 1<<21 {
		return nil, fmt.Errorf("implausible packet length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
