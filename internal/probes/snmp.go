package probes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"

	"github.com/sureshkrishnan-v/pulsemon/internal/config"
	"github.com/sureshkrishnan-v/pulsemon/internal/result"
)

// defaultAvailabilityOID is sysUpTime, answered by effectively every agent.
const defaultAvailabilityOID = "1.3.6.1.2.1.1.3.0"

// usmRetries bounds re-attempts after a USM time-window resync, which is a
// normal transient on the first exchange with a v3 agent.
const usmRetries = 3

// SNMP queries the availability OID and then each configured named OID,
// populating metrics of the same names.
func SNMP(ctx context.Context, m *config.Monitor) (result.CheckResult, error) {
	s := m.SNMP
	if s == nil {
		return nil, fmt.Errorf("monitor does not contain SNMP configuration")
	}

	client, err := buildSNMPClient(ctx, s)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to SNMP agent %s: %w", s.Host, err)
	}
	defer client.Conn.Close()

	oid := defaultAvailabilityOID
	if s.OID != nil && *s.OID != "" {
		oid = *s.OID
	}

	if _, err := snmpGet(client, oid); err != nil {
		return nil, fmt.Errorf("SNMP GET for OID %q failed: %w", oid, err)
	}

	r := result.New()
	for name, oidStr := range s.OIDs {
		pkt, err := snmpGet(client, oidStr)
		if err != nil {
			zap.L().Error("SNMP named OID query failed",
				zap.String("name", name), zap.String("oid", oidStr), zap.Error(err))
			continue
		}
		if len(pkt.Variables) == 0 {
			continue
		}
		if v, ok := snmpValueToFloat(pkt.Variables[0]); ok {
			r.Set(name, v)
		} else {
			zap.L().Debug("SNMP OID returned no numeric value",
				zap.String("name", name), zap.String("oid", oidStr))
		}
	}

	return r, nil
}

// snmpGet issues one GET, retrying the USM time-window transient.
func snmpGet(client *gosnmp.GoSNMP, oid string) (*gosnmp.SnmpPacket, error) {
	var lastErr error
	for attempt := 0; attempt <= usmRetries; attempt++ {
		pkt, err := client.Get([]string{oid})
		if err == nil {
			return pkt, nil
		}
		lastErr = err
		msg := strings.ToLower(err.Error())
		if !strings.Contains(msg, "usm") && !strings.Contains(msg, "time window") {
			break
		}
	}
	return nil, lastErr
}

func buildSNMPClient(ctx context.Context, s *config.SNMP) (*gosnmp.GoSNMP, error) {
	port := uint16(161)
	if s.Port != nil {
		port = *s.Port
	}
	version := "3"
	if s.Version != nil && *s.Version != "" {
		version = *s.Version
	}
	community := "public"
	if s.Community != nil && *s.Community != "" {
		community = *s.Community
	}

	client := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    s.Host,
		Port:      port,
		Transport: "udp",
		Community: community,
		Timeout:   time.Duration(timeout(s.Timeout, config.DefaultTimeout)) * time.Second,
		Retries:   1,
		MaxOids:   gosnmp.MaxOids,
	}

	switch strings.ToLower(version) {
	case "1", "v1":
		client.Version = gosnmp.Version1
	case "2", "2c", "v2", "v2c":
		client.Version = gosnmp.Version2c
	case "3", "v3":
		client.Version = gosnmp.Version3
		if err := applyV3Security(client, s); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported SNMP version %q (supported: 1, 2c, 3)", version)
	}

	return client, nil
}

func applyV3Security(client *gosnmp.GoSNMP, s *config.SNMP) error {
	authProtocol := "sha256"
	if s.AuthProtocol != nil && *s.AuthProtocol != "" {
		authProtocol = *s.AuthProtocol
	}
	privCipher := "aes128"
	if s.PrivCipher != nil && *s.PrivCipher != "" {
		privCipher = *s.PrivCipher
	}
	securityLevel := "authpriv"
	if s.SecurityLevel != nil && *s.SecurityLevel != "" {
		securityLevel = *s.SecurityLevel
	}

	auth, err := parseAuthProtocol(authProtocol)
	if err != nil {
		return err
	}

	usm := &gosnmp.UsmSecurityParameters{
		AuthenticationProtocol: auth,
	}
	if s.Username != nil {
		usm.UserName = *s.Username
	}
	if s.AuthPassword != nil {
		usm.AuthenticationPassphrase = *s.AuthPassword
	}

	switch strings.ToLower(securityLevel) {
	case "noauthnopriv":
		client.MsgFlags = gosnmp.NoAuthNoPriv
	case "authnopriv":
		client.MsgFlags = gosnmp.AuthNoPriv
	case "authpriv":
		client.MsgFlags = gosnmp.AuthPriv
		cipher, err := parsePrivCipher(privCipher)
		if err != nil {
			return err
		}
		usm.PrivacyProtocol = cipher
		if s.PrivPassword != nil {
			usm.PrivacyPassphrase = *s.PrivPassword
		}
	default:
		return fmt.Errorf("unsupported security level %q (supported: noAuthNoPriv, authNoPriv, authPriv)", securityLevel)
	}

	client.SecurityModel = gosnmp.UserSecurityModel
	client.SecurityParameters = usm
	return nil
}

func parseAuthProtocol(proto string) (gosnmp.SnmpV3AuthProtocol, error) {
	switch strings.ToLower(proto) {
	case "md5":
		return gosnmp.MD5, nil
	case "sha", "sha1", "sha-1":
		return gosnmp.SHA, nil
	case "sha224", "sha-224":
		return gosnmp.SHA224, nil
	case "sha256", "sha-256":
		return gosnmp.SHA256, nil
	case "sha384", "sha-384":
		return gosnmp.SHA384, nil
	case "sha512", "sha-512":
		return gosnmp.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported auth protocol %q (supported: md5, sha1, sha224, sha256, sha384, sha512)", proto)
}

func parsePrivCipher(cipher string) (gosnmp.SnmpV3PrivProtocol, error) {
	switch strings.ToLower(cipher) {
	case "des":
		return gosnmp.DES, nil
	case "aes", "aes128", "aes-128":
		return gosnmp.AES, nil
	case "aes192", "aes-192":
		return gosnmp.AES192, nil
	case "aes256", "aes-256":
		return gosnmp.AES256, nil
	}
	return 0, fmt.Errorf("unsupported privacy cipher %q (supported: des, aes128, aes192, aes256)", cipher)
}

// snmpValueToFloat coerces an SNMP variable to a metric value: integer
// families directly, octet strings when they parse as a number.
func snmpValueToFloat(pdu gosnmp.SnmpPDU) (float64, bool) {
	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks,
		gosnmp.Counter64, gosnmp.Uinteger32:
		return float64(gosnmp.ToBigInt(pdu.Value).Int64()), true
	case gosnmp.OctetString:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case gosnmp.OpaqueFloat:
		if f, ok := pdu.Value.(float32); ok {
			return float64(f), true
		}
	case gosnmp.OpaqueDouble:
		if f, ok := pdu.Value.(float64); ok {
			return f, true
		}
	}
	return 0, false
}
