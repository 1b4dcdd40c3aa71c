// Package commands implements the nat64ctl CLI commands.
package commands

import (
	"fmt"
	"net"
	"time"

	"github.com/n64lab/nat64d/internal/control"
)

// requestTimeout bounds how long a single request/response round trip to
// the daemon's control listener may take.
const requestTimeout = 3 * time.Second

// daemonAddr is the control-frame listener address, set via the --addr
// persistent flag.
var daemonAddr string

// xlatorType selects NAT64 or SIIT framing, set via the --siit persistent
// flag; joold-class requests are rejected by the daemon in SIIT mode.
var xlatorType control.XlatorType

// sendRequest encodes a control frame for op carrying body, sends it to
// the daemon over UDP, and returns the response frame's body.
func sendRequest(op control.Operation, body []byte) ([]byte, error) {
	conn, err := net.Dial("udp", daemonAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", daemonAddr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(requestTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	hdr := control.Header{Version: 1, XlatorType: xlatorType, Operation: op}
	if _, err := conn.Write(control.Encode(hdr, body)); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	resp, err := control.Parse(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Status != control.StatusOK {
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, resp.Body)
	}
	return resp.Body, nil
}
