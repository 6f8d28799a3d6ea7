package report

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// sdID identifies the structured data element; 32473 is the private
// enterprise number reserved for documentation.
const sdID = "procmon@32473"

// Syslog sends one RFC 5424 message per event to a remote collector.
type Syslog struct {
	mu       sync.Mutex
	conn     net.Conn
	network  string
	app      string
	hostname string
	pid      string
}

// NewSyslog dials the collector at addr: "host:port" or "udp://host:port"
// for one datagram per message, "tcp://host:port" for an octet-counted
// stream. app becomes the APP-NAME of every message.
func NewSyslog(addr, app string) (*Syslog, error) {
	network := "udp"
	if scheme, rest, ok := strings.Cut(addr, "://"); ok {
		network, addr = scheme, rest
	}
	if network != "udp" && network != "tcp" {
		return nil, fmt.Errorf("report: syslog network %q not supported", network)
	}

	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("report: dial syslog %s: %w", addr, err)
	}

	host, _ := os.Hostname()
	return &Syslog{
		conn:     conn,
		network:  network,
		app:      app,
		hostname: host,
		pid:      strconv.Itoa(os.Getpid()),
	}, nil
}

func (s *Syslog) Report(_ context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	msg := rfc5424.Message{
		Priority:  rfc5424.Daemon | severity(ev),
		Timestamp: at,
		Hostname:  s.hostname,
		AppName:   s.app,
		ProcessID: s.pid,
		MessageID: string(ev.Kind),
		StructuredData: []rfc5424.StructuredData{
			{ID: sdID, Parameters: params(ev)},
		},
		Message: []byte(ev.Text()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(msg); err != nil {
		return fmt.Errorf("report: send syslog %s: %w", ev.Kind, err)
	}
	return nil
}

// send writes a bare message per datagram; streams carry the RFC 6587
// length prefix that WriteTo adds.
func (s *Syslog) send(msg rfc5424.Message) error {
	if s.network == "tcp" {
		_, err := msg.WriteTo(s.conn)
		return err
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = s.conn.Write(b)
	return err
}

func (s *Syslog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func severity(ev Event) rfc5424.Priority {
	switch {
	case ev.Err != nil:
		return rfc5424.Error
	case ev.Kind == KindViolation:
		return rfc5424.Warning
	default:
		return rfc5424.Notice
	}
}

func params(ev Event) []rfc5424.SDParam {
	p := []rfc5424.SDParam{
		{Name: "pid", Value: strconv.Itoa(ev.PID)},
		{Name: "comm", Value: ev.Comm},
		{Name: "elapsed", Value: strconv.FormatUint(uint64(ev.Elapsed), 10)},
		{Name: "limit", Value: strconv.FormatUint(uint64(ev.Limit), 10)},
	}
	if ev.Signal != "" {
		p = append(p, rfc5424.SDParam{Name: "signal", Value: ev.Signal})
	}
	if ev.DryRun {
		p = append(p, rfc5424.SDParam{Name: "dry_run", Value: "true"})
	}
	if ev.Err != nil {
		p = append(p, rfc5424.SDParam{Name: "error", Value: ev.Err.Error()})
	}
	return p
}
