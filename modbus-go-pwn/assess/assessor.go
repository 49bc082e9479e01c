package assess

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-pwn/client"
	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-pwn/database"
)

var (
	ErrScanInProgress = errors.New("a scan is already in progress")
	ErrConnect        = errors.New("connection failed")
	ErrNoScanRunning  = errors.New("no scan is currently running")
	ErrInvalidRange   = errors.New("invalid range")
)

// Probe verdicts.
const (
	MsgPortNotOpen    = "Port not open"
	MsgNoSession      = "Cannot establish Modbus TCP connection"
	MsgResponding     = "Modbus TCP running and responding to queries"
	MsgNeedsValidUnit = "Modbus TCP running but requires valid slave ID"
)

// Endpoint identifies a Modbus TCP peer.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint accepts host or host:port; the port defaults to 502.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		if s == "" {
			return Endpoint{}, fmt.Errorf("empty target")
		}
		return Endpoint{Host: s, Port: config.DefaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid port %q", portStr)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Assessor runs the one-shot operations against a target. It holds no per-scan state.
type Assessor struct {
	dial   client.Dialer
	timing config.TimingConfig
	log    logrus.FieldLogger

	// Events receives audit records. Sends never block; nil disables auditing.
	Events chan<- database.Event
}

func NewAssessor(dial client.Dialer, timing config.TimingConfig, logger logrus.FieldLogger) *Assessor {
	return &Assessor{dial: dial, timing: timing, log: logger}
}

func (a *Assessor) Timing() config.TimingConfig { return a.timing }

// Probe reports whether ep is reachable and speaks Modbus TCP.
func (a *Assessor) Probe(ctx context.Context, ep Endpoint, timeout time.Duration) (available bool, message string) {
	log := a.log.WithField("target", ep.String())
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("probe fault: %v", r)
			available, message = false, fmt.Sprint(r)
		}
	}()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		log.Debugf("raw connect failed: %v", err)
		return false, MsgPortNotOpen
	}
	conn.Close()

	c := a.dial(ep.String(), timeout)
	defer c.Close()
	if err := c.Connect(); err != nil {
		log.Debugf("session failed: %v", err)
		return false, MsgNoSession
	}
	if _, err := c.ReadHoldingRegisters(0, 1, config.DefaultUnitID); err != nil {
		log.Debugf("trial read failed: %v", err)
		return true, MsgNeedsValidUnit
	}
	return true, MsgResponding
}

func (a *Assessor) audit(ep Endpoint, unitID int, eventType, detail string) {
	emit(a.Events, ep, unitID, eventType, detail)
}

func emit(events chan<- database.Event, ep Endpoint, unitID int, eventType, detail string) {
	if events == nil {
		return
	}
	select {
	case events <- database.Event{Timestamp: time.Now(), Target: ep.String(), UnitID: unitID, EventType: eventType, Detail: detail}:
	default:
	}
}

// sleepCtx waits d or until ctx is done. It reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
