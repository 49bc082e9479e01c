package assess

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-pwn/database"
)

// Session statuses as reported by Progress.
const (
	StatusIdle        = "idle"
	StatusTesting     = "testing"
	StatusDiscovering = "discovering"
	StatusConnecting  = "connecting"
	StatusScanning    = "scanning"
	StatusAborted     = "aborted"
	StatusFailed      = "failed"
	StatusStopping    = "stopping"
	StatusNoResults   = "no_results"
)

// noResults is the tree reported before any session has finished.
func noResults() ResultTree {
	return ResultTree{Status: StatusNoResults, Message: "No scan results available"}
}

// ScanOptions selects what a scan session does.
type ScanOptions struct {
	ScanHoldingRegisters bool
	ScanCoils            bool
	ScanDiscreteInputs   bool
	ScanInputRegisters   bool
	DiscoverSlaveIDs     bool
	IDStart              int
	IDEnd                int
}

// SelectedTypes returns the chosen spaces in scan order.
func (o ScanOptions) SelectedTypes() []DataType {
	var types []DataType
	for _, t := range AllDataTypes {
		if (t == HoldingRegisters && o.ScanHoldingRegisters) ||
			(t == Coils && o.ScanCoils) ||
			(t == DiscreteInputs && o.ScanDiscreteInputs) ||
			(t == InputRegisters && o.ScanInputRegisters) {
			types = append(types, t)
		}
	}
	return types
}

// Progress is the single last-write-wins status slot of the scan session.
type Progress struct {
	Status  string  `json:"status"`
	Percent float64 `json:"progress"`
	Message string  `json:"message"`
}

// SessionManager owns the one scan session that may run at a time.
type SessionManager struct {
	assessor *Assessor
	log      logrus.FieldLogger

	mu       sync.Mutex
	id       string
	progress Progress
	results  ResultTree
	cancel   context.CancelFunc
	ctx      context.Context
	done     chan struct{}
}

func NewSessionManager(a *Assessor, logger logrus.FieldLogger) *SessionManager {
	return &SessionManager{
		assessor: a,
		log:      logger,
		progress: Progress{Status: StatusIdle},
		results:  noResults(),
	}
}

// Start launches a scan session in the background. It fails with ErrScanInProgress,
// leaving the live session untouched, while a previous session's worker is still running.
// Ranges outside the address or unit id space fail with ErrInvalidRange before any dial.
func (m *SessionManager) Start(ep Endpoint, unitID byte, rng AddressRange, opts ScanOptions) (string, error) {
	if err := rng.Validate(); err != nil {
		return "", err
	}
	if opts.DiscoverSlaveIDs && (opts.IDStart < 0 || opts.IDEnd > 255 || opts.IDEnd < opts.IDStart) {
		return "", fmt.Errorf("%w: unit ids %d-%d must satisfy 0 <= start <= end <= 255", ErrInvalidRange, opts.IDStart, opts.IDEnd)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aliveLocked() {
		return "", ErrScanInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.id = uuid.NewString()
	m.ctx, m.cancel = ctx, cancel
	m.done = make(chan struct{})
	m.results = ResultTree{Status: StatusRunning}
	m.progress = Progress{Status: StatusTesting, Message: fmt.Sprintf("Testing if Modbus is running on %s", ep)}

	log := m.log.WithFields(logrus.Fields{"scan_id": m.id, "target": ep.String(), "unit": unitID})
	log.Infof("scan started, range %d-%d, types %v, discovery %v", rng.Start, rng.End, opts.SelectedTypes(), opts.DiscoverSlaveIDs)
	m.assessor.audit(ep, int(unitID), database.EventScanStarted, fmt.Sprintf("id %s range %d-%d", m.id, rng.Start, rng.End))

	go m.run(ctx, m.done, log, ep, unitID, rng, opts)
	return m.id, nil
}

func (m *SessionManager) aliveLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *SessionManager) run(ctx context.Context, done chan struct{}, log *logrus.Entry, ep Endpoint, unitID byte, rng AddressRange, opts ScanOptions) {
	defer close(done)
	tree := ResultTree{Status: StatusRunning}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("scan fault: %v", r)
				tree.Status, tree.Error = StatusError, fmt.Sprint(r)
				m.report(StatusError, 100, fmt.Sprintf("Error: %v", r))
			}
		}()
		m.execute(ctx, &tree, ep, unitID, rng, opts)
	}()

	m.mu.Lock()
	m.results = tree
	m.cancel()
	m.mu.Unlock()
	log.WithField("status", tree.Status).Info("scan finished")
	m.assessor.audit(ep, int(unitID), database.EventScanFinished, tree.Status)
}

func (m *SessionManager) execute(ctx context.Context, tree *ResultTree, ep Endpoint, unitID byte, rng AddressRange, opts ScanOptions) {
	a := m.assessor
	available, message := a.Probe(ctx, ep, a.timing.ProbeTimeout)
	tree.ModbusCheck = &ModbusCheck{Available: available, Message: message}
	if !available {
		tree.Status, tree.Error = StatusFailed, message
		m.report(StatusFailed, 100, "Modbus not available: "+message)
		return
	}

	types := opts.SelectedTypes()
	if opts.DiscoverSlaveIDs {
		m.report(StatusDiscovering, 10, "Starting slave ID discovery")
		ids, err := a.DiscoverSlaveIDs(ctx, ep, opts.IDStart, opts.IDEnd, func(checked, total, found int) {
			m.report(StatusDiscovering, 10+float64(checked)/float64(total)*10,
				fmt.Sprintf("Discovering slave IDs: %d/%d checked, %d found", checked, total, found))
		})
		tree.DiscoveredSlaveIDs = ids
		if err != nil {
			tree.Status, tree.Error = StatusFailed, "Connection failed during slave ID discovery"
			m.report(StatusFailed, 100, "Connection failed")
			return
		}
		if ctx.Err() != nil {
			tree.Status = StatusAborted
			m.report(StatusAborted, 100, "Scan aborted by user")
			return
		}
		if len(types) == 0 {
			tree.Status = StatusCompleted
			m.report(StatusCompleted, 100, fmt.Sprintf("Slave ID discovery completed. Found %d valid IDs.", len(ids)))
			return
		}
	}

	m.report(StatusConnecting, 20, fmt.Sprintf("Connecting to %s", ep))
	c := a.dial(ep.String(), a.timing.ScanTimeout)
	defer c.Close()
	if err := c.Connect(); err != nil {
		tree.Status, tree.Error = StatusFailed, "Connection failed! Check IP and Port."
		m.report(StatusFailed, 100, "Connection failed")
		return
	}

	spaces, aborted := a.ScanRange(ctx, c, unitID, rng, types, func(typesDone, totalTypes int, msg string) {
		m.report(StatusScanning, 20+float64(typesDone)/float64(totalTypes)*60, msg)
	})
	tree.Spaces = spaces
	if aborted {
		tree.Status = StatusAborted
		m.report(StatusAborted, 100, "Scan aborted by user")
		return
	}
	tree.Status = StatusCompleted
	m.report(StatusCompleted, 100, "Scan completed")
}

func (m *SessionManager) report(status string, percent float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = Progress{Status: status, Percent: percent, Message: message}
}

func (m *SessionManager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Results returns the last finished session's tree. inProgress is true while a session runs.
func (m *SessionManager) Results() (tree ResultTree, inProgress bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aliveLocked() {
		return ResultTree{}, true
	}
	return m.results, false
}

// ID returns the id of the latest session.
func (m *SessionManager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Stop asks the running session to wind down at its next chunk or id.
// It reports false when there is nothing to stop.
func (m *SessionManager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.aliveLocked() || m.ctx.Err() != nil {
		return false
	}
	m.cancel()
	m.progress = Progress{Status: StatusStopping, Percent: 95, Message: "Stopping scan..."}
	m.log.WithField("scan_id", m.id).Info("scan stop requested")
	return true
}

// Reset clears the finished session back to idle.
func (m *SessionManager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aliveLocked() {
		return ErrScanInProgress
	}
	m.id = ""
	m.results = noResults()
	m.progress = Progress{Status: StatusIdle}
	return nil
}

// Wait blocks until the running session finishes or ctx ends.
func (m *SessionManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
