package server

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tbrandon/mbserver"

	"modbus-tools/modbus-go-server/config"
)

// Command structs
type WriteRegisterCmd struct {
	Addr  uint16
	Value uint16
}
type WriteInputRegisterCmd struct {
	Addr  uint16
	Value uint16
}
type WriteCoilCmd struct {
	Addr uint16
	Val  bool
}
type WriteDiscreteInputCmd struct {
	Addr uint16
	Val  bool
}
type UnitCmd struct {
	ID     uint8
	Enable bool
}

type handlerFunc func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception)

// Server is a lab Modbus TCP target. Only configured unit ids answer; every other
// unit gets a "gateway target failed to respond" exception, like a real gateway.
type Server struct {
	mu           sync.Mutex
	mb           *mbserver.Server
	log          logrus.FieldLogger
	units        map[uint8]bool
	requests     uint64
	CommandChan  chan interface{}
	shutdownChan chan struct{}
	stopOnce     sync.Once
	heartbeatOn  bool
}

func NewServer(logger logrus.FieldLogger, units []uint8) *Server {
	s := &Server{
		mb:           mbserver.NewServer(),
		log:          logger,
		units:        make(map[uint8]bool),
		CommandChan:  make(chan interface{}, 16),
		shutdownChan: make(chan struct{}),
	}
	for _, id := range units {
		s.units[id] = true
	}
	s.mb.RegisterFunctionHandler(1, s.guard(mbserver.ReadCoils))
	s.mb.RegisterFunctionHandler(2, s.guard(mbserver.ReadDiscreteInputs))
	s.mb.RegisterFunctionHandler(3, s.guard(mbserver.ReadHoldingRegisters))
	s.mb.RegisterFunctionHandler(4, s.guard(mbserver.ReadInputRegisters))
	s.mb.RegisterFunctionHandler(5, s.guard(mbserver.WriteSingleCoil))
	s.mb.RegisterFunctionHandler(6, s.guard(mbserver.WriteHoldingRegister))
	s.mb.RegisterFunctionHandler(15, s.guard(mbserver.WriteMultipleCoils))
	s.mb.RegisterFunctionHandler(16, s.guard(mbserver.WriteHoldingRegisters))
	return s
}

// guard serializes access to the datastore and applies the unit filter.
func (s *Server) guard(next handlerFunc) handlerFunc {
	return func(mb *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests++
		if tcp, ok := frame.(*mbserver.TCPFrame); ok && !s.units[tcp.Device] {
			s.log.Debugf("SRV RX: unit %d not served, FC%d", tcp.Device, frame.GetFunction())
			return []byte{}, &mbserver.GatewayTargetDeviceFailedtoRespond
		}
		s.log.Debugf("SRV RX: FC%d %X", frame.GetFunction(), frame.GetData())
		return next(mb, frame)
	}
}

func (s *Server) SetUnit(id uint8, enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enable {
		s.units[id] = true
	} else {
		delete(s.units, id)
	}
}

func (s *Server) SetHoldingRegister(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mb.HoldingRegisters[addr] = value
}

func (s *Server) SetInputRegister(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mb.InputRegisters[addr] = value
}

func (s *Server) SetCoil(addr uint16, val bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mb.Coils[addr] = boolByte(val)
}

func (s *Server) SetDiscreteInput(addr uint16, val bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mb.DiscreteInputs[addr] = boolByte(val)
}

func (s *Server) HoldingRegister(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mb.HoldingRegisters[addr]
}

func (s *Server) Coil(addr uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mb.Coils[addr] != 0
}

// Snapshot is a copy of a window of the datastore plus served units.
type Snapshot struct {
	Start    uint16
	Holding  []uint16
	Coils    []bool
	Units    []uint8
	Requests uint64
}

func (s *Server) GetSnapshot(start, count uint16) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Start: start, Requests: s.requests}
	for i := 0; i < int(count) && int(start)+i < len(s.mb.HoldingRegisters); i++ {
		snap.Holding = append(snap.Holding, s.mb.HoldingRegisters[int(start)+i])
		snap.Coils = append(snap.Coils, s.mb.Coils[int(start)+i] != 0)
	}
	for id := 0; id < 256; id++ {
		if s.units[uint8(id)] {
			snap.Units = append(snap.Units, uint8(id))
		}
	}
	return snap
}

// Requests returns the number of requests handled so far.
func (s *Server) Requests() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) SetHeartbeat(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatOn = enable
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func (s *Server) RunCommandProcessor() {
	s.log.Info("Command processor goroutine started.")
	for {
		select {
		case cmd := <-s.CommandChan:
			switch c := cmd.(type) {
			case WriteRegisterCmd:
				s.SetHoldingRegister(c.Addr, c.Value)
			case WriteInputRegisterCmd:
				s.SetInputRegister(c.Addr, c.Value)
			case WriteCoilCmd:
				s.SetCoil(c.Addr, c.Val)
			case WriteDiscreteInputCmd:
				s.SetDiscreteInput(c.Addr, c.Val)
			case UnitCmd:
				s.SetUnit(c.ID, c.Enable)
			default:
				s.log.Warnf("Unknown command %T", cmd)
			}
		case <-s.shutdownChan:
			s.log.Info("Command processor shutting down.")
			return
		}
	}
}

func (s *Server) HeartbeatLoop() {
	s.log.Info("Heartbeat goroutine started.")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.heartbeatOn {
				s.mb.HoldingRegisters[config.HeartbeatRegister]++
			}
			s.mu.Unlock()
		case <-s.shutdownChan:
			s.log.Info("Heartbeat goroutine shutting down.")
			return
		}
	}
}

// RunScenario executes a script line by line. Lines are
// WAIT <s>, HEARTBEAT ON|OFF, WRITE <addr> <value>, INPUT <addr> <value>,
// COIL <addr> ON|OFF, DISCRETE <addr> ON|OFF, RAMP <addr> <from> <to> <s>, UNIT ADD|DEL <id>.
func (s *Server) RunScenario(filePath string) error {
	s.log.Infof("SCENARIO: Starting script '%s'", filePath)
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("could not open scenario: %w", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		select {
		case <-s.shutdownChan:
			return nil
		default:
		}
		s.log.Debugf("SCENARIO: Executing line %d: %s", lineNumber, line)
		if err := s.runScenarioLine(line); err != nil {
			s.log.Warnf("SCENARIO WARNING: line %d: %v", lineNumber, err)
		}
	}
	s.log.Info("SCENARIO: Script finished.")
	return scanner.Err()
}

func (s *Server) runScenarioLine(line string) error {
	parts := strings.Fields(line)
	command := strings.ToUpper(parts[0])
	args := parts[1:]
	need := map[string]int{"WAIT": 1, "HEARTBEAT": 1, "WRITE": 2, "INPUT": 2, "COIL": 2, "DISCRETE": 2, "RAMP": 4, "UNIT": 2}
	n, known := need[command]
	if !known {
		return fmt.Errorf("unknown command '%s'", command)
	}
	if len(args) < n {
		return fmt.Errorf("%s needs %d arguments", command, n)
	}
	switch command {
	case "WAIT":
		duration, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		time.Sleep(time.Duration(duration * float64(time.Second)))
	case "HEARTBEAT":
		s.SetHeartbeat(strings.ToUpper(args[0]) == "ON")
	case "WRITE", "INPUT":
		addr, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return err
		}
		val, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return err
		}
		if command == "WRITE" {
			s.CommandChan <- WriteRegisterCmd{Addr: uint16(addr), Value: uint16(val)}
		} else {
			s.CommandChan <- WriteInputRegisterCmd{Addr: uint16(addr), Value: uint16(val)}
		}
	case "COIL", "DISCRETE":
		addr, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return err
		}
		on := strings.ToUpper(args[1]) == "ON"
		if command == "COIL" {
			s.CommandChan <- WriteCoilCmd{Addr: uint16(addr), Val: on}
		} else {
			s.CommandChan <- WriteDiscreteInputCmd{Addr: uint16(addr), Val: on}
		}
	case "RAMP":
		addr, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return err
		}
		startVal, _ := strconv.ParseFloat(args[1], 64)
		endVal, _ := strconv.ParseFloat(args[2], 64)
		duration, _ := strconv.ParseFloat(args[3], 64)
		steps := int(duration * 20)
		if steps == 0 {
			steps = 1
		}
		for i := 0; i <= steps; i++ {
			progress := float64(i) / float64(steps)
			current := startVal + (endVal-startVal)*progress
			s.CommandChan <- WriteRegisterCmd{Addr: uint16(addr), Value: uint16(current)}
			time.Sleep(50 * time.Millisecond)
		}
	case "UNIT":
		id, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return err
		}
		s.CommandChan <- UnitCmd{ID: uint8(id), Enable: strings.ToUpper(args[0]) != "DEL"}
	}
	return nil
}

// ListenTCP starts serving on address and returns once the listener is up.
func (s *Server) ListenTCP(address string) error {
	if err := s.mb.ListenTCP(address); err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", address, err)
	}
	s.log.Infof("Listening for Modbus TCP on %s", address)
	return nil
}

// RunTCP serves until Stop is called.
func (s *Server) RunTCP(address string) error {
	if err := s.ListenTCP(address); err != nil {
		return err
	}
	<-s.shutdownChan
	s.log.Info("TCP listener shutting down.")
	return nil
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("Stopping server...")
		close(s.shutdownChan)
		s.mb.Close()
	})
}
