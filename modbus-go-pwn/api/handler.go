package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-pwn/assess"
	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-pwn/version"
)

// Handler serves the assessment operations over HTTP.
type Handler struct {
	sessions *assess.SessionManager
	assessor *assess.Assessor
	dos      *assess.DosOrchestrator
	log      logrus.FieldLogger
}

func NewHandler(sessions *assess.SessionManager, assessor *assess.Assessor, dos *assess.DosOrchestrator, logger logrus.FieldLogger) *Handler {
	return &Handler{sessions: sessions, assessor: assessor, dos: dos, log: logger}
}

type targetRequest struct {
	IP      string `json:"ip" binding:"required"`
	Port    int    `json:"port" binding:"min=1,max=65535"`
	SlaveID int    `json:"slave_id" binding:"min=0,max=255"`
}

func (r targetRequest) endpoint() assess.Endpoint {
	return assess.Endpoint{Host: r.IP, Port: r.Port}
}

func newTarget() targetRequest {
	return targetRequest{Port: config.DefaultPort, SlaveID: config.DefaultUnitID}
}

type scanRequest struct {
	targetRequest
	StartAddress       int  `json:"start_address" binding:"min=0,max=65535"`
	EndAddress         int  `json:"end_address" binding:"min=0,max=65535"`
	ScanRegisters      bool `json:"scan_registers"`
	ScanCoils          bool `json:"scan_coils"`
	ScanDiscreteInputs bool `json:"scan_discrete_inputs"`
	ScanInputRegisters bool `json:"scan_input_registers"`
	DiscoverSlaveIDs   bool `json:"discover_slave_ids"`
	SlaveIDStart       int  `json:"slave_id_start" binding:"min=0,max=255"`
	SlaveIDEnd         int  `json:"slave_id_end" binding:"min=0,max=255"`
}

type exploitRequest struct {
	targetRequest
	WriteRegister   bool   `json:"write_register"`
	RegisterAddress int    `json:"register_address" binding:"min=0,max=65535"`
	RegisterValue   int    `json:"register_value" binding:"min=0,max=65535"`
	WriteCoil       bool   `json:"write_coil"`
	CoilAddress     int    `json:"coil_address" binding:"min=0,max=65535"`
	CoilValue       string `json:"coil_value"`
}

type dosRequest struct {
	targetRequest
	DosWriteCoil       bool    `json:"dos_write_coil"`
	DosCoilAddress     int     `json:"dos_coil_address" binding:"min=0,max=65535"`
	DosWriteRegister   bool    `json:"dos_write_register"`
	DosRegisterAddress int     `json:"dos_register_address" binding:"min=0,max=65535"`
	Intensity          int     `json:"intensity"`
	Rate               float64 `json:"rate" binding:"min=0"`
	Duration           int     `json:"duration" binding:"min=0"`
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": message})
}

func bindError(c *gin.Context, err error) {
	badRequest(c, "Invalid input: "+err.Error())
}

func (h *Handler) Scan(c *gin.Context) {
	req := scanRequest{targetRequest: newTarget(), EndAddress: 10, SlaveIDStart: 1, SlaveIDEnd: 255}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.EndAddress < req.StartAddress {
		badRequest(c, "End address must be greater than or equal to start address!")
		return
	}
	if req.EndAddress-req.StartAddress > config.MaxScanSpan {
		badRequest(c, "Address range too large! Maximum range is 10,000 addresses.")
		return
	}
	opts := assess.ScanOptions{
		ScanHoldingRegisters: req.ScanRegisters,
		ScanCoils:            req.ScanCoils,
		ScanDiscreteInputs:   req.ScanDiscreteInputs,
		ScanInputRegisters:   req.ScanInputRegisters,
		DiscoverSlaveIDs:     req.DiscoverSlaveIDs,
		IDStart:              req.SlaveIDStart,
		IDEnd:                req.SlaveIDEnd,
	}
	if !opts.DiscoverSlaveIDs && len(opts.SelectedTypes()) == 0 {
		badRequest(c, "Select at least one scan option or enable slave ID discovery!")
		return
	}
	if opts.DiscoverSlaveIDs && opts.IDEnd < opts.IDStart {
		badRequest(c, "Slave ID range end must be greater than or equal to its start!")
		return
	}

	id, err := h.sessions.Start(req.endpoint(), byte(req.SlaveID), assess.AddressRange{Start: req.StartAddress, End: req.EndAddress}, opts)
	if errors.Is(err, assess.ErrScanInProgress) {
		badRequest(c, "A scan is already in progress!")
		return
	}
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "message": "Scan started successfully!", "scan_id": id})
}

func (h *Handler) ModbusTest(c *gin.Context) {
	req := newTarget()
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	available, message := h.assessor.Probe(c.Request.Context(), req.endpoint(), h.assessor.Timing().ProbeTimeout)
	c.JSON(http.StatusOK, gin.H{"status": "success", "modbus_available": available, "message": message})
}

func (h *Handler) ScanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Progress())
}

func (h *Handler) ScanResults(c *gin.Context) {
	tree, inProgress := h.sessions.Results()
	if inProgress {
		c.JSON(http.StatusOK, gin.H{"status": "in_progress", "message": "Scan still in progress"})
		return
	}
	c.JSON(http.StatusOK, assess.Sanitize(tree.Map()))
}

func (h *Handler) StopScan(c *gin.Context) {
	if h.sessions.Stop() {
		c.JSON(http.StatusOK, gin.H{"status": "stopping", "message": "Stopping scan..."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "not_running", "message": "No scan is currently running."})
}

func (h *Handler) Exploit(c *gin.Context) {
	req := exploitRequest{targetRequest: newTarget(), CoilValue: "false"}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if !req.WriteRegister && !req.WriteCoil {
		badRequest(c, "Select at least one exploit option!")
		return
	}
	var ops assess.ExploitOps
	if req.WriteRegister {
		ops.WriteRegister = &assess.RegisterWrite{Address: uint16(req.RegisterAddress), Value: uint16(req.RegisterValue)}
	}
	if req.WriteCoil {
		ops.WriteCoil = &assess.CoilWrite{Address: uint16(req.CoilAddress), Value: strings.EqualFold(req.CoilValue, "true")}
	}
	report := h.assessor.Exploit(c.Request.Context(), req.endpoint(), byte(req.SlaveID), ops)
	c.JSON(http.StatusOK, assess.Sanitize(report.Map()))
}

func (h *Handler) DosAttack(c *gin.Context) {
	req := dosRequest{targetRequest: newTarget(), Intensity: 1, Rate: 10}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	var attacks []assess.Attack
	if req.DosWriteCoil {
		attacks = append(attacks, assess.Attack{Type: assess.AttackWriteCoil, Address: uint16(req.DosCoilAddress)})
	}
	if req.DosWriteRegister {
		attacks = append(attacks, assess.Attack{Type: assess.AttackWriteRegister, Address: uint16(req.DosRegisterAddress)})
	}
	if len(attacks) == 0 {
		badRequest(c, "Select at least one DoS attack method!")
		return
	}
	campaign := assess.DosCampaign{
		Attacks:       attacks,
		RatePerWorker: req.Rate,
		WorkerCount:   req.Intensity,
		Duration:      time.Duration(req.Duration) * time.Second,
	}
	report, err := h.dos.Start(c.Request.Context(), req.endpoint(), byte(req.SlaveID), campaign)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": fmt.Sprintf("Error: %v", err)})
		return
	}
	if campaign.Duration > 0 {
		c.JSON(http.StatusOK, assess.Sanitize(report.Map()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "message": "DoS attack started"})
}

func (h *Handler) StopDosAttack(c *gin.Context) {
	report, ok := h.dos.Stop()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "not_running", "message": "No DoS attack is currently running."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping", "message": "Stopping DoS attack...", "report": assess.Sanitize(report.Map())})
}

func (h *Handler) DosStatus(c *gin.Context) {
	if h.dos.Status() == assess.StatusRunning {
		c.JSON(http.StatusOK, gin.H{"status": "running", "message": "DoS attack is running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "message": "No DoS attack is running"})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version, "build_date": version.BuildDate})
}
