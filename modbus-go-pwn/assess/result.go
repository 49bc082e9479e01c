package assess

import (
	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-pwn/config"
)

// DataType is one of the four addressable Modbus data spaces.
type DataType int

const (
	HoldingRegisters DataType = iota
	Coils
	DiscreteInputs
	InputRegisters
)

// AllDataTypes lists the spaces in scan order.
var AllDataTypes = []DataType{HoldingRegisters, Coils, DiscreteInputs, InputRegisters}

func (t DataType) String() string {
	switch t {
	case HoldingRegisters:
		return "Holding Registers"
	case Coils:
		return "Coils"
	case DiscreteInputs:
		return "Discrete Inputs"
	case InputRegisters:
		return "Input Registers"
	}
	return "Unknown"
}

// ChunkSize is the largest read the protocol allows for this space.
func (t DataType) ChunkSize() int {
	if t == HoldingRegisters || t == InputRegisters {
		return config.MaxRegistersPerRead
	}
	return config.MaxBitsPerRead
}

// DataPoint is a single scan result: RegisterValue, CoilValue or ChunkError.
type DataPoint interface {
	Value() any
}

type RegisterValue uint16

func (v RegisterValue) Value() any { return int(v) }

// CoilValue holds coils and discrete inputs.
type CoilValue bool

func (v CoilValue) Value() any { return bool(v) }

// ChunkError records a failed read of a whole chunk.
type ChunkError string

func (v ChunkError) Value() any { return string(v) }

// Spaces maps each scanned space to its points keyed by absolute address
// or "Error a-b".
type Spaces map[DataType]map[string]DataPoint

type ModbusCheck struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// ResultTree is everything a scan session produced.
type ResultTree struct {
	Status             string
	Error              string
	Message            string
	ModbusCheck        *ModbusCheck
	DiscoveredSlaveIDs []int
	Spaces             Spaces
}

// Map renders the tree in its wire shape. Only plain maps, slices and scalars appear in the output.
func (r ResultTree) Map() map[string]any {
	out := make(map[string]any)
	if r.Status != "" {
		out["status"] = r.Status
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.ModbusCheck != nil {
		out["modbus_check"] = map[string]any{"available": r.ModbusCheck.Available, "message": r.ModbusCheck.Message}
	}
	if r.DiscoveredSlaveIDs != nil {
		ids := make([]any, len(r.DiscoveredSlaveIDs))
		for i, id := range r.DiscoveredSlaveIDs {
			ids[i] = id
		}
		out["discovered_slave_ids"] = ids
	}
	for t, points := range r.Spaces {
		m := make(map[string]any, len(points))
		for k, p := range points {
			m[k] = p.Value()
		}
		out[t.String()] = m
	}
	return out
}

// RegisterWrite writes one holding register.
type RegisterWrite struct {
	Address uint16
	Value   uint16
}

// CoilWrite forces one coil.
type CoilWrite struct {
	Address uint16
	Value   bool
}

// ExploitOps selects which writes an exploit performs. Nil fields are skipped.
type ExploitOps struct {
	WriteRegister *RegisterWrite
	WriteCoil     *CoilWrite
}

const (
	OutcomeSuccess = "Success"
	OutcomeFailed  = "Failed"
)

type WriteOutcome struct {
	Address uint16
	Value   any
	Status  string
	Details string
}

func (o WriteOutcome) Map() map[string]any {
	return map[string]any{"address": int(o.Address), "value": o.Value, "status": o.Status, "details": o.Details}
}

type ExploitReport struct {
	Status        string
	Error         string
	WriteRegister *WriteOutcome
	WriteCoil     *WriteOutcome
}

func (r ExploitReport) Map() map[string]any {
	out := map[string]any{"status": r.Status}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.WriteRegister != nil {
		out["Write Register"] = r.WriteRegister.Map()
	}
	if r.WriteCoil != nil {
		out["Write Coil"] = r.WriteCoil.Map()
	}
	return out
}

// WorkerResult is what a single DoS worker reports when it stops.
type WorkerResult struct {
	Status          string
	RequestCount    uint64
	ErrorCount      uint64
	DurationSeconds float64
	AchievedRate    float64
}

func (w WorkerResult) Map() map[string]any {
	return map[string]any{
		"status":   w.Status,
		"requests": w.RequestCount,
		"errors":   w.ErrorCount,
		"duration": w.DurationSeconds,
		"rate":     w.AchievedRate,
	}
}

type CampaignReport struct {
	Status        string
	Error         string
	AttackResults map[string]WorkerResult
}

// TotalRequests sums the request counters of every worker.
func (r CampaignReport) TotalRequests() (requests, errors uint64) {
	for _, w := range r.AttackResults {
		requests += w.RequestCount
		errors += w.ErrorCount
	}
	return requests, errors
}

func (r CampaignReport) Map() map[string]any {
	out := map[string]any{"status": r.Status}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.AttackResults != nil {
		workers := make(map[string]any, len(r.AttackResults))
		for id, w := range r.AttackResults {
			workers[id] = w.Map()
		}
		out["attack_results"] = workers
	}
	return out
}

func (r CampaignReport) fields() logrus.Fields {
	requests, errs := r.TotalRequests()
	return logrus.Fields{"status": r.Status, "workers": len(r.AttackResults), "requests": requests, "errors": errs}
}
