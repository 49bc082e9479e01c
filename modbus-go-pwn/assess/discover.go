package assess

import (
	"context"
	"fmt"

	"modbus-tools/modbus-go-pwn/client"
)

const discoveryReportEvery = 10

// DiscoverSlaveIDs walks [idStart, idEnd] and returns the ids that answered, ascending.
// A cancelled ctx ends the walk early with the ids found so far.
func (a *Assessor) DiscoverSlaveIDs(ctx context.Context, ep Endpoint, idStart, idEnd int, progress func(checked, total, found int)) ([]int, error) {
	log := a.log.WithField("target", ep.String())
	c := a.dial(ep.String(), a.timing.DiscoveryTimeout)
	defer c.Close()

	found := []int{}
	if err := c.Connect(); err != nil {
		return found, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	total := idEnd - idStart + 1
	for i, id := 0, idStart; id <= idEnd; i, id = i+1, id+1 {
		if ctx.Err() != nil {
			log.Infof("discovery cancelled after %d ids", i)
			break
		}
		if unitResponds(c, byte(id)) {
			log.Debugf("unit %d responded", id)
			found = append(found, id)
		}
		if i%discoveryReportEvery == 0 || i == total-1 {
			if progress != nil {
				progress(i+1, total, len(found))
			}
			sleepCtx(ctx, a.timing.DiscoveryDelay)
		}
	}
	return found, nil
}

// unitResponds tries the four read functions in order. Any answer that is not a
// gateway "no such unit" exception counts as a live unit. Transport faults and
// gateway exceptions fall through to the next function.
func unitResponds(c client.Client, unit byte) bool {
	probes := []func() error{
		func() error { _, err := c.ReadHoldingRegisters(0, 1, unit); return err },
		func() error { _, err := c.ReadCoils(0, 1, unit); return err },
		func() error { _, err := c.ReadDiscreteInputs(0, 1, unit); return err },
		func() error { _, err := c.ReadInputRegisters(0, 1, unit); return err },
	}
	for _, probe := range probes {
		err := probe()
		if err == nil {
			return true
		}
		if _, ok := client.AsException(err); ok && !client.IsNoSuchUnit(err) {
			return true
		}
	}
	return false
}
