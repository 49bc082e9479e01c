package assess

import (
	"context"
	"fmt"
	"strconv"

	"modbus-tools/modbus-go-pwn/client"
)

// AddressRange is inclusive at both ends.
type AddressRange struct {
	Start int
	End   int
}

func (r AddressRange) Len() int { return r.End - r.Start + 1 }

// Validate checks that rng lies inside the 16-bit address space.
func (r AddressRange) Validate() error {
	if r.Start < 0 || r.End > 0xFFFF || r.End < r.Start {
		return fmt.Errorf("%w: addresses %d-%d must satisfy 0 <= start <= end <= 65535", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// ScanRange reads every selected space over rng in protocol-sized chunks. A failed chunk
// is recorded as one ChunkError and never stops the scan. ctx is checked before every
// chunk; aborted is true when it ended the scan.
func (a *Assessor) ScanRange(ctx context.Context, c client.Client, unitID byte, rng AddressRange, types []DataType, progress func(typesDone, totalTypes int, msg string)) (spaces Spaces, aborted bool) {
	spaces = make(Spaces, len(types))
	for done, t := range types {
		points := make(map[string]DataPoint)
		spaces[t] = points
		size := t.ChunkSize()
		for start := rng.Start; start <= rng.End; start += size {
			if ctx.Err() != nil {
				return spaces, true
			}
			end := min(start+size-1, rng.End)
			if progress != nil {
				progress(done, len(types), fmt.Sprintf("Scanning %s %d-%d", t, start, end))
			}
			if err := readChunk(c, t, unitID, start, end, points); err != nil {
				a.log.WithField("unit", unitID).Debugf("%s %d-%d: %v", t, start, end, err)
				points[fmt.Sprintf("Error %d-%d", start, end)] = ChunkError(err.Error())
			}
			sleepCtx(ctx, a.timing.ChunkDelay)
		}
	}
	return spaces, ctx.Err() != nil
}

func readChunk(c client.Client, t DataType, unitID byte, start, end int, points map[string]DataPoint) error {
	addr, count := uint16(start), uint16(end-start+1)
	switch t {
	case HoldingRegisters, InputRegisters:
		read := c.ReadHoldingRegisters
		if t == InputRegisters {
			read = c.ReadInputRegisters
		}
		values, err := read(addr, count, unitID)
		if err != nil {
			return err
		}
		for i, v := range values {
			points[strconv.Itoa(start+i)] = RegisterValue(v)
		}
	default:
		read := c.ReadCoils
		if t == DiscreteInputs {
			read = c.ReadDiscreteInputs
		}
		bits, err := read(addr, count, unitID)
		if err != nil {
			return err
		}
		for i, v := range bits {
			points[strconv.Itoa(start+i)] = CoilValue(v)
		}
	}
	return nil
}
