package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"modbus-tools/modbus-go-pwn/assess"
	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-pwn/database"
)

// command is one parsed line of operator input.
type command struct {
	name     string
	endpoint assess.Endpoint
	unitID   byte
	rng      assess.AddressRange
	opts     assess.ScanOptions
	ops      assess.ExploitOps
	campaign assess.DosCampaign
}

const usage = "probe T | scan T a-b [hr coils di ir discover] [unit=N ids=a-b] | stop | write reg|coil T addr val | dos T coil|reg addr [workers=N rate=R secs=S] | halt | targets"

// splitArgs separates positional words from key=value options.
func splitArgs(parts []string) ([]string, map[string]string) {
	var words []string
	opts := make(map[string]string)
	for _, p := range parts {
		if k, v, ok := strings.Cut(p, "="); ok {
			opts[strings.ToLower(k)] = v
			continue
		}
		words = append(words, p)
	}
	return words, opts
}

// resolveTarget accepts host, host:port or @profile.
func resolveTarget(tok string, targets map[string]database.Target) (assess.Endpoint, byte, error) {
	if name, ok := strings.CutPrefix(tok, "@"); ok {
		t, found := targets[strings.ToLower(name)]
		if !found {
			return assess.Endpoint{}, 0, fmt.Errorf("unknown target profile '%s'", name)
		}
		return assess.Endpoint{Host: t.Host, Port: t.Port}, byte(t.UnitID), nil
	}
	ep, err := assess.ParseEndpoint(tok)
	return ep, config.DefaultUnitID, err
}

func parseSpan(s string, max int) (int, int, error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		b = a
	}
	start, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range '%s'", s)
	}
	end, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range '%s'", s)
	}
	if start < 0 || end > max || end < start {
		return 0, 0, fmt.Errorf("range '%s' must satisfy 0 <= start <= end <= %d", s, max)
	}
	return start, end, nil
}

func parseUint16(s, what string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s'", what, s)
	}
	return uint16(v), nil
}

func parseCommand(input string, targets map[string]database.Target) (command, error) {
	words, opts := splitArgs(strings.Fields(input))
	if len(words) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	cmd := command{name: strings.ToLower(words[0])}
	args := words[1:]

	needTarget := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("'%s' needs more arguments. Usage: %s", cmd.name, usage)
		}
		var err error
		cmd.endpoint, cmd.unitID, err = resolveTarget(args[0], targets)
		if err != nil {
			return err
		}
		if u, ok := opts["unit"]; ok {
			id, err := strconv.ParseUint(u, 10, 8)
			if err != nil {
				return fmt.Errorf("invalid unit '%s'", u)
			}
			cmd.unitID = byte(id)
		}
		return nil
	}

	switch cmd.name {
	case "stop", "halt", "targets", "help", "clear":
		return cmd, nil

	case "probe", "p":
		cmd.name = "probe"
		return cmd, needTarget(1)

	case "scan":
		if err := needTarget(2); err != nil {
			return cmd, err
		}
		start, end, err := parseSpan(args[1], 65535)
		if err != nil {
			return cmd, err
		}
		if end-start > config.MaxScanSpan {
			return cmd, fmt.Errorf("address range too large, maximum is %d addresses", config.MaxScanSpan)
		}
		cmd.rng = assess.AddressRange{Start: start, End: end}
		cmd.opts = assess.ScanOptions{IDStart: 1, IDEnd: 255}
		for _, w := range args[2:] {
			switch strings.ToLower(w) {
			case "hr", "holding":
				cmd.opts.ScanHoldingRegisters = true
			case "coils", "co":
				cmd.opts.ScanCoils = true
			case "di", "discrete":
				cmd.opts.ScanDiscreteInputs = true
			case "ir", "input":
				cmd.opts.ScanInputRegisters = true
			case "discover", "ids":
				cmd.opts.DiscoverSlaveIDs = true
			default:
				return cmd, fmt.Errorf("unknown scan option '%s'", w)
			}
		}
		if ids, ok := opts["ids"]; ok {
			cmd.opts.DiscoverSlaveIDs = true
			if cmd.opts.IDStart, cmd.opts.IDEnd, err = parseSpan(ids, 255); err != nil {
				return cmd, err
			}
		}
		if !cmd.opts.DiscoverSlaveIDs && len(cmd.opts.SelectedTypes()) == 0 {
			cmd.opts.ScanHoldingRegisters = true
		}
		return cmd, nil

	case "write", "w":
		cmd.name = "write"
		if len(args) < 4 {
			return cmd, fmt.Errorf("usage: write reg|coil <target> <addr> <value>")
		}
		kind := strings.ToLower(args[0])
		args = args[1:]
		if err := needTarget(3); err != nil {
			return cmd, err
		}
		addr, err := parseUint16(args[1], "address")
		if err != nil {
			return cmd, err
		}
		switch kind {
		case "reg", "register":
			val, err := parseUint16(args[2], "value")
			if err != nil {
				return cmd, err
			}
			cmd.ops.WriteRegister = &assess.RegisterWrite{Address: addr, Value: val}
		case "coil":
			v := strings.ToLower(args[2])
			cmd.ops.WriteCoil = &assess.CoilWrite{Address: addr, Value: v == "on" || v == "true" || v == "1"}
		default:
			return cmd, fmt.Errorf("write kind must be reg or coil, got '%s'", kind)
		}
		return cmd, nil

	case "dos":
		if err := needTarget(3); err != nil {
			return cmd, err
		}
		addr, err := parseUint16(args[2], "address")
		if err != nil {
			return cmd, err
		}
		atk := assess.Attack{Address: addr}
		switch strings.ToLower(args[1]) {
		case "coil":
			atk.Type = assess.AttackWriteCoil
		case "reg", "register":
			atk.Type = assess.AttackWriteRegister
		default:
			return cmd, fmt.Errorf("dos kind must be coil or reg, got '%s'", args[1])
		}
		cmd.campaign = assess.DosCampaign{Attacks: []assess.Attack{atk}, WorkerCount: 1, RatePerWorker: 10}
		if v, ok := opts["workers"]; ok {
			if cmd.campaign.WorkerCount, err = strconv.Atoi(v); err != nil {
				return cmd, fmt.Errorf("invalid workers '%s'", v)
			}
		}
		if v, ok := opts["rate"]; ok {
			if cmd.campaign.RatePerWorker, err = strconv.ParseFloat(v, 64); err != nil || cmd.campaign.RatePerWorker < 0 {
				return cmd, fmt.Errorf("invalid rate '%s'", v)
			}
		}
		if v, ok := opts["secs"]; ok {
			secs, err := strconv.Atoi(v)
			if err != nil || secs < 0 {
				return cmd, fmt.Errorf("invalid secs '%s'", v)
			}
			cmd.campaign.Duration = time.Duration(secs) * time.Second
		}
		return cmd, nil
	}
	return cmd, fmt.Errorf("unknown command '%s'", cmd.name)
}
