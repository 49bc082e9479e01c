package database

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"modbus-tools/modbus-go-pwn/config"
	targets "modbus-tools/modbus-go-pwn/database"
)

// DefaultProfiles seed a fresh database when no --target is given.
// They point at the lab server started by modbus-go-server.
var DefaultProfiles = []targets.Target{
	{Name: "lab", Host: "127.0.0.1", Port: 5020, UnitID: 1, Description: "modbus-go-server on its default listen address"},
	{Name: "lab-multi", Host: "127.0.0.1", Port: 5020, UnitID: 2, Description: "second unit of a modbus-go-server started with --units 1-3"},
}

// ParseTarget reads a profile written as name=host[:port][/unit].
func ParseTarget(spec string) (targets.Target, error) {
	name, rest, ok := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || rest == "" {
		return targets.Target{}, fmt.Errorf("target '%s' must look like name=host[:port][/unit]", spec)
	}
	t := targets.Target{Name: strings.ToLower(name), Port: config.DefaultPort, UnitID: config.DefaultUnitID}

	addr, unit, hasUnit := strings.Cut(rest, "/")
	if hasUnit {
		id, err := strconv.Atoi(unit)
		if err != nil || id < 0 || id > 255 {
			return targets.Target{}, fmt.Errorf("target '%s': invalid unit '%s'", spec, unit)
		}
		t.UnitID = id
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	} else {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return targets.Target{}, fmt.Errorf("target '%s': invalid port '%s'", spec, portStr)
		}
		t.Port = port
	}
	if host == "" {
		return targets.Target{}, fmt.Errorf("target '%s': empty host", spec)
	}
	t.Host = host
	return t, nil
}

// CreateAndPopulate creates the profile schema and stores profiles, or the
// default lab profiles when profiles is empty.
func CreateAndPopulate(db *sql.DB, profiles []targets.Target) error {
	if err := targets.InitTargets(db); err != nil {
		return err
	}
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}
	if err := targets.SaveTargets(db, profiles); err != nil {
		return fmt.Errorf("failed to save target profiles: %w", err)
	}
	return nil
}
