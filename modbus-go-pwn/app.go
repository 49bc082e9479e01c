package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"modbus-tools/modbus-go-pwn/assess"
	"modbus-tools/modbus-go-pwn/client"
	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-pwn/database"
)

// app holds the wired assessment core shared by every subcommand.
type app struct {
	cfg      *config.AppConfig
	log      *logrus.Logger
	assessor *assess.Assessor
	dos      *assess.DosOrchestrator
	sessions *assess.SessionManager

	stopAudit context.CancelFunc
	auditWG   sync.WaitGroup
}

func newApp(cfg *config.AppConfig, logger *logrus.Logger) *app {
	a := &app{cfg: cfg, log: logger}
	a.assessor = assess.NewAssessor(client.DialTCP, cfg.Timing, logger)
	a.dos = assess.NewDosOrchestrator(client.DialTCP, cfg.Timing, logger)
	a.sessions = assess.NewSessionManager(a.assessor, logger)

	if cfg.Audit.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		events := make(chan database.Event, 100)
		a.assessor.Events = events
		a.dos.Events = events
		a.stopAudit = cancel
		a.auditWG.Add(1)
		go database.DatabaseWriter(ctx, &a.auditWG, cfg.Audit.Dir, events, logger.WithField("component", "audit"))
	}
	return a
}

// close halts any live campaign and scan, then flushes the audit journal.
func (a *app) close() {
	if report, ok := a.dos.Stop(); ok {
		requests, errs := report.TotalRequests()
		a.log.Infof("DoS campaign halted on exit: %d requests, %d errors", requests, errs)
	}
	if a.sessions.Stop() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timing.JoinTimeout)
		a.sessions.Wait(ctx)
		cancel()
	}
	if a.stopAudit != nil {
		a.stopAudit()
		a.auditWG.Wait()
	}
}

// targets loads the saved profiles. A missing database yields no profiles.
func (a *app) targets() (map[string]database.Target, error) {
	if _, err := os.Stat(a.cfg.Targets.DB); os.IsNotExist(err) {
		return map[string]database.Target{}, nil
	}
	return database.OpenTargets(a.cfg.Targets.DB)
}

// resolve turns host, host:port or @profile into an endpoint and its default unit.
func (a *app) resolve(target string) (assess.Endpoint, byte, error) {
	name, isProfile := strings.CutPrefix(target, "@")
	if !isProfile {
		ep, err := assess.ParseEndpoint(target)
		return ep, config.DefaultUnitID, err
	}
	targets, err := a.targets()
	if err != nil {
		return assess.Endpoint{}, 0, err
	}
	t, ok := targets[strings.ToLower(name)]
	if !ok {
		return assess.Endpoint{}, 0, fmt.Errorf("unknown target profile '%s' in %s", name, a.cfg.Targets.DB)
	}
	return assess.Endpoint{Host: t.Host, Port: t.Port}, byte(t.UnitID), nil
}
