package server

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestSnapshotAndSetters(t *testing.T) {
	s := NewServer(quietLogger(), []uint8{1, 3})
	s.SetHoldingRegister(2, 42)
	s.SetCoil(2, true)

	snap := s.GetSnapshot(0, 4)
	assert.Equal(t, []uint16{0, 0, 42, 0}, snap.Holding)
	assert.Equal(t, []bool{false, false, true, false}, snap.Coils)
	assert.Equal(t, []uint8{1, 3}, snap.Units)

	s.SetUnit(3, false)
	s.SetUnit(7, true)
	assert.Equal(t, []uint8{1, 7}, s.GetSnapshot(0, 1).Units)
}

func TestScenarioAppliesCommands(t *testing.T) {
	s := NewServer(quietLogger(), []uint8{1})
	go s.RunCommandProcessor()
	defer s.Stop()

	path := filepath.Join(t.TempDir(), "scenario.txt")
	script := "# lab setup\nWRITE 10 1234\nCOIL 4 ON\nUNIT ADD 9\nHEARTBEAT ON\nBOGUS 1\nWAIT 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0644))

	require.NoError(t, s.RunScenario(path))
	assert.Eventually(t, func() bool {
		return s.HoldingRegister(10) == 1234 && s.Coil(4) && len(s.GetSnapshot(0, 1).Units) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestScenarioMissingFile(t *testing.T) {
	s := NewServer(quietLogger(), nil)
	assert.Error(t, s.RunScenario(filepath.Join(t.TempDir(), "missing.txt")))
}
