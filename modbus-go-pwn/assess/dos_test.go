package assess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-tools/modbus-go-pwn/client"
	"modbus-tools/modbus-go-pwn/database"
)

func TestDosBoundedCampaign(t *testing.T) {
	peer := newFakePeer()
	o := NewDosOrchestrator(peer.dial, fastTiming(), quietLogger())

	start := time.Now()
	report, err := o.Start(context.Background(), plc, 1, DosCampaign{
		Attacks:       []Attack{{Type: AttackWriteRegister, Address: 40}},
		RatePerWorker: 5,
		WorkerCount:   2,
		Duration:      time.Second,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, StatusCompleted, report.Status)
	require.Len(t, report.AttackResults, 2)
	assert.Contains(t, report.AttackResults, "register_worker_0")
	assert.Contains(t, report.AttackResults, "register_worker_1")

	requests, errs := report.TotalRequests()
	assert.InDelta(t, 10, float64(requests), 3)
	assert.Zero(t, errs)
	assert.Equal(t, StatusStopped, o.Status())
}

func TestDosUnboundedCampaignRunsUntilStopped(t *testing.T) {
	peer := newFakePeer()
	events := make(chan database.Event, 4)
	o := NewDosOrchestrator(peer.dial, fastTiming(), quietLogger())
	o.Events = events

	report, err := o.Start(context.Background(), plc, 1, DosCampaign{
		Attacks:     []Attack{{Type: AttackWriteCoil, Address: 3}, {Type: AttackWriteRegister, Address: 4}},
		WorkerCount: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, report.Status)
	assert.Nil(t, report.AttackResults)
	assert.Equal(t, StatusRunning, o.Status())

	time.Sleep(50 * time.Millisecond)
	final, ok := o.Stop()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Len(t, final.AttackResults, 20)
	assert.Contains(t, final.AttackResults, "coil_worker_9")
	assert.Contains(t, final.AttackResults, "register_worker_9")
	requests, _ := final.TotalRequests()
	assert.Positive(t, requests)
	assert.Equal(t, StatusStopped, o.Status())

	_, ok = o.Stop()
	assert.False(t, ok)

	require.Len(t, events, 2)
	assert.Equal(t, database.EventDosStarted, (<-events).EventType)
	assert.Equal(t, database.EventDosStopped, (<-events).EventType)
}

func TestDosWorkersSurviveFaults(t *testing.T) {
	peer := newFakePeer()
	peer.connectErr = errors.New("refused")
	o := NewDosOrchestrator(peer.dial, fastTiming(), quietLogger())

	_, err := o.Start(context.Background(), plc, 1, DosCampaign{
		Attacks:     []Attack{{Type: AttackWriteCoil, Address: 0}},
		WorkerCount: 1,
	})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	peer.mu.Lock()
	peer.connectErr = nil
	peer.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	report, ok := o.Stop()
	require.True(t, ok)
	w := report.AttackResults["coil_worker_0"]
	assert.Positive(t, w.ErrorCount)
	assert.Positive(t, w.RequestCount)
	assert.Equal(t, StatusCompleted, w.Status)
}

func TestDosWorkerReconnectsAfterWriteFault(t *testing.T) {
	peer := newFakePeer()
	o := NewDosOrchestrator(peer.dial, fastTiming(), quietLogger())

	_, err := o.Start(context.Background(), plc, 1, DosCampaign{
		Attacks:       []Attack{{Type: AttackWriteRegister, Address: 9}},
		WorkerCount:   1,
		RatePerWorker: 200,
	})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	peer.setWriteError(errTransport)
	require.Eventually(t, func() bool { return peer.closeCount() >= 2 }, time.Second, 5*time.Millisecond)
	peer.setWriteError(nil)

	resumedFrom := peer.writeCount()
	require.Eventually(t, func() bool { return peer.writeCount() > resumedFrom+3 }, time.Second, 5*time.Millisecond)

	report, ok := o.Stop()
	require.True(t, ok)
	w := report.AttackResults["register_worker_0"]
	assert.Equal(t, StatusCompleted, w.Status)
	assert.Positive(t, w.ErrorCount)
	assert.Greater(t, w.RequestCount, w.ErrorCount)
	assert.Greater(t, peer.closeCount(), 2)
}

func TestDosWorkerCountsExceptionsAsRequests(t *testing.T) {
	peer := newFakePeer()
	peer.failWrite = &client.ExceptionError{FunctionCode: 5, ExceptionCode: 2}
	o := NewDosOrchestrator(peer.dial, fastTiming(), quietLogger())

	report, err := o.Start(context.Background(), plc, 1, DosCampaign{
		Attacks:       []Attack{{Type: AttackWriteCoil, Address: 1}},
		WorkerCount:   1,
		RatePerWorker: 100,
		Duration:      100 * time.Millisecond,
	})
	require.NoError(t, err)
	w := report.AttackResults["coil_worker_0"]
	assert.Equal(t, StatusCompleted, w.Status)
	assert.Positive(t, w.RequestCount)
	assert.Equal(t, w.RequestCount, w.ErrorCount)
	// exceptions never drop the connection; the only close is the worker's own on exit
	assert.Equal(t, 1, peer.closeCount())
}

func TestDosReplacementKeepsStatusResponsive(t *testing.T) {
	peer := newFakePeer()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	peer.onWrite = func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}
	timing := fastTiming()
	timing.JoinTimeout = 300 * time.Millisecond
	o := NewDosOrchestrator(peer.dial, timing, quietLogger())

	camp := DosCampaign{Attacks: []Attack{{Type: AttackWriteCoil, Address: 0}}, WorkerCount: 1}
	_, err := o.Start(context.Background(), plc, 1, camp)
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("worker never wrote")
	}
	peer.mu.Lock()
	peer.onWrite = nil
	peer.mu.Unlock()

	replaced := make(chan CampaignReport, 1)
	go func() {
		camp.Duration = 50 * time.Millisecond
		report, _ := o.Start(context.Background(), plc, 1, camp)
		replaced <- report
	}()

	// the second Start is now joining the stuck worker
	time.Sleep(50 * time.Millisecond)
	began := time.Now()
	o.Status()
	assert.Less(t, time.Since(began), 100*time.Millisecond)

	close(release)
	select {
	case report := <-replaced:
		assert.Equal(t, StatusCompleted, report.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("replacement campaign did not finish")
	}
	assert.Equal(t, StatusStopped, o.Status())
}

func TestDosStartReplacesLiveCampaign(t *testing.T) {
	peer := newFakePeer()
	o := NewDosOrchestrator(peer.dial, fastTiming(), quietLogger())
	camp := DosCampaign{Attacks: []Attack{{Type: AttackWriteCoil, Address: 0}}, WorkerCount: 1, RatePerWorker: 100}

	_, err := o.Start(context.Background(), plc, 1, camp)
	require.NoError(t, err)
	camp.Duration = 50 * time.Millisecond
	report, err := o.Start(context.Background(), plc, 1, camp)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, StatusStopped, o.Status())
}

func TestDosRejectsEmptyCampaign(t *testing.T) {
	o := NewDosOrchestrator(newFakePeer().dial, fastTiming(), quietLogger())
	_, err := o.Start(context.Background(), plc, 1, DosCampaign{WorkerCount: 1})
	assert.Error(t, err)
	assert.Equal(t, StatusStopped, o.Status())
}
