package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/CodedInternet/osl/onboard"
	"github.com/CodedInternet/osl/onboard/statemachine"
	"github.com/CodedInternet/osl/store"
	"github.com/CodedInternet/osl/units"
)

// newShell builds the local operator shell.
func newShell(dev Device, runner *Runner, st *store.Store) *ishell.Shell {
	shell := ishell.New()
	shell.Println("Open Source Leg operator shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "createoperator",
		Help: "createoperator <email> <password>",
		Func: func(c *ishell.Context) {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true)

			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			op := &store.Operator{
				Email: email,
				Name:  email,
				Admin: true,
			}
			if err := op.SetPassword([]byte(password)); err != nil {
				c.Err(err)
				return
			}
			if err := st.SaveOperator(op); err != nil {
				c.Err(err)
				return
			}
			c.Println("Operator created")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "Print the latest leg state",
		Func: func(c *ishell.Context) {
			c.Print(formatSnapshot(dev.Snapshot()))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "home",
		Help: "Home every joint",
		Func: func(c *ishell.Context) {
			if err := dev.Home(context.Background()); err != nil {
				c.Err(err)
				return
			}
			c.Println("Homed")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "calibrate",
		Help:      "calibrate <loadcell|encoders>",
		Completer: func([]string) []string { return []string{"loadcell", "encoders"} },
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(errors.New("usage: calibrate <loadcell|encoders>"))
				return
			}
			var err error
			switch c.Args[0] {
			case "loadcell":
				err = dev.CalibrateLoadCell(context.Background())
			case "encoders":
				err = dev.CalibrateEncoders(context.Background())
			default:
				err = fmt.Errorf("unknown calibration %q", c.Args[0])
			}
			if err != nil {
				c.Err(err)
				return
			}
			c.Println("Calibrated", c.Args[0])
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "run",
		Help: "run [frequency] [cycles] [log] [apply]",
		Func: func(c *ishell.Context) {
			opts, err := parseRunArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			if err := runner.Start(opts); err != nil {
				c.Err(err)
				return
			}
			c.Println("Control loop started")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "Stop the control loop",
		Func: func(c *ishell.Context) {
			if err := runner.Stop(); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "estop",
		Help: "Emergency stop",
		Func: func(c *ishell.Context) {
			dev.RequestEstop()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "reset",
		Help: "Put every joint in its safe state",
		Func: func(c *ishell.Context) {
			if err := dev.Reset(); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "event",
		Help: "event <name>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(errors.New("usage: event <name>"))
				return
			}
			if !dev.Post(statemachine.Event(c.Args[0])) {
				c.Err(errors.New("event queue full"))
			}
		},
	})

	return shell
}

// parseRunArgs reads "run [frequency] [cycles] [log] [apply]".
func parseRunArgs(args []string) (opts onboard.RunOptions, err error) {
	var numbers []string
	for _, a := range args {
		switch a {
		case "log":
			opts.LogData = true
		case "apply":
			opts.ApplyParameters = true
		default:
			numbers = append(numbers, a)
		}
	}
	if len(numbers) > 2 {
		return opts, errors.New("usage: run [frequency] [cycles] [log] [apply]")
	}
	if len(numbers) > 0 {
		if opts.Frequency, err = strconv.ParseFloat(numbers[0], 64); err != nil || opts.Frequency < 0 {
			return opts, fmt.Errorf("invalid frequency %q", numbers[0])
		}
	}
	if len(numbers) > 1 {
		if opts.Cycles, err = strconv.Atoi(numbers[1]); err != nil || opts.Cycles < 0 {
			return opts, fmt.Errorf("invalid cycles %q", numbers[1])
		}
	}
	return opts, nil
}

func formatSnapshot(s onboard.Snapshot) string {
	var b strings.Builder
	u := s.Units
	fmt.Fprintf(&b, "state=%q running=%v halted=%v cycles=%d overruns=%d\n",
		s.State, s.Running, s.Halted, s.Cycles, s.Overruns)
	for _, j := range []*onboard.JointSnapshot{s.Knee, s.Ankle} {
		if j == nil {
			continue
		}
		fmt.Fprintf(&b, "%-6s mode=%s homed=%v pos=%.3f %s vel=%.3f %s torque=%.3f %s temp=%.1f %s\n",
			j.Name, j.Mode, j.Homed,
			j.OutputPosition, u[units.Position], j.OutputVelocity, u[units.Velocity],
			j.JointTorque, u[units.Torque], j.Temperature, u[units.Temperature])
	}
	if lc := s.LoadCell; lc != nil {
		fmt.Fprintf(&b, "loadcell zeroed=%v contact=%v fz=%.1f %s\n", lc.Zeroed, lc.Contact, lc.Forces[2], u[units.Force])
	}
	return b.String()
}
