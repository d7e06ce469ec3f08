// Package cli implements the interactive command-line interface of the
// login client.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/client"
	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/ecs"
	"github.com/tramquy-network/arriety/internal/events"
)

// Controller is the part of the network manager the CLI drives.
type Controller interface {
	Status() client.Status
	Device() ecs.DeviceInfo
	DispatchStats() (handled, dropped uint64)
	Connect(host string, port int) error
	Disconnect()
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  Controller

	in  io.Reader
	out io.Writer
}

// NewCLI creates a CLI reading commands from in and writing to out.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, manager Controller, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// user quits.
func (c *CLI) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(c.out, "\nArriety CLI ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("CLI: input closed")
		}
	}()

	for {
		fmt.Fprint(c.out, "arriety> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// execute processes a single command and reports whether the loop should end.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "device":
		c.printDevice()
	case "events":
		return false, c.printEvents(args)
	case "connect":
		return false, c.cmdConnect(args)
	case "disconnect":
		c.manager.Disconnect()
		fmt.Fprintln(c.out, "Disconnected")
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nCommands:")
	fmt.Fprintln(c.out, "  status                 Show connection and login state")
	fmt.Fprintln(c.out, "  device                 Show the device snapshot sent at login")
	fmt.Fprintln(c.out, "  events [n]             Show the n most recent session events")
	fmt.Fprintln(c.out, "  connect [host] [port]  Connect to, or retarget, the login server")
	fmt.Fprintln(c.out, "  disconnect             Close the connection and stop the network loop")
	fmt.Fprintln(c.out, "  quit                   Shut down")
	fmt.Fprintln(c.out, "  help                   Show this help message")
	fmt.Fprintln(c.out)
}

// printStatus displays the connection snapshot in a table.
func (c *CLI) printStatus() {
	st := c.manager.Status()
	handled, dropped := c.manager.DispatchStats()

	session := "-"
	if st.SessionID != 0 {
		session = strconv.Itoa(int(st.SessionID))
	}
	state := st.State.String()
	if st.FailMessage != "" {
		state = fmt.Sprintf("%s (%s)", state, st.FailMessage)
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Address", "Running", "Connected", "State", "Session", "Retries", "Packets"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{
		st.Address,
		strconv.FormatBool(st.Running),
		strconv.FormatBool(st.Connected),
		state,
		session,
		strconv.Itoa(st.ReconnectAttempts),
		fmt.Sprintf("%d/%d", handled, dropped),
	})
	tw.Render()
}

func (c *CLI) printDevice() {
	d := c.manager.Device()
	fmt.Fprintf(c.out, "\n  Platform:  %s\n", d.Platform)
	fmt.Fprintf(c.out, "  Memory:    %d MB\n", d.MemorySizeMB)
	fmt.Fprintf(c.out, "  Name:      %s\n\n", d.DeviceName)
}

func (c *CLI) printEvents(args []string) error {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		n = v
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Event", "Source"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, e := range c.eventBus.Recent(n) {
		tw.Append([]string{e.Time.Format(time.TimeOnly), string(e.Type), e.Source})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdConnect(args []string) error {
	ep := c.cfg.GetEndpoint()
	host, port := ep.Host, ep.Port

	if len(args) > 0 {
		host = args[0]
	}
	if len(args) > 1 {
		p, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil || p == 0 {
			return fmt.Errorf("invalid port: %s", args[1])
		}
		port = int(p)
	}

	if err := c.manager.Connect(host, port); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Connecting to %s:%d\n", host, port)
	return nil
}
