// Package repl implements the line-oriented interactive front end for a
// controller session — closely following the line-oriented REPL idiom: the
// same prompt/readLine/executeCommand shape and command-alias table, now
// dispatching ipc.Command values at an attached runtime instead of
// calling directly into an in-process Debugger.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dbug-project/dbug/controller"
	"github.com/dbug-project/dbug/controller/bpsyntax"
	"github.com/dbug-project/dbug/ipc"
)

// REPL drives a controller.Session from line-oriented input.
type REPL struct {
	sess    *controller.Session
	reader  *bufio.Reader
	writer  io.Writer
	running bool

	mu      sync.Mutex
	paused  bool
	lastHit ipc.Event
}

// New creates a REPL bound to sess, reading commands from r and writing
// output to w.
func New(sess *controller.Session, r io.Reader, w io.Writer) *REPL {
	repl := &REPL{sess: sess, reader: bufio.NewReader(r), writer: w}
	sess.OnEvent(repl.onEvent)
	return repl
}

// onEvent tracks whether the session is currently suspended, so the
// prompt can reflect it the way a line REPL shows "paused" vs.
// "running".
func (r *REPL) onEvent(ev ipc.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case ipc.EventBreakpointHit, ipc.EventStepPaused:
		r.paused = true
		r.lastHit = ev
	case ipc.EventDetached:
		r.paused = false
		r.running = false
	}
}

func (r *REPL) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Start runs the REPL loop until EOF, "quit", or the session detaches.
func (r *REPL) Start() {
	r.running = true
	r.printWelcome()

	for r.running {
		r.printPrompt()
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF {
				r.running = false
				break
			}
			r.printf("error reading input: %v\n", err)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.executeCommand(line); err != nil {
			r.printf("error: %v\n", err)
		}
	}

	r.printGoodbye()
}

// Stop ends the REPL loop without waiting for further input.
func (r *REPL) Stop() { r.running = false }

func (r *REPL) printWelcome() {
	r.printf("Dbug Controller REPL\n")
	r.printf("Type 'help' for available commands\n")
	r.printf("=====================================\n\n")
}

func (r *REPL) printGoodbye() { r.printf("\nGoodbye!\n") }

func (r *REPL) printPrompt() {
	status := "running"
	if r.isPaused() {
		status = "paused"
	}
	r.printf("(dbug:%s) ", status)
}

func (r *REPL) readLine() (string, error) { return r.reader.ReadString('\n') }

func (r *REPL) printf(format string, args ...interface{}) { fmt.Fprintf(r.writer, format, args...) }

func (r *REPL) executeCommand(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	command := parts[0]
	args := parts[1:]

	switch command {
	case "help", "h", "?":
		return r.cmdHelp(args)
	case "break", "b":
		return r.cmdBreak(args)
	case "clear", "cl":
		return r.cmdClear(args)
	case "enable", "en":
		return r.cmdEnable(args, true)
	case "disable", "dis":
		return r.cmdEnable(args, false)
	case "breakpoints", "bps":
		return r.cmdBreakpoints()
	case "continue", "c":
		return r.sess.SendCommand(ipc.Command{Kind: ipc.CmdContinue})
	case "step", "s":
		return r.sess.SendCommand(ipc.Command{Kind: ipc.CmdStepInto})
	case "next", "n":
		return r.sess.SendCommand(ipc.Command{Kind: ipc.CmdStepOver})
	case "out", "o":
		return r.sess.SendCommand(ipc.Command{Kind: ipc.CmdStepOut})
	case "print", "p", "eval", "e":
		return r.cmdEval(args)
	case "quit", "q", "exit":
		r.running = false
		return r.sess.SendCommand(ipc.Command{Kind: ipc.CmdQuit})
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", command)
	}
}

func (r *REPL) cmdHelp(args []string) error {
	r.printf("Available Commands:\n")
	r.printf("==================\n\n")
	r.printf("Breakpoint Management:\n")
	r.printf("  break, b <file:line>[ if <expr>][ count=<n>]   - set a breakpoint\n")
	r.printf("  clear, cl <id>                                 - clear breakpoint by id\n")
	r.printf("  enable, en <id>  / disable, dis <id>            - toggle a breakpoint\n")
	r.printf("  breakpoints, bps                                - list acknowledged breakpoints\n\n")
	r.printf("Execution Control:\n")
	r.printf("  continue, c  - resume until the next suspension\n")
	r.printf("  step, s      - step into the next call\n")
	r.printf("  next, n      - step over the current line\n")
	r.printf("  out, o       - step out of the current function\n\n")
	r.printf("Inspection:\n")
	r.printf("  print, p <expr>  / eval, e <expr>  - evaluate an expression in the current scope\n\n")
	r.printf("  quit, q, exit  - end the session\n")
	return nil
}

func (r *REPL) cmdBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break <file:line>[ if <expr>][ count=<n>]")
	}
	parsed, err := bpsyntax.Parse(strings.Join(args, " "))
	if err != nil {
		return err
	}
	ack, err := r.sess.SendCommandForAck(ipc.Command{
		Kind:      ipc.CmdSetBreakpoint,
		File:      parsed.File,
		Line:      parsed.Line,
		Condition: parsed.Condition,
		HitCount:  parsed.HitCount.String(),
	})
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("runtime rejected breakpoint")
	}
	r.printf("Breakpoint %d set at %s:%d\n", ack.BreakpointID, parsed.File, parsed.Line)
	return nil
}

func (r *REPL) cmdClear(args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	ack, err := r.sess.SendCommandForAck(ipc.Command{Kind: ipc.CmdClearBreakpoint, BreakpointID: id})
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("no such breakpoint: %d", id)
	}
	return nil
}

func (r *REPL) cmdEnable(args []string, enable bool) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	ack, err := r.sess.SendCommandForAck(ipc.Command{Kind: ipc.CmdEnableBreakpoint, BreakpointID: id, Enable: enable})
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("no such breakpoint: %d", id)
	}
	return nil
}

func (r *REPL) cmdBreakpoints() error {
	bps := r.sess.Breakpoints()
	if len(bps) == 0 {
		r.printf("no breakpoints set\n")
		return nil
	}
	for _, bp := range bps {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}
		r.printf("  #%d %s:%d %s (hits: %d)\n", bp.ID, bp.File, bp.Line, status, bp.TotalHits)
	}
	return nil
}

func (r *REPL) cmdEval(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print <expr>")
	}
	return r.sess.SendCommand(ipc.Command{Kind: ipc.CmdEvaluate, Expression: strings.Join(args, " ")})
}

func parseID(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one breakpoint id")
	}
	return strconv.Atoi(args[0])
}
