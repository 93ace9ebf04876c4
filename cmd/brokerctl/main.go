// brokerctl – the CLI client for the brokerd daemon.
//
// Usage:
//
//	brokerctl status                       – list known agents and their state
//	brokerctl start <agent>                – start an agent's PTY session
//	brokerctl stop <agent>                 – stop an agent's PTY session
//	brokerctl interrupt <agent>             – interrupt an in-flight request
//	brokerctl send <agent> "<prompt>"       – send a prompt and print the reply
//	brokerctl attach <agent>                – attach your terminal to an agent's PTY
//
// brokerctl does not start brokerd automatically; run brokerd separately (or
// let your service manager do it). Detach from an attached session with
// Ctrl-].
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ccbroker/broker/internal/config"
	"github.com/ccbroker/broker/internal/ctlproto"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		cmdStatus()
	case "start":
		cmdStart()
	case "stop":
		cmdStop()
	case "interrupt":
		cmdInterrupt()
	case "send":
		cmdSend()
	case "attach":
		cmdAttach()
	default:
		fmt.Fprintf(os.Stderr, "brokerctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `brokerctl - control the ccbroker daemon

  status                       List known agents and their state
  start <agent>                Start an agent's PTY session
  stop <agent>                 Stop an agent's PTY session
  interrupt <agent>            Interrupt an agent's in-flight request
  send <agent> "<prompt>"      Send a prompt and print the reply
  attach <agent>               Attach terminal to an agent (detach: Ctrl-])`)
}

func daemonSocket() string {
	root, err := config.Root()
	if err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
		os.Exit(1)
	}
	return filepath.Join(root, "brokerd.sock")
}

func mustRequest(req ctlproto.Request) ctlproto.Response {
	conn, err := net.Dial("unix", daemonSocket())
	if err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: cannot connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := writeRequest(conn, req); err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
		os.Exit(1)
	}

	resp, err := readResponse(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "brokerctl: %s\n", resp.Error)
		os.Exit(1)
	}
	return resp
}

func writeRequest(conn net.Conn, req ctlproto.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}

func readResponse(conn net.Conn) (ctlproto.Response, error) {
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ctlproto.Response{}, err
		}
		return ctlproto.Response{}, fmt.Errorf("daemon closed connection without responding")
	}
	var resp ctlproto.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return ctlproto.Response{}, fmt.Errorf("bad response: %w", err)
	}
	return resp, nil
}

func cmdStatus() {
	resp := mustRequest(ctlproto.Request{Type: ctlproto.ReqStatus})
	if len(resp.Agents) == 0 {
		fmt.Println("no agents configured")
		return
	}
	fmt.Printf("%-16s  %s\n", "AGENT", "STATE")
	fmt.Printf("%-16s  %s\n", "----------------", "-----")
	for _, a := range resp.Agents {
		fmt.Printf("%-16s  %s\n", a.Name, a.State)
	}
}

func cmdStart() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: brokerctl start <agent>")
		os.Exit(1)
	}
	mustRequest(ctlproto.Request{Type: ctlproto.ReqStart, Agent: os.Args[2]})
	fmt.Printf("started %s\n", os.Args[2])
}

func cmdStop() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: brokerctl stop <agent>")
		os.Exit(1)
	}
	mustRequest(ctlproto.Request{Type: ctlproto.ReqStop, Agent: os.Args[2]})
	fmt.Printf("stopped %s\n", os.Args[2])
}

func cmdInterrupt() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: brokerctl interrupt <agent>")
		os.Exit(1)
	}
	mustRequest(ctlproto.Request{Type: ctlproto.ReqInterrupt, Agent: os.Args[2]})
	fmt.Printf("interrupted %s\n", os.Args[2])
}

func cmdSend() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, `usage: brokerctl send <agent> "<prompt>"`)
		os.Exit(1)
	}
	resp := mustRequest(ctlproto.Request{Type: ctlproto.ReqSend, Agent: os.Args[2], Prompt: os.Args[3]})
	fmt.Println(resp.Reply)
}

func cmdAttach() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: brokerctl attach <agent>")
		os.Exit(1)
	}
	agentName := os.Args[2]

	conn, err := net.Dial("unix", daemonSocket())
	if err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: cannot connect to daemon: %v\n", err)
		os.Exit(1)
	}

	if err := writeRequest(conn, ctlproto.Request{Type: ctlproto.ReqAttach, Agent: agentName}); err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
		os.Exit(1)
	}

	resp, err := readResponse(conn)
	if err != nil || !resp.OK {
		msg := "attach failed"
		if err != nil {
			msg = err.Error()
		} else if resp.Error != "" {
			msg = resp.Error
		}
		fmt.Fprintf(os.Stderr, "brokerctl: %s\n", msg)
		conn.Close()
		os.Exit(1)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: cannot set raw mode: %v\n", err)
		conn.Close()
		os.Exit(1)
	}
	defer term.Restore(fd, oldState)

	fmt.Fprintf(os.Stdout, "\r\n[brokerctl] attached to %s  (detach: Ctrl-])\r\n", agentName)

	done := make(chan struct{}, 1)
	signalDone := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	go func() {
		io.Copy(os.Stdout, conn)
		signalDone()
	}()

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for i := 0; i < n; i++ {
					if buf[i] == 0x1D {
						_ = ctlproto.WriteFrame(conn, ctlproto.AttachFrameDetach, nil)
						signalDone()
						return
					}
				}
				_ = ctlproto.WriteFrame(conn, ctlproto.AttachFrameData, buf[:n])
			}
			if err != nil {
				signalDone()
				return
			}
		}
	}()

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	go func() {
		for range winchCh {
			if cols, rows, err := term.GetSize(fd); err == nil {
				_ = ctlproto.WriteFrame(conn, ctlproto.AttachFrameResize, ctlproto.ResizePayload(uint16(cols), uint16(rows)))
			}
		}
	}()
	if cols, rows, err := term.GetSize(fd); err == nil {
		_ = ctlproto.WriteFrame(conn, ctlproto.AttachFrameResize, ctlproto.ResizePayload(uint16(cols), uint16(rows)))
	}

	<-done
	conn.Close()
}
