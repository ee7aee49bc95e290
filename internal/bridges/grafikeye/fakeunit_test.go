package grafikeye

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeGrafikEye is a minimal network interface speaking the login handshake
// and answering "G" with a status line.
type fakeGrafikEye struct {
	t        *testing.T
	listener net.Listener

	login     string
	inUse     bool
	negotiate []byte // sent ahead of the login prompt

	mu          sync.Mutex
	status      string
	statusReply string // sent verbatim in place of ":ss <status>\r\n" when set
	silent      bool
	lines       []string
	replies     []byte // telnet option replies received from the client
	conns       []net.Conn
	connections int
}

func newFakeGrafikEye(t *testing.T) *fakeGrafikEye {
	t.Helper()
	return newFakeGrafikEyeWith(t, nil)
}

// newFakeGrafikEyeWith applies configure before the fake starts accepting.
func newFakeGrafikEyeWith(t *testing.T, configure func(*fakeGrafikEye)) *fakeGrafikEye {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	f := &fakeGrafikEye{
		t:        t,
		listener: listener,
		login:    DefaultLogin,
		status:   "00000000",
	}
	if configure != nil {
		configure(f)
	}
	go f.acceptLoop()

	t.Cleanup(f.Close)
	return f
}

func (f *fakeGrafikEye) acceptLoop() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.connections++
		f.mu.Unlock()
		go f.serve(conn)
	}
}

func (f *fakeGrafikEye) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	if len(f.negotiate) > 0 {
		if _, err := conn.Write(f.negotiate); err != nil {
			return
		}
	}

	// Handshake
	for {
		if _, err := conn.Write([]byte(promptLogin)); err != nil {
			return
		}
		token, ok := f.readLine(r)
		if !ok {
			return
		}
		switch {
		case token != f.login:
			conn.Write([]byte(replyLoginIncorrect + "\r\n"))
		case f.inUse:
			conn.Write([]byte(replyConnectionInUse + "\r\n"))
		default:
			if _, err := conn.Write([]byte("\r\n" + bannerEstablished)); err != nil {
				return
			}
			f.commandLoop(conn, r)
			return
		}
	}
}

func (f *fakeGrafikEye) commandLoop(conn net.Conn, r *bufio.Reader) {
	for {
		line, ok := f.readLine(r)
		if !ok {
			return
		}

		f.mu.Lock()
		f.lines = append(f.lines, line)
		silent := f.silent
		reply := f.statusReply
		if reply == "" {
			reply = ":ss " + f.status + "\r\n"
		}
		f.mu.Unlock()

		if line == commandStatus && !silent {
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
	}
}

// readLine reads one "\r\n" terminated line, recording and removing any
// telnet option replies in front of it.
func (f *fakeGrafikEye) readLine(r *bufio.Reader) (string, bool) {
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", false
		}
		if b == telnetIAC {
			verb, err1 := r.ReadByte()
			opt, err2 := r.ReadByte()
			if err1 != nil || err2 != nil {
				return "", false
			}
			f.mu.Lock()
			f.replies = append(f.replies, telnetIAC, verb, opt)
			f.mu.Unlock()
			continue
		}
		line = append(line, b)
		if n := len(line); n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
			return string(line[:n-2]), true
		}
	}
}

func (f *fakeGrafikEye) host() string {
	return "127.0.0.1"
}

func (f *fakeGrafikEye) port() int {
	_, p, _ := net.SplitHostPort(f.listener.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

func (f *fakeGrafikEye) setStatus(s string) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeGrafikEye) setSilent(silent bool) {
	f.mu.Lock()
	f.silent = silent
	f.mu.Unlock()
}

func (f *fakeGrafikEye) receivedLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

func (f *fakeGrafikEye) receivedReplies() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.replies...)
}

func (f *fakeGrafikEye) connectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connections
}

// dropConnections closes every accepted connection but keeps listening.
func (f *fakeGrafikEye) dropConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func (f *fakeGrafikEye) Close() {
	f.listener.Close()
	f.dropConnections()
}

// hasLine reports whether the fake received line.
func (f *fakeGrafikEye) hasLine(line string) bool {
	for _, l := range f.receivedLines() {
		if l == line {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
