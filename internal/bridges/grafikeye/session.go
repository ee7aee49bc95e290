package grafikeye

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Link defaults.
const (
	// DefaultPort is the telnet port of the controller's network interface.
	DefaultPort = 23

	// DefaultLogin is the factory login token of the network interface.
	DefaultLogin = "nwk2"

	defaultConnectTimeout = 10 * time.Second
	defaultLoginTimeout   = 5 * time.Second
	defaultReadTimeout    = 2 * time.Second
	defaultWriteTimeout   = 5 * time.Second

	// maxResponseLength bounds a single ReadUntil. The longest legitimate
	// response is the login banner; anything larger means lost framing.
	maxResponseLength = 8 * 1024

	readChunkSize = 256
)

// Handshake and framing strings.
const (
	lineTerminator       = "\r\n"
	promptLogin          = "login: "
	bannerEstablished    = "connection established\r\n"
	replyLoginIncorrect  = "login incorrect"
	replyConnectionInUse = "connection in use"
)

// SessionOptions holds per-operation deadlines for a Session.
// Zero values select the defaults.
type SessionOptions struct {
	ConnectTimeout time.Duration
	LoginTimeout   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = defaultLoginTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// Session is one telnet connection to the controller's network interface.
//
// Inbound telnet option negotiation is stripped from the byte stream and
// every option is declined, so the line reader only ever sees protocol text.
//
// Thread Safety:
//   - Writes are serialised by a single lock; lines never interleave.
//   - Reads are serialised separately so a poll read does not block writes.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   SessionOptions

	writeMu sync.Mutex
	readMu  sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open dials host:port and returns a session ready for Login.
//
// Parameters:
//   - ctx: Context for cancellation of the dial
//   - host: Controller hostname or IP address
//   - port: TCP port (0 selects DefaultPort)
//   - opts: Deadlines for subsequent operations
//
// Returns:
//   - *Session: Open session
//   - error: ErrConnectionFailed on refusal, timeout or DNS failure
func Open(ctx context.Context, host string, port int, opts SessionOptions) (*Session, error) {
	if port == 0 {
		port = DefaultPort
	}
	opts = opts.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s:%d: %w", ErrConnectionFailed, host, port, err)
	}

	return newSession(conn, opts), nil
}

func newSession(conn net.Conn, opts SessionOptions) *Session {
	s := &Session{
		conn: conn,
		opts: opts.withDefaults(),
	}
	s.reader = bufio.NewReader(&telnetReader{
		src:    conn,
		refuse: s.refuseOption,
		buf:    make([]byte, readChunkSize),
	})
	return s
}

// Login performs the fixed handshake: wait for "login: ", send the token,
// then wait for "connection established\r\n".
//
// The controller answers a bad token or a second client with an explanation
// followed by a fresh "login: " prompt, so either marker ends the wait.
//
// Returns:
//   - LoginResult: LoginOK, LoginIncorrectCredentials or LoginConnectionInUse
//   - error: Transport failure or timeout before the handshake completed
func (s *Session) Login(ctx context.Context, token string) (LoginResult, error) {
	deadline := time.Now().Add(s.opts.LoginTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// Unblock reads if ctx is cancelled mid-handshake.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, err := s.readUntilAny(ctx, deadline, promptLogin); err != nil {
		return LoginOK, loginErr(ctx, "waiting for login prompt", err)
	}

	if err := s.WriteLine(token); err != nil {
		return LoginOK, err
	}

	resp, err := s.readUntilAny(ctx, deadline, bannerEstablished, promptLogin)
	if err != nil {
		return LoginOK, loginErr(ctx, "waiting for login confirmation", err)
	}

	return classifyLogin(resp), nil
}

func loginErr(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", step, ctxErr)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// classifyLogin maps the handshake text to a LoginResult.
func classifyLogin(resp string) LoginResult {
	switch {
	case strings.Contains(resp, replyLoginIncorrect):
		return LoginIncorrectCredentials
	case strings.Contains(resp, replyConnectionInUse):
		return LoginConnectionInUse
	case strings.HasSuffix(resp, promptLogin):
		// Re-prompted without a reason: the token was not accepted.
		return LoginIncorrectCredentials
	default:
		return LoginOK
	}
}

// WriteLine writes text followed by "\r\n".
//
// A closed stream, reset or broken pipe is returned as ErrWriteFailed; the
// runtime never raises SIGPIPE for socket writes.
func (s *Session) WriteLine(text string) error {
	return s.writeRaw([]byte(text + lineTerminator))
}

func (s *Session) writeRaw(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrWriteFailed, ErrSessionClosed)
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrWriteFailed, err)
	}
	if _, err := s.conn.Write(p); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// ReadUntil blocks until delim has been read and returns everything up to
// and including it.
//
// Returns ErrReadTimeout if the read deadline passes first (the session is
// still usable) and ErrReadFailed if the stream closed or errored.
func (s *Session) ReadUntil(delim string) (string, error) {
	return s.readUntilAny(context.Background(), time.Now().Add(s.opts.ReadTimeout), delim)
}

// readUntilAny reads until one of delims. Setting the deadline would undo the
// immediate deadline a cancelled ctx installs, so ctx is checked after it.
func (s *Session) readUntilAny(ctx context.Context, deadline time.Time, delims ...string) (string, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.closed.Load() {
		return "", fmt.Errorf("%w: %w", ErrReadFailed, ErrSessionClosed)
	}

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: set deadline: %w", ErrReadFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	var buf []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return string(buf), s.classifyReadErr(err)
		}
		buf = append(buf, b)

		for _, d := range delims {
			if bytes.HasSuffix(buf, []byte(d)) {
				return string(buf), nil
			}
		}

		if len(buf) > maxResponseLength {
			return string(buf), fmt.Errorf("%w: no delimiter within %d bytes", ErrReadFailed, maxResponseLength)
		}
	}
}

func (s *Session) classifyReadErr(err error) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrReadFailed, ErrSessionClosed)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrReadTimeout, err)
	}

	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: connection closed by peer", ErrReadFailed)
	}
	return fmt.Errorf("%w: %w", ErrReadFailed, err)
}

// Drain discards bytes that have already arrived but were not consumed by
// the last read, and returns how many were dropped. It never blocks.
func (s *Session) Drain() int {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	n, _ := s.reader.Discard(s.reader.Buffered())
	return n
}

// RemoteAddr returns the controller's address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Close closes the connection. Blocked reads and writes return immediately.
// Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// refuseOption declines an option the controller asked for or offered.
// Write errors are ignored here; the next command write reports them.
func (s *Session) refuseOption(verb, option byte) {
	var reply byte
	switch verb {
	case telnetDO:
		reply = telnetWONT
	case telnetWILL:
		reply = telnetDONT
	default:
		return
	}
	_ = s.writeRaw([]byte{telnetIAC, reply, option})
}

// Telnet command bytes (RFC 854).
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
)

type telnetParseState int

const (
	telnetData telnetParseState = iota
	telnetCommand
	telnetOption
	telnetSubneg
	telnetSubnegIAC
)

// telnetReader strips IAC sequences from src and reports option requests
// through refuse. Escaped 0xFF bytes are passed through.
type telnetReader struct {
	src    io.Reader
	refuse func(verb, option byte)
	buf    []byte

	state telnetParseState
	verb  byte
}

func (t *telnetReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n := min(len(p), len(t.buf))
		m, err := t.src.Read(t.buf[:n])
		out := t.filter(p, t.buf[:m])
		if out > 0 || err != nil {
			return out, err
		}
	}
}

// filter copies data bytes from src to dst and returns how many were copied.
// dst must be at least as long as src.
func (t *telnetReader) filter(dst, src []byte) int {
	n := 0
	for _, b := range src {
		switch t.state {
		case telnetData:
			if b == telnetIAC {
				t.state = telnetCommand
				continue
			}
			dst[n] = b
			n++
		case telnetCommand:
			switch b {
			case telnetIAC:
				dst[n] = b
				n++
				t.state = telnetData
			case telnetDO, telnetDONT, telnetWILL, telnetWONT:
				t.verb = b
				t.state = telnetOption
			case telnetSB:
				t.state = telnetSubneg
			default:
				t.state = telnetData
			}
		case telnetOption:
			if t.refuse != nil {
				t.refuse(t.verb, b)
			}
			t.state = telnetData
		case telnetSubneg:
			if b == telnetIAC {
				t.state = telnetSubnegIAC
			}
		case telnetSubnegIAC:
			if b == telnetSE {
				t.state = telnetData
			} else {
				t.state = telnetSubneg
			}
		}
	}
	return n
}
