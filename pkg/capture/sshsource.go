package capture

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHSource is a Source for capture appliances that expose their
// recordings only as files over SSH (no HTTP export): it pulls the
// current keyframe and newly-finished HLS segments straight out of the
// appliance's export directory. The dial/session/close lifecycle follows
// the teacher's device-tunnel idiom; one cached client, one session per
// command, redial on failure.
type SSHSource struct {
	addr, user, pass string
	remoteDir        string

	mu     sync.Mutex
	client *ssh.Client

	// run executes a remote command and returns its stdout. Overridable
	// so tests can stand in for a live appliance.
	run func(cmd string) ([]byte, error)

	frameSeq  int
	segSeq    int
	frameTick *time.Ticker
	segTick   *time.Ticker
}

// NewSSHSource creates a source reading from remoteDir on addr. Frames
// are pulled at the source rate (~5 fps), segments once a second (§4.9).
func NewSSHSource(addr, user, pass, remoteDir string) *SSHSource {
	s := &SSHSource{
		addr:      addr,
		user:      user,
		pass:      pass,
		remoteDir: remoteDir,
		frameTick: time.NewTicker(200 * time.Millisecond),
		segTick:   time.NewTicker(time.Second),
	}
	s.run = s.runRemote
	return s
}

func (s *SSHSource) connect() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	config := &ssh.ClientConfig{
		User:            s.user,
		Auth:            []ssh.AuthMethod{ssh.Password(s.pass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	client, err := ssh.Dial("tcp", s.addr, config)
	if err != nil {
		return nil, fmt.Errorf("capture: SSH dial %s@%s: %w", s.user, s.addr, err)
	}
	s.client = client
	return client, nil
}

// runRemote runs one command on the appliance. A failed session drops the
// cached client so the next call redials instead of reusing a dead
// connection.
func (s *SSHSource) runRemote(cmd string) ([]byte, error) {
	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		s.dropClient()
		return nil, fmt.Errorf("capture: SSH session on %s: %w", s.addr, err)
	}
	defer session.Close()

	out, err := session.Output(cmd)
	if err != nil {
		return nil, fmt.Errorf("capture: remote %q on %s: %w", cmd, s.addr, err)
	}
	return out, nil
}

func (s *SSHSource) dropClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

// NextFrame waits for the next frame tick and pulls the appliance's
// current keyframe.
func (s *SSHSource) NextFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.frameTick.C:
	}
	out, err := s.run(fmt.Sprintf("cat %q", path.Join(s.remoteDir, "frame.jpg")))
	if err != nil {
		return Frame{}, err
	}
	s.frameSeq++
	return Frame{Sequence: s.frameSeq, Timestamp: time.Now(), JPEG: out}, nil
}

var segmentNameRe = regexp.MustCompile(`^segment_(\d+)\.ts$`)

// latestSegment scans an ls listing for the highest-numbered
// segment_<N>.ts past after. ok is false when nothing newer has landed.
func latestSegment(listing []byte, after int) (name string, seq int, ok bool) {
	best := after
	for _, line := range strings.Split(string(listing), "\n") {
		line = strings.TrimRight(line, "\r")
		m := segmentNameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= best {
			continue
		}
		best = n
		name = line
	}
	return name, best, best > after
}

// NextSegment waits for the next second boundary, then pulls the newest
// segment the appliance has finished since the last read. Ticks with no
// new segment are skipped rather than re-reading an old one.
func (s *SSHSource) NextSegment(ctx context.Context) (Segment, error) {
	for {
		select {
		case <-ctx.Done():
			return Segment{}, ctx.Err()
		case <-s.segTick.C:
		}

		listing, err := s.run(fmt.Sprintf("ls -1 %q", s.remoteDir))
		if err != nil {
			return Segment{}, err
		}
		name, seq, ok := latestSegment(listing, s.segSeq)
		if !ok {
			continue
		}
		data, err := s.run(fmt.Sprintf("cat %q", path.Join(s.remoteDir, name)))
		if err != nil {
			return Segment{}, err
		}
		s.segSeq = seq
		return Segment{Sequence: seq, Data: data}, nil
	}
}

// Close tears down the SSH connection and stops the tickers.
func (s *SSHSource) Close() error {
	s.frameTick.Stop()
	s.segTick.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
