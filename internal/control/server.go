package control

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/revjunkie/nexus7/internal/config"
	"github.com/revjunkie/nexus7/internal/hotplug"

	"github.com/sirupsen/logrus"
)

// Engine is the controller surface the socket exposes.
type Engine interface {
	SetDisabled(disabled bool)
	Suspend()
	Resume()
	Status() hotplug.Status
}

// Server answers a line protocol on a unix socket:
//
//	get <field>          -> current value
//	set <field> <value>  -> value after the write (unchanged if rejected)
//	fields               -> known tunable names
//	disable | enable     -> ok
//	suspend | resume     -> ok (wired to the system-sleep hook)
//	status               -> one-line key=value summary
//
// Unknown commands and fields answer "err ...". One reply per line,
// connections are served until the peer closes.
type Server struct {
	socket string
	engine Engine
	tuning *config.Store
	logger logrus.FieldLogger

	ln net.Listener
	wg sync.WaitGroup
}

func New(socket string, engine Engine, tuning *config.Store, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{socket: socket, engine: engine, tuning: tuning, logger: logger}
}

func (s *Server) Start() error {
	// A stale socket from an unclean shutdown blocks the bind.
	if err := os.Remove(s.socket); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale control socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}
	s.ln = ln
	s.logger.WithField("socket", s.socket).Info("Control socket listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) Stop() {
	if s.ln == nil {
		return
	}
	s.ln.Close()
	s.wg.Wait()
	os.Remove(s.socket)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply := s.execute(scanner.Text())
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) execute(line string) string {
	args := strings.Fields(line)
	if len(args) == 0 {
		return "err empty command"
	}

	switch args[0] {
	case "get":
		if len(args) != 2 {
			return "err usage: get <field>"
		}
		v, ok := s.tuning.Get(args[1])
		if !ok {
			return fmt.Sprintf("err unknown field %s", args[1])
		}
		return strconv.FormatUint(uint64(v), 10)

	case "set":
		if len(args) != 3 {
			return "err usage: set <field> <value>"
		}
		if _, ok := s.tuning.Get(args[1]); !ok {
			return fmt.Sprintf("err unknown field %s", args[1])
		}
		// Unparseable and out-of-range values are rejected the same
		// way: the reply is whatever the field holds afterwards.
		val, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			v, _ := s.tuning.Get(args[1])
			return strconv.FormatUint(uint64(v), 10)
		}
		v, _ := s.tuning.Set(args[1], uint(val))
		return strconv.FormatUint(uint64(v), 10)

	case "fields":
		return strings.Join(config.FieldNames, " ")

	case "disable":
		s.engine.SetDisabled(true)
		return "ok"

	case "enable":
		s.engine.SetDisabled(false)
		return "ok"

	case "suspend":
		s.engine.Suspend()
		return "ok"

	case "resume":
		s.engine.Resume()
		return "ok"

	case "status":
		st := s.engine.Status()
		return fmt.Sprintf(
			"online=%d/%d avg=%d sample=%d disabled=%t paused=%t suspended=%t offline_pending=%t",
			st.Online, st.MaxPossible, st.Average, st.LastSample,
			st.Disabled, st.Paused, st.Suspended, st.OfflinePending,
		)
	}

	return fmt.Sprintf("err unknown command %s", args[0])
}
