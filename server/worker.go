package server

import (
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"
)

// readBufferSize bounds each recv, matching spec.md §6's "reads up to
// 1024 bytes per recv; commands are expected to fit." There is no
// cross-read line buffering: one recv is treated as one command line,
// exactly like server.py's handle_client_connection.
const readBufferSize = 1024

// worker owns one connection end to end: read a command, dispatch it,
// write the reply, repeat until the client disconnects or sends
// EXIT. It carries no state of its own beyond the connection and a
// logger — all command state lives in the store and cache manager,
// per spec.md §4.6.
type worker struct {
	conn       net.Conn
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func newWorker(conn net.Conn, dispatcher *Dispatcher, logger *slog.Logger) *worker {
	connID := uuid.NewString()
	return &worker{
		conn:       conn,
		dispatcher: dispatcher,
		logger:     logger.With("conn_id", connID, "remote_addr", conn.RemoteAddr().String()),
	}
}

// run reads and serves commands until the connection closes. It never
// returns an error: a read failure ends the loop like a client close,
// and a write failure is logged and ends it too.
func (w *worker) run() {
	defer w.conn.Close()
	w.logger.Info("connection accepted")

	buf := make([]byte, readBufferSize)
	for {
		n, err := w.conn.Read(buf)
		if n == 0 {
			break // client closed, or a read error — either way, stop
		}

		line := strings.TrimSpace(string(buf[:n]))
		if line != "" {
			reply, wantClose := w.dispatcher.Dispatch(line)
			if _, werr := w.conn.Write([]byte(reply + "\n")); werr != nil {
				w.logger.Warn("write failed, closing connection", "error", werr)
				return
			}
			if wantClose {
				break
			}
		}
		if err != nil {
			break
		}
	}
	w.logger.Info("connection closed")
}
