package toolrpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// StdIO implements a standard input/output transport using newline-delimited
// JSON frames over an io.Reader/io.Writer pair. It provides a single
// persistent session and handles bidirectional message passing through
// internal channels, processing messages sequentially.
//
// The same value serves as either ServerTransport or ClientTransport. Proper
// initialization requires using the NewStdIO constructor.
type StdIO struct {
	sess   stdIOSession
	closed chan struct{}
}

type stdIOSession struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeFrames chan stdIOFrame
	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
}

type stdIOFrame struct {
	data []byte
	errs chan error
}

// NewStdIO creates a new StdIO instance configured with the provided reader
// and writer.
func NewStdIO(reader io.Reader, writer io.Writer) StdIO {
	return StdIO{
		sess: stdIOSession{
			reader:      reader,
			writer:      writer,
			logger:      slog.Default(),
			writeFrames: make(chan stdIOFrame),
			done:        make(chan struct{}),
			readClosed:  make(chan struct{}),
			writeClosed: make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
}

// Sessions implements the ServerTransport interface by providing an iterator
// that yields a single persistent session. This session remains active
// throughout the lifetime of the StdIO instance.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteFrames()

		// StdIO only supports a single session, so we yield it and wait
		// until it's done.
		yield(s.sess)
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface by waiting for the
// session to close.
func (s StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

// StartSession implements the ClientTransport interface. The pipe is ready
// as soon as the write loop runs.
func (s StdIO) StartSession(_ context.Context) (Session, error) {
	go s.sess.processWriteFrames()
	return s.sess, nil
}

func (s stdIOSession) ID() string {
	return uuid.New().String()
}

func (s stdIOSession) Send(ctx context.Context, msg Message) error {
	msgBs, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	frame := stdIOFrame{
		data: msgBs,
		errs: make(chan error, 1),
	}

	// Queue the frame so writes never interleave on the shared writer.
	select {
	case <-ctx.Done():
		s.logger.Error("failed to feed writeFrames channel", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while feeding writeFrames channel", slog.String("message", string(msgBs)))
		return nil
	case s.writeFrames <- frame:
	}

	// Wait for the resulting error channel to receive the error.
	select {
	case err := <-frame.errs:
		if err != nil {
			s.logger.Error("get error result from write", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		s.logger.Error("failed to wait for write result", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while waiting for write result", slog.String("message", string(msgBs)))
		return nil
	}
}

func (s stdIOSession) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		defer close(s.readClosed)

		// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			type lineWithErr struct {
				line string
				err  error
			}

			lines := make(chan lineWithErr)

			// Read in a goroutine so we can still honor the done channel
			// while blocked on a slow reader.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					select {
					case lines <- lineWithErr{err: err}:
					default:
					}
					return
				}
				select {
				case lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}:
				default:
				}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			if lwe.err != nil {
				if errors.Is(lwe.err, io.EOF) {
					return
				}
				s.logger.Error("failed to read frame", "err", lwe.err)
				return
			}

			if lwe.line == "" {
				continue
			}

			msg, err := decodeMessage([]byte(lwe.line))
			if err != nil {
				// A malformed frame poisons only this connection.
				s.logger.Error("closing session on malformed frame", "err", err)
				return
			}

			// We stop iteration if yield returns false
			if !yield(msg) {
				return
			}
		}
	}
}

func (s stdIOSession) Stop() {
	close(s.done)
	<-s.readClosed
	<-s.writeClosed
}

func (s stdIOSession) processWriteFrames() {
	defer close(s.writeClosed)

	for {
		// Process the write queue until the session is closed.
		var frame stdIOFrame
		select {
		case <-s.done:
			return
		case frame = <-s.writeFrames:
		}

		_, err := s.writer.Write(frame.data)
		if err != nil {
			err = fmt.Errorf("failed to write frame: %w", err)
		}

		frame.errs <- err
	}
}
