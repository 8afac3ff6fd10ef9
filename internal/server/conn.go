package server

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/fastprodman/moneyexchange/internal/ledger"
	"github.com/fastprodman/moneyexchange/internal/services/exchange"
	"github.com/fastprodman/moneyexchange/internal/wire"
)

// connState is the per-connection protocol position. The command loop is an
// explicit state machine so the ordering contract (supplement before
// signature before dispatch) is testable on its own.
type connState int

const (
	stateAwaitCommand connState = iota
	stateAwaitSupplement
	stateAwaitSignature
	stateDispatch
	stateRespond
)

// session is one authenticated connection's execution unit.
type session struct {
	srv      *Server
	codec    *wire.Codec
	username string

	// loop-carried between states
	state    connState
	line     string
	isTx     bool
	record   *ledger.SignedRecord
	response string
}

// handle owns the connection end to end. Failures are fatal to this session
// only: the username is released, the connection closed, the process and
// every other session untouched.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("session panic", "remote", conn.RemoteAddr(), "panic", r)
		}
	}()

	codec := wire.NewCodec(conn)

	res, err := s.auth.Handshake(codec)
	if err != nil {
		slog.Warn("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	defer s.sessions.Release(res.Username, res.SessionID)

	if res.New {
		if err := s.register(res.Username); err != nil {
			slog.Error("register account", "user", res.Username, "err", err)
			return
		}
	}

	sess := &session{
		srv:      s,
		codec:    codec,
		username: res.Username,
	}

	if err := sess.run(res.PublicKey); err != nil {
		slog.Info("session ended", "user", res.Username, "err", err)
		return
	}

	slog.Info("session closed", "user", res.Username)
}

// register creates the account for a first-contact user under the combined
// critical section.
func (s *Server) register(username string) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if err := s.store.Users.Load(); err != nil {
		return err
	}

	return s.svc.Register(username)
}

// run drives the command loop state machine until the exit command or an
// I/O failure.
func (sess *session) run(pub *rsa.PublicKey) error {
	sess.state = stateAwaitCommand

	for {
		var err error

		switch sess.state {
		case stateAwaitCommand:
			var done bool
			done, err = sess.awaitCommand()
			if done {
				return nil
			}

		case stateAwaitSupplement:
			err = sess.sendSupplement()

		case stateAwaitSignature:
			err = sess.readSignature(pub)

		case stateDispatch:
			err = sess.dispatch()

		case stateRespond:
			err = sess.respond()
		}

		if err != nil {
			return err
		}
	}
}

// awaitCommand reads the next command line and decides the path through the
// state machine. Reports done for the exit command.
func (sess *session) awaitCommand() (bool, error) {
	raw, err := sess.codec.ReadString()
	if err != nil {
		return false, fmt.Errorf("read command: %w", err)
	}

	sess.line = strings.ToLower(strings.TrimSpace(raw))
	sess.record = nil
	sess.isTx = exchange.IsTransactionShaped(sess.line)

	if exchange.IsExit(sess.line) {
		return true, nil
	}

	switch {
	case isQRConfirm(sess.line):
		sess.state = stateAwaitSupplement
	case sess.isTx:
		sess.state = stateAwaitSignature
	default:
		sess.state = stateDispatch
	}

	return false, nil
}

// sendSupplement answers a well-formed confirmqrcode with the code's
// "creator-amount" lookup (or "null-null") before the command proceeds.
func (sess *session) sendSupplement() error {
	id, _ := exchange.QRLookupID(sess.line)

	sess.srv.stateMu.Lock()
	qr := sess.srv.store.QRCodes.Get(id)
	sess.srv.stateMu.Unlock()

	supplement := "null-null"
	if qr != nil {
		supplement = fmt.Sprintf("%s-%v", qr.CreatorID, qr.Amount)
	}

	if err := sess.codec.WriteString(supplement); err != nil {
		return fmt.Errorf("send qr supplement: %w", err)
	}

	if sess.isTx {
		sess.state = stateAwaitSignature
	} else {
		sess.state = stateDispatch
	}

	return nil
}

// readSignature collects the client's signed "receiver-amount" record for a
// transaction-shaped command and verifies it against the session's
// authenticated key. A failed verification sends a failure status but keeps
// the connection: the command still dispatches, it just cannot produce a
// ledger entry.
func (sess *session) readSignature(pub *rsa.PublicKey) error {
	marker, err := sess.codec.ReadString()
	if err != nil {
		return fmt.Errorf("read validity marker: %w", err)
	}

	if marker != "valid" {
		sess.state = stateDispatch
		return nil
	}

	payload, err := sess.codec.ReadBytes()
	if err != nil {
		return fmt.Errorf("read record payload: %w", err)
	}

	sig, err := sess.codec.ReadBytes()
	if err != nil {
		return fmt.Errorf("read record signature: %w", err)
	}

	rec := ledger.SignedRecord{Payload: payload, Signature: sig}

	if err := rec.Verify(pub); err != nil {
		slog.Warn("transaction record rejected", "user", sess.username, "err", err)

		if err := sess.codec.WriteStatus(false); err != nil {
			return fmt.Errorf("send verification status: %w", err)
		}

		sess.state = stateDispatch

		return nil
	}

	if err := sess.codec.WriteStatus(true); err != nil {
		return fmt.Errorf("send verification status: %w", err)
	}

	sess.record = &rec
	sess.state = stateDispatch

	return nil
}

// dispatch runs the command under the combined critical section: re-read
// catalogs from disk, execute, persist. The save happens before the response
// leaves, so a client that sees success knows the mutation is on disk.
func (sess *session) dispatch() error {
	sess.srv.stateMu.Lock()
	defer sess.srv.stateMu.Unlock()

	if err := sess.srv.store.LoadAll(); err != nil {
		return fmt.Errorf("refresh catalogs: %w", err)
	}

	response, err := sess.srv.svc.Dispatch(sess.username, sess.line)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	if err := sess.srv.store.SaveAll(); err != nil {
		return fmt.Errorf("persist catalogs: %w", err)
	}

	sess.response = response
	sess.state = stateRespond

	return nil
}

// respond sends the result and, for a successfully executed transaction
// with a verified record, appends to the ledger. The append runs outside
// the catalog critical section; the ledger serializes itself.
func (sess *session) respond() error {
	if err := sess.codec.WriteString(sess.response); err != nil {
		return fmt.Errorf("send response: %w", err)
	}

	slog.Info("command handled", "user", sess.username, "command", sess.line)

	if sess.isTx && sess.record != nil && !strings.HasPrefix(sess.response, exchange.ErrorPrefix) {
		if err := sess.appendToLedger(); err != nil {
			return fmt.Errorf("ledger append: %w", err)
		}
	}

	sess.state = stateAwaitCommand

	return nil
}

// appendToLedger derives receiver and amount from the verified signed
// payload ("receiver-amount") and records the transaction.
func (sess *session) appendToLedger() error {
	receiver, amountStr, ok := strings.Cut(string(sess.record.Payload), "-")
	if !ok {
		return errors.New("signed payload is not receiver-amount")
	}

	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return fmt.Errorf("parse signed amount: %w", err)
	}

	return sess.srv.ledger.Append(sess.username, receiver, amount, *sess.record)
}

func isQRConfirm(line string) bool {
	_, ok := exchange.QRLookupID(line)
	return ok
}
