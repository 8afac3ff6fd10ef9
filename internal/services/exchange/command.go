package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// IncorrectArgsMessage is the fixed advisory for a wrong argument count.
	IncorrectArgsMessage = "Provide a correct number of arguments!"

	wrongTypeMessage      = "Error: Please insert the correct type of arguments!"
	unknownCommandMessage = "Error: Please insert a valid command."

	// ErrorPrefix marks application-level failures in result strings; a
	// response carrying it never reaches the ledger.
	ErrorPrefix = "Error:"
)

// IsExit reports whether a (lowercased) command line ends the session.
func IsExit(line string) bool {
	return line == "e" || line == "exit"
}

// IsTransactionShaped reports whether a command line has the shape of a
// money-moving transaction, for which the client must also present a signed
// "receiver-amount" record: makepayment with a decimal amount, payrequest or
// confirmqrcode with an integer id.
func IsTransactionShaped(line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "m", "makepayment":
		if len(args) != 3 {
			return false
		}
		_, err := strconv.ParseFloat(args[2], 64)
		return err == nil

	case "p", "payrequest", "c", "confirmqrcode":
		if len(args) != 2 {
			return false
		}
		_, err := strconv.ParseInt(args[1], 10, 64)
		return err == nil
	}

	return false
}

// QRLookupID extracts the id from a well-formed confirmqrcode command; the
// server answers such commands with a supplementary "creator-amount" lookup
// before the command is dispatched.
func QRLookupID(line string) (int64, bool) {
	args := strings.Fields(line)
	if len(args) != 2 {
		return 0, false
	}

	if args[0] != "c" && args[0] != "confirmqrcode" {
		return 0, false
	}

	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// Dispatch parses a lowercased command line and executes it on behalf of
// actor. Expected misuse (bad arity, bad argument types, application
// failures) comes back as a result string, never as an error; a non-nil
// error means infrastructure failure and is fatal to the session.
func (s *Service) Dispatch(actor, line string) (string, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return unknownCommandMessage, nil
	}

	result, err := s.execute(actor, args)

	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Message, nil
	}

	if errors.Is(err, strconv.ErrSyntax) || errors.Is(err, strconv.ErrRange) {
		return wrongTypeMessage, nil
	}

	if err != nil {
		return "", fmt.Errorf("execute %q: %w", args[0], err)
	}

	return result, nil
}

//nolint:cyclop // one arm per command keeps the vocabulary in one place
func (s *Service) execute(actor string, args []string) (string, error) {
	cmd, args := args[0], args[1:]

	switch cmd {
	case "b", "balance":
		if len(args) != 0 {
			return IncorrectArgsMessage, nil
		}
		return s.Balance(actor)

	case "m", "makepayment":
		if len(args) != 2 {
			return IncorrectArgsMessage, nil
		}
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", err
		}
		return s.MakePayment(actor, args[0], amount)

	case "r", "requestpayment":
		if len(args) != 2 {
			return IncorrectArgsMessage, nil
		}
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", err
		}
		return s.RequestPayment(actor, args[0], amount)

	case "v", "viewrequests":
		if len(args) != 0 {
			return IncorrectArgsMessage, nil
		}
		return s.ViewRequests(actor)

	case "p", "payrequest":
		if len(args) != 1 {
			return IncorrectArgsMessage, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", err
		}
		return s.PayRequest(actor, id)

	case "o", "obtainqrcode":
		if len(args) != 1 {
			return IncorrectArgsMessage, nil
		}
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return "", err
		}
		return s.ObtainQRCode(actor, amount)

	case "c", "confirmqrcode":
		if len(args) != 1 {
			return IncorrectArgsMessage, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", err
		}
		return s.ConfirmQRCode(actor, id)

	case "n", "newgroup":
		if len(args) != 1 {
			return IncorrectArgsMessage, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", err
		}
		return s.CreateGroup(actor, id)

	case "a", "addu":
		if len(args) != 2 {
			return IncorrectArgsMessage, nil
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", err
		}
		return s.AddUser(actor, args[0], id)

	case "g", "groups":
		if len(args) != 0 {
			return IncorrectArgsMessage, nil
		}
		return s.Groups(actor)

	case "d", "dividepayment":
		if len(args) != 2 {
			return IncorrectArgsMessage, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", err
		}
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", err
		}
		return s.DividePayment(actor, id, amount)

	case "s", "statuspayments":
		if len(args) != 1 {
			return IncorrectArgsMessage, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", err
		}
		return s.StatusPayments(actor, id)

	case "h", "history":
		if len(args) != 1 {
			return IncorrectArgsMessage, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", err
		}
		return s.History(actor, id)
	}

	return unknownCommandMessage, nil
}
