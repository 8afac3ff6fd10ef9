package server

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fastprodman/moneyexchange/internal/auth"
	"github.com/fastprodman/moneyexchange/internal/catalog"
	"github.com/fastprodman/moneyexchange/internal/domain"
	"github.com/fastprodman/moneyexchange/internal/keystore"
	"github.com/fastprodman/moneyexchange/internal/ledger"
	"github.com/fastprodman/moneyexchange/internal/wire"
)

// testEnv is a fully wired server over a temp directory, never listening;
// sessions are driven directly through handle over a pipe.
type testEnv struct {
	srv   *Server
	store *catalog.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()

	identity, err := keystore.Generate("TestServer")
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}

	store := catalog.NewStore(dir, "test-password")
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}

	certs := auth.NewCertStore(
		filepath.Join(dir, "resources", "users.txt"),
		filepath.Join(dir, "certificates"),
	)
	if err := certs.Ensure(); err != nil {
		t.Fatalf("ensure cert store: %v", err)
	}

	led, err := ledger.Open(filepath.Join(dir, "logs"), identity.PrivateKey, identity.Public(), certs.PublicKey)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	srv := New(":0", identity, store, led, auth.NewRegistry(), certs)

	return &testEnv{srv: srv, store: store}
}

// seedAccount persists an account so other sessions can pay it.
func (e *testEnv) seedAccount(t *testing.T, username string, balance float64) {
	t.Helper()

	e.store.Users.Add(domain.NewAccount(username, balance))
	if err := e.store.Users.Save(); err != nil {
		t.Fatalf("seed account %s: %v", username, err)
	}
}

// testClient scripts the peer side of one session.
type testClient struct {
	t     *testing.T
	codec *wire.Codec
	id    *keystore.Identity
	done  chan struct{}
}

// startSession connects a pipe to the session handler and completes the
// first-contact handshake for username.
func startSession(t *testing.T, env *testEnv, username string) *testClient {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.srv.handle(serverSide)
	}()

	id, err := keystore.Generate(username)
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}

	c := &testClient{t: t, codec: wire.NewCodec(clientSide), id: id, done: done}
	c.handshake(username)

	return c
}

func (c *testClient) handshake(username string) {
	c.t.Helper()

	if err := c.codec.WriteString(username); err != nil {
		c.t.Fatalf("send username: %v", err)
	}
	if err := c.codec.ReadStatus(); err != nil {
		c.t.Fatalf("session status: %v", err)
	}

	returning, err := c.codec.ReadBool()
	if err != nil {
		c.t.Fatalf("read certificate-exists: %v", err)
	}

	nonce, err := c.codec.ReadInt64()
	if err != nil {
		c.t.Fatalf("read nonce: %v", err)
	}

	if !returning {
		if err := c.codec.WriteInt64(nonce); err != nil {
			c.t.Fatalf("echo nonce: %v", err)
		}
		if err := c.codec.ReadStatus(); err != nil {
			c.t.Fatalf("echo status: %v", err)
		}
	}

	sig, err := auth.SignNonce(c.id.PrivateKey, nonce)
	if err != nil {
		c.t.Fatalf("sign nonce: %v", err)
	}
	if err := c.codec.WriteBytes(sig); err != nil {
		c.t.Fatalf("send signature: %v", err)
	}

	if !returning {
		if err := c.codec.WriteBytes(c.id.CertDER); err != nil {
			c.t.Fatalf("send certificate: %v", err)
		}
	}

	if err := c.codec.ReadStatus(); err != nil {
		c.t.Fatalf("handshake status: %v", err)
	}
}

// command runs a non-transaction command and returns the response.
func (c *testClient) command(line string) string {
	c.t.Helper()

	if err := c.codec.WriteString(line); err != nil {
		c.t.Fatalf("send command: %v", err)
	}

	resp, err := c.codec.ReadString()
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}

	return resp
}

// signRecord produces the client's evidence over a "receiver-amount" payload.
func (c *testClient) signRecord(payload string) []byte {
	c.t.Helper()

	digest := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPKCS1v15(nil, c.id.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		c.t.Fatalf("sign record: %v", err)
	}

	return sig
}

// transaction runs a transaction-shaped command with a signed record and
// returns the verification outcome plus the response.
func (c *testClient) transaction(line, payload string, sig []byte) (bool, string) {
	c.t.Helper()

	if err := c.codec.WriteString(line); err != nil {
		c.t.Fatalf("send command: %v", err)
	}

	if err := c.codec.WriteString("valid"); err != nil {
		c.t.Fatalf("send validity marker: %v", err)
	}
	if err := c.codec.WriteBytes([]byte(payload)); err != nil {
		c.t.Fatalf("send record payload: %v", err)
	}
	if err := c.codec.WriteBytes(sig); err != nil {
		c.t.Fatalf("send record signature: %v", err)
	}

	verified := true
	if err := c.codec.ReadStatus(); err != nil {
		if !errors.Is(err, wire.ErrStatusFail) {
			c.t.Fatalf("read verification status: %v", err)
		}
		verified = false
	}

	resp, err := c.codec.ReadString()
	if err != nil {
		c.t.Fatalf("read response: %v", err)
	}

	return verified, resp
}

func (c *testClient) exit() {
	c.t.Helper()

	if err := c.codec.WriteString("exit"); err != nil {
		c.t.Fatalf("send exit: %v", err)
	}

	<-c.done
}

func TestSessionBalanceAndExit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	c := startSession(t, env, "alice")

	if got := c.command("balance"); got != "Current Balance: 100.00 €" {
		t.Fatalf("balance response mismatch: %q", got)
	}

	// Commands arrive case-insensitive.
	if got := c.command("  BALANCE  "); got != "Current Balance: 100.00 €" {
		t.Fatalf("uppercase balance response mismatch: %q", got)
	}

	c.exit()

	if env.srv.sessions.Active("alice") {
		t.Fatalf("session still registered after exit")
	}
}

func TestSessionPaymentWritesLedger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedAccount(t, "bob", 100)

	c := startSession(t, env, "alice")

	payload := "bob-10"
	verified, resp := c.transaction("makepayment bob 10", payload, c.signRecord(payload))
	if !verified {
		t.Fatalf("valid record rejected")
	}
	if resp != "Payment of 10.00 € to user bob was successful! Current Balance: 90.00 €" {
		t.Fatalf("payment response mismatch: %q", resp)
	}

	c.exit()

	if _, count := env.srv.ledger.Status(); count != 1 {
		t.Fatalf("ledger entries: want 1, got %d", count)
	}
}

func TestSessionRejectedRecordStillDispatches(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedAccount(t, "bob", 100)

	c := startSession(t, env, "alice")

	// Signature over a different payload than the one presented.
	verified, resp := c.transaction("makepayment bob 10", "bob-10", c.signRecord("bob-99"))
	if verified {
		t.Fatalf("forged record accepted")
	}
	if !strings.Contains(resp, "was successful") {
		t.Fatalf("command did not dispatch after rejected record: %q", resp)
	}

	// The connection survives and the next command works.
	if got := c.command("balance"); got != "Current Balance: 90.00 €" {
		t.Fatalf("follow-up balance mismatch: %q", got)
	}

	c.exit()

	// No verified record, no ledger entry.
	if _, count := env.srv.ledger.Status(); count != 0 {
		t.Fatalf("ledger entries: want 0, got %d", count)
	}
}

func TestSessionFailedCommandSkipsLedger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	c := startSession(t, env, "alice")

	payload := "alice-10"
	verified, resp := c.transaction("makepayment alice 10", payload, c.signRecord(payload))
	if !verified {
		t.Fatalf("valid record rejected")
	}
	if resp != "Error: Can't make a payment to yourself!" {
		t.Fatalf("error response mismatch: %q", resp)
	}

	c.exit()

	if _, count := env.srv.ledger.Status(); count != 0 {
		t.Fatalf("ledger entries: want 0, got %d", count)
	}
}

func TestSessionQRSupplement(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedAccount(t, "bob", 100)

	env.store.QRCodes.Add(&domain.QRCodePayment{ID: 5, Amount: 3.5, CreatorID: "bob"})
	if err := env.store.QRCodes.Save(); err != nil {
		t.Fatalf("seed qr code: %v", err)
	}

	c := startSession(t, env, "alice")

	if err := c.codec.WriteString("confirmqrcode 5"); err != nil {
		t.Fatalf("send command: %v", err)
	}

	supplement, err := c.codec.ReadString()
	if err != nil {
		t.Fatalf("read supplement: %v", err)
	}
	if supplement != "bob-3.5" {
		t.Fatalf("supplement mismatch: want %q, got %q", "bob-3.5", supplement)
	}

	// Sign exactly what the server disclosed.
	if err := c.codec.WriteString("valid"); err != nil {
		t.Fatalf("send validity marker: %v", err)
	}
	if err := c.codec.WriteBytes([]byte(supplement)); err != nil {
		t.Fatalf("send record payload: %v", err)
	}
	if err := c.codec.WriteBytes(c.signRecord(supplement)); err != nil {
		t.Fatalf("send record signature: %v", err)
	}
	if err := c.codec.ReadStatus(); err != nil {
		t.Fatalf("verification status: %v", err)
	}

	resp, err := c.codec.ReadString()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp != "Payment of 3.50 € to user bob was successful! Current Balance: 96.50 €" {
		t.Fatalf("confirm response mismatch: %q", resp)
	}

	c.exit()

	if _, count := env.srv.ledger.Status(); count != 1 {
		t.Fatalf("ledger entries: want 1, got %d", count)
	}
}

func TestSessionQRSupplementUnknownCode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	c := startSession(t, env, "alice")

	if err := c.codec.WriteString("confirmqrcode 404"); err != nil {
		t.Fatalf("send command: %v", err)
	}

	supplement, err := c.codec.ReadString()
	if err != nil {
		t.Fatalf("read supplement: %v", err)
	}
	if supplement != "null-null" {
		t.Fatalf("supplement mismatch: want null-null, got %q", supplement)
	}

	// The command still runs its course: a record, then the error response.
	if err := c.codec.WriteString("valid"); err != nil {
		t.Fatalf("send validity marker: %v", err)
	}
	if err := c.codec.WriteBytes([]byte(supplement)); err != nil {
		t.Fatalf("send record payload: %v", err)
	}
	if err := c.codec.WriteBytes(c.signRecord(supplement)); err != nil {
		t.Fatalf("send record signature: %v", err)
	}
	if err := c.codec.ReadStatus(); err != nil {
		t.Fatalf("verification status: %v", err)
	}

	resp, err := c.codec.ReadString()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp != "Error: Code does not represent a QR Code Payment!" {
		t.Fatalf("response mismatch: %q", resp)
	}

	c.exit()
}

func TestSessionSecondLoginRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	c := startSession(t, env, "alice")

	// A second connection for the same username must be turned away while
	// the first is live.
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.srv.handle(serverSide)
	}()

	second := wire.NewCodec(clientSide)
	if err := second.WriteString("alice"); err != nil {
		t.Fatalf("send username: %v", err)
	}
	if err := second.ReadStatus(); !errors.Is(err, wire.ErrStatusFail) {
		t.Fatalf("want fail status for duplicate session, got %v", err)
	}
	<-done

	// The original session is untouched.
	if got := c.command("balance"); got != "Current Balance: 100.00 €" {
		t.Fatalf("original session broken: %q", got)
	}

	c.exit()
}
