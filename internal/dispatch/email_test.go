package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/salonkit/campaignd/internal/models"
)

// plaintextSMTPServer accepts one connection and speaks just enough ESMTP
// to complete the EHLO exchange without advertising STARTTLS.
func plaintextSMTPServer(t *testing.T) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		br := bufio.NewReader(conn)
		fmt.Fprintf(conn, "220 plain.test ESMTP\r\n")
		if _, err := br.ReadString('\n'); err != nil {
			return
		}
		fmt.Fprintf(conn, "250-plain.test\r\n250 SIZE 1048576\r\n")
		br.ReadString('\n')
	}()
	return ln.Addr()
}

func TestEmailDispatcher_RequiresSTARTTLS(t *testing.T) {
	addr := plaintextSMTPServer(t)
	d := NewEmailDispatcher(addr.String(), "", "", 2*time.Second, testLogger())

	err := d.Send(context.Background(), &Message{
		To:        models.Recipient{Address: "anna@example.com"},
		FromEmail: "promo@salon.example",
		Subject:   "Hello",
		Body:      "Hi",
	})
	if err == nil {
		t.Fatal("Send() to a plaintext server should fail")
	}
	if !strings.Contains(err.Error(), "STARTTLS") {
		t.Errorf("Send() error = %v, want a STARTTLS negotiation failure", err)
	}
}

func TestEmailDispatcher_ConnectFailure(t *testing.T) {
	// A closed port; the dial itself must surface the error.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	d := NewEmailDispatcher(addr, "", "", time.Second, testLogger())
	err = d.Send(context.Background(), &Message{
		To:        models.Recipient{Address: "anna@example.com"},
		FromEmail: "promo@salon.example",
	})
	if err == nil || !strings.Contains(err.Error(), "connect to smarthost") {
		t.Errorf("Send() error = %v, want a connect error", err)
	}
}
