package mail

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthurh0812/natours-identity/internal/logging"
)

// fakeRelay accepts one SMTP session without TLS or auth and reports the
// envelope and data it received.
type fakeRelay struct {
	addr string
	got  chan relayed
}

type relayed struct {
	from, to, data string
}

func startFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	r := &fakeRelay{addr: ln.Addr().String(), got: make(chan relayed, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)

		var msg relayed
		_ = tp.PrintfLine("220 fake ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				_ = tp.PrintfLine("250-fake")
				_ = tp.PrintfLine("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL FROM:"):
				msg.from = strings.Trim(line[len("MAIL FROM:"):], "<> ")
				if i := strings.Index(msg.from, ">"); i >= 0 {
					msg.from = msg.from[:i]
				}
				_ = tp.PrintfLine("250 ok")
			case strings.HasPrefix(cmd, "RCPT TO:"):
				msg.to = strings.Trim(line[len("RCPT TO:"):], "<> ")
				_ = tp.PrintfLine("250 ok")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				msg.data = string(data)
				_ = tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				r.got <- msg
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return r
}

func TestSMTPSendDeliversMessage(t *testing.T) {
	relay := startFakeRelay(t)
	host, port, err := net.SplitHostPort(relay.addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	m, err := NewSMTP(SMTPConfig{Host: host, Port: p, From: "Natours <hello@natours.io>"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Send(ctx, "jonas@example.com", "Your password reset token", "Hi Jonas,\nclick here"))

	select {
	case got := <-relay.got:
		assert.Equal(t, "hello@natours.io", got.from)
		assert.Equal(t, "jonas@example.com", got.to)
		assert.Contains(t, got.data, "Subject: Your password reset token")
		assert.Contains(t, got.data, "Hi Jonas,\nclick here")
	case <-time.After(5 * time.Second):
		t.Fatal("relay received nothing")
	}
}

func TestSMTPRequireTLS(t *testing.T) {
	relay := startFakeRelay(t)
	host, port, _ := net.SplitHostPort(relay.addr)
	p, _ := strconv.Atoi(port)

	m, err := NewSMTP(SMTPConfig{Host: host, Port: p, From: "hello@natours.io", RequireTLS: true})
	require.NoError(t, err)
	err = m.Send(context.Background(), "jonas@example.com", "s", "b")
	assert.ErrorContains(t, err, "STARTTLS")
}

func TestSMTPSendHonorsCanceledContext(t *testing.T) {
	m, err := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "hello@natours.io"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.Send(ctx, "jonas@example.com", "s", "b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewSMTPValidates(t *testing.T) {
	_, err := NewSMTP(SMTPConfig{Port: 25, From: "a@b.c"})
	assert.Error(t, err)
	_, err = NewSMTP(SMTPConfig{Host: "smtp", Port: 0, From: "a@b.c"})
	assert.Error(t, err)
	_, err = NewSMTP(SMTPConfig{Host: "smtp", Port: 25})
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msg, err := buildMessage("Natours <hello@natours.io>", "jonas@example.com", "Welcome", "line1\nline2", now)
	require.NoError(t, err)

	text := string(msg)
	assert.Contains(t, text, "From: Natours <hello@natours.io>\r\n")
	assert.Contains(t, text, "Date: Sun, 01 Mar 2026 09:00:00 +0000\r\n")
	assert.Contains(t, text, "@natours.io>\r\n")
	assert.True(t, strings.HasSuffix(text, "\r\n\r\nline1\r\nline2"))

	_, err = buildMessage("hello@natours.io", "jonas@example.com\r\nBcc: evil@example.com", "x", "y", now)
	assert.ErrorIs(t, err, ErrHeaderInjection)
}

func TestLogMailer(t *testing.T) {
	var buf strings.Builder
	logger, err := logging.New(&buf, "json", "info")
	require.NoError(t, err)

	m := NewLog(logger)
	require.NoError(t, m.Send(context.Background(), "jonas@example.com", "Welcome", "secret-link"))
	assert.Contains(t, buf.String(), "jonas@example.com")
	assert.NotContains(t, buf.String(), "secret-link")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, "a@b.c", "s", "b"), context.Canceled)
}

