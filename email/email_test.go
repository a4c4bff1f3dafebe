package email

import (
	"strings"
	"testing"
	"time"
)

func TestParsePlainTextMessage(t *testing.T) {
	raw := strings.Join([]string{
		"From: Jane Doe <jane@example.com>",
		"To: board@example.com",
		"Subject: Quote for spring order",
		"Date: Fri, 15 Mar 2024 10:30:00 +0100",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Please send the quote by Friday.",
		"",
	}, "\r\n")

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.FromName != "Jane Doe" {
		t.Errorf("expected sender name Jane Doe, got %q", msg.FromName)
	}
	if msg.FromAddress != "jane@example.com" {
		t.Errorf("expected sender address jane@example.com, got %q", msg.FromAddress)
	}
	if msg.Subject != "Quote for spring order" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if msg.Content != "Please send the quote by Friday." {
		t.Errorf("unexpected content %q", msg.Content)
	}
	want := time.Date(2024, time.March, 15, 10, 30, 0, 0, time.FixedZone("", 3600))
	if !msg.ReceivedAt.Equal(want) {
		t.Errorf("expected received at %v, got %v", want, msg.ReceivedAt)
	}
}

func TestParseDecodesEncodedSubject(t *testing.T) {
	raw := strings.Join([]string{
		"From: kunde@example.de",
		"Subject: =?utf-8?q?R=C3=BCckruf_erbeten?=",
		"",
		"Bitte melden.",
		"",
	}, "\r\n")

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Subject != "Rückruf erbeten" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if msg.FromName != "" {
		t.Errorf("expected empty sender name, got %q", msg.FromName)
	}
	if msg.FromAddress != "kunde@example.de" {
		t.Errorf("unexpected sender address %q", msg.FromAddress)
	}
}

func TestParsePrefersPlainTextPart(t *testing.T) {
	raw := strings.Join([]string{
		"From: jane@example.com",
		"Subject: Mixed message",
		"Content-Type: multipart/alternative; boundary=XYZ",
		"",
		"--XYZ",
		"Content-Type: text/html",
		"",
		"<p>ignored</p>",
		"--XYZ",
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Call back=20tomorrow.",
		"--XYZ--",
		"",
	}, "\r\n")

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Content != "Call back tomorrow." {
		t.Errorf("unexpected content %q", msg.Content)
	}
}

func TestParseFallsBackToHTMLOnlyBody(t *testing.T) {
	raw := strings.Join([]string{
		"From: jane@example.com",
		"Subject: HTML only",
		"Content-Type: multipart/alternative; boundary=AB",
		"",
		"--AB",
		"Content-Type: text/html",
		"",
		"<p>hello</p>",
		"--AB--",
		"",
	}, "\r\n")

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Content != "<p>hello</p>" {
		t.Errorf("unexpected content %q", msg.Content)
	}
}

func TestParseRejectsMessageWithoutSender(t *testing.T) {
	raw := "Subject: no sender\r\n\r\nbody\r\n"
	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatal("expected error for message without From header")
	}
}

func TestParseMissingDateLeavesReceivedAtZero(t *testing.T) {
	raw := "From: jane@example.com\r\nSubject: x\r\n\r\nbody\r\n"
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !msg.ReceivedAt.IsZero() {
		t.Errorf("expected zero received at, got %v", msg.ReceivedAt)
	}
}
