// Package email turns raw RFC 822 messages into the fields a board note
// needs. Only the plain-text body is extracted; HTML-only messages fall back
// to the raw part content.
package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"
)

// Message is the parsed subset of an imported email.
type Message struct {
	From        string
	FromName    string
	FromAddress string
	Subject     string
	Content     string
	ReceivedAt  time.Time
}

var errNoSender = errors.New("email: message has no sender")

// Parse reads a raw RFC 822 message. The From header is required; a missing
// or unparsable Date leaves ReceivedAt zero.
func Parse(raw []byte) (Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return Message{}, err
	}

	fromHeader := msg.Header.Get("From")
	if strings.TrimSpace(fromHeader) == "" {
		return Message{}, errNoSender
	}

	out := Message{From: fromHeader}
	if addr, err := mail.ParseAddress(fromHeader); err == nil {
		out.FromName = addr.Name
		out.FromAddress = addr.Address
	} else {
		out.FromAddress = fromHeader
	}

	dec := new(mime.WordDecoder)
	if subject, err := dec.DecodeHeader(msg.Header.Get("Subject")); err == nil {
		out.Subject = subject
	} else {
		out.Subject = msg.Header.Get("Subject")
	}

	if date, err := msg.Header.Date(); err == nil {
		out.ReceivedAt = date
	}

	content, err := readBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return Message{}, err
	}
	out.Content = strings.TrimSpace(content)
	return out, nil
}

func readBody(contentType, transferEncoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return readMultipart(body, params["boundary"])
	}

	decoded, err := io.ReadAll(decodeTransfer(body, transferEncoding))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// readMultipart returns the first text/plain part, or failing that the first
// text part of any kind.
func readMultipart(body io.Reader, boundary string) (string, error) {
	if boundary == "" {
		return "", errors.New("email: multipart message without boundary")
	}

	var fallback string
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		mediaType, params, mtErr := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if mtErr != nil {
			mediaType = "text/plain"
		}
		if strings.HasPrefix(mediaType, "multipart/") {
			if nested, nErr := readMultipart(part, params["boundary"]); nErr == nil && nested != "" {
				return nested, nil
			}
			continue
		}
		if !strings.HasPrefix(mediaType, "text/") {
			continue
		}

		decoded, rErr := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding")))
		if rErr != nil {
			continue
		}
		if mediaType == "text/plain" {
			return string(decoded), nil
		}
		if fallback == "" {
			fallback = string(decoded)
		}
	}
	return fallback, nil
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}
