// Package ics renders a note's deadline as a minimal single-event iCalendar
// document. Deadlines become all-day events on the local calendar day.
package ics

import (
	"strings"
	"time"

	"pinboard-api/domain"
)

const prodID = "-//pinboard//pinboard-api//EN"

// Emit renders the VCALENDAR document for one note. The note must carry a
// deadline; now supplies both the DTSTAMP and the time zone the deadline day
// is computed in.
func Emit(n domain.Note, now time.Time) string {
	day := n.Deadline.In(now.Location())
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)

	summary := n.CustomerName
	if n.Subject != "" {
		summary += ": " + n.Subject
	}

	var b strings.Builder
	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:"+prodID)
	writeLine(&b, "CALSCALE:GREGORIAN")
	writeLine(&b, "BEGIN:VEVENT")
	writeLine(&b, "UID:"+n.ID+"@pinboard")
	writeLine(&b, "DTSTAMP:"+now.UTC().Format("20060102T150405Z"))
	writeLine(&b, "DTSTART;VALUE=DATE:"+start.Format("20060102"))
	writeLine(&b, "DTEND;VALUE=DATE:"+end.Format("20060102"))
	writeLine(&b, "SUMMARY:"+escape(summary))
	if n.Remarks != "" {
		writeLine(&b, "DESCRIPTION:"+escape(n.Remarks))
	}
	if n.DeadlineType == domain.DeadlineApprox {
		writeLine(&b, "STATUS:TENTATIVE")
	} else {
		writeLine(&b, "STATUS:CONFIRMED")
	}
	writeLine(&b, "END:VEVENT")
	writeLine(&b, "END:VCALENDAR")
	return b.String()
}

// writeLine folds content lines longer than 75 octets as RFC 5545 requires.
func writeLine(b *strings.Builder, line string) {
	const limit = 75
	for len(line) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}

func isRuneStart(c byte) bool {
	return c&0xC0 != 0x80
}

func escape(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
	)
	return r.Replace(s)
}
