package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/srg/motolink/internal/device"
	"github.com/srg/motolink/internal/link"
)

const eventTimeFormat = "15:04:05.000"

// eventRecord is the --json form of a link event.
type eventRecord struct {
	Time           time.Time `json:"time"`
	Event          string    `json:"event"`
	Characteristic string    `json:"characteristic,omitempty"`
	Data           string    `json:"data,omitempty"`
	Revision       string    `json:"revision,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// eventPrinter writes link events as text lines or JSON lines.
type eventPrinter struct {
	out     io.Writer
	profile link.Profile
	json    bool
	enc     *json.Encoder

	kindColor  *color.Color
	labelColor *color.Color
	errColor   *color.Color
}

func newEventPrinter(out io.Writer, profile link.Profile, asJSON bool) *eventPrinter {
	p := &eventPrinter{
		out:        out,
		profile:    profile,
		json:       asJSON,
		enc:        json.NewEncoder(out),
		kindColor:  color.New(color.FgCyan),
		labelColor: color.New(color.FgYellow),
		errColor:   color.New(color.FgRed),
	}
	if asJSON || !isTerminal(out) {
		p.kindColor.DisableColor()
		p.labelColor.DisableColor()
		p.errColor.DisableColor()
	}
	return p
}

// label names profile characteristics; other refs print as service/uuid.
func (p *eventPrinter) label(ref device.CharacteristicRef) string {
	if ref.IsZero() {
		return ""
	}
	named := []struct {
		ref  device.CharacteristicRef
		name string
	}{
		{p.profile.LIN, link.BusLIN},
		{p.profile.CAN, link.BusCAN},
		{p.profile.Command, "command"},
		{p.profile.HardwareRevision, "hwrev"},
	}
	for _, n := range named {
		if n.ref.UUID == ref.UUID && (n.ref.Service == "" || ref.Service == "" || n.ref.Service == ref.Service) {
			return n.name
		}
	}
	return ref.String()
}

func (p *eventPrinter) Print(ev link.Event) error {
	rec := eventRecord{
		Time:           ev.Time,
		Event:          ev.Kind.String(),
		Characteristic: p.label(ev.Ref),
		Revision:       ev.Revision,
	}
	if len(ev.Data) > 0 {
		rec.Data = strings.ToUpper(hex.EncodeToString(ev.Data))
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if p.json {
		return p.enc.Encode(rec)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", rec.Time.Format(eventTimeFormat), p.kindColor.Sprint(rec.Event))
	if rec.Characteristic != "" {
		fmt.Fprintf(&b, " %s", p.labelColor.Sprint(rec.Characteristic))
	}
	if rec.Data != "" {
		fmt.Fprintf(&b, " %s", rec.Data)
	}
	if rec.Revision != "" {
		fmt.Fprintf(&b, " %q", rec.Revision)
	}
	if rec.Error != "" {
		fmt.Fprintf(&b, " %s", p.errColor.Sprint(rec.Error))
	}
	_, err := fmt.Fprintln(p.out, b.String())
	return err
}

// formatValue renders a value read from a characteristic.
func formatValue(data []byte, asHex bool) string {
	if asHex {
		return strings.ToUpper(hex.EncodeToString(data))
	}
	return string(data)
}
