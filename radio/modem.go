/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package radio

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Modem is the boundary to the radio firmware. The gateway never sees raw
// wire framing: the modem surfaces decoded frames as text lines and
// accepts send primitives. Implementations must be safe for one reader
// and one writer goroutine.
type Modem interface {
	Open() error
	// ReadFrame blocks until one decoded frame line is available.
	ReadFrame() (string, error)
	// WriteFrame transmits one frame line, honoring WriteTimeout.
	WriteFrame(line string) error
	Close() error
}

// WriteTimeout bounds a single frame transmit towards the modem.
const WriteTimeout = 2 * time.Second

// serialModem speaks the companion firmware's line protocol over a
// serial port:
//
//	MSG <origin> <text...>            inbound text
//	MSG <origin> @<lat>,<lon> <text>  inbound text with embedded position
//	POS <origin> <lat> <lon>          inbound position beacon
//	SEND <origin> <text...>           outbound direct message
//	BCAST <text...>                   outbound broadcast
type serialModem struct {
	device string
	port   serial.Port
	reader *bufio.Reader
}

// NewSerialModem returns a modem attached to the given serial device.
func NewSerialModem(device string) Modem {
	return &serialModem{device: device}
}

func (m *serialModem) Open() error {
	mode := &serial.Mode{BaudRate: 115200}
	port, err := serial.Open(m.device, mode)
	if err != nil {
		return fmt.Errorf("opening %s: %w", m.device, err)
	}
	m.port = port
	m.reader = bufio.NewReader(port)
	return nil
}

func (m *serialModem) ReadFrame() (string, error) {
	line, err := m.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteFrame writes one line. go.bug.st/serial has no write deadline, so
// a stuck transmit is broken by closing the port, which both unblocks the
// write and forces the supervisor into its reconnect path.
func (m *serialModem) WriteFrame(line string) error {
	done := make(chan error, 1)
	go func() {
		_, err := m.port.Write([]byte(line + "\n"))
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(WriteTimeout):
		m.port.Close()
		return fmt.Errorf("write to %s timed out after %s", m.device, WriteTimeout)
	}
}

func (m *serialModem) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}

// PacketKind distinguishes decoded frames.
type PacketKind int

const (
	// TextPacket is an inbound text message.
	TextPacket PacketKind = iota
	// PositionPacket is an inbound position beacon.
	PositionPacket
)

// Packet is one decoded inbound frame. ReceivedAt is the gateway wall
// time, Mono the monotonic reading used for position ages. Text packets
// may carry an embedded position (HasPosition).
type Packet struct {
	Kind        PacketKind
	Origin      string
	Text        string
	Lat         float64
	Lon         float64
	HasPosition bool
	ReceivedAt  time.Time
	Mono        time.Duration
}

// parseFrame decodes one modem line. Unknown or malformed frames return
// ok=false and are dropped by the reader.
func parseFrame(line string) (Packet, bool) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return Packet{}, false
	}
	switch fields[0] {
	case "POS":
		parts := strings.Fields(line)
		if len(parts) != 4 {
			return Packet{}, false
		}
		lat, err1 := strconv.ParseFloat(parts[2], 64)
		lon, err2 := strconv.ParseFloat(parts[3], 64)
		if err1 != nil || err2 != nil {
			return Packet{}, false
		}
		return Packet{Kind: PositionPacket, Origin: parts[1], Lat: lat, Lon: lon, HasPosition: true}, true
	case "MSG":
		if len(fields) < 3 {
			return Packet{}, false
		}
		p := Packet{Kind: TextPacket, Origin: fields[1], Text: fields[2]}
		// optional embedded position: "@<lat>,<lon> " before the text
		if strings.HasPrefix(p.Text, "@") {
			head, rest, found := strings.Cut(p.Text, " ")
			coords := strings.Split(strings.TrimPrefix(head, "@"), ",")
			if found && len(coords) == 2 {
				lat, err1 := strconv.ParseFloat(coords[0], 64)
				lon, err2 := strconv.ParseFloat(coords[1], 64)
				if err1 == nil && err2 == nil {
					p.Lat, p.Lon, p.HasPosition = lat, lon, true
					p.Text = rest
				}
			}
		}
		return p, true
	}
	return Packet{}, false
}
