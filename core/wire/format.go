// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the OpenWire binary wire format: polymorphic
// command marshalling in tight and loose modes across negotiated
// protocol revisions, with optional size-prefix framing.
package wire

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/apexmq/apexmq/core/wire/commands"
)

const (
	// MinVersion and MaxVersion bound the protocol revisions this codec
	// can speak.
	MinVersion = 1
	MaxVersion = 10

	// DefaultMaxInactivityDuration is the proposed read window in
	// milliseconds before a silent link is declared dead.
	DefaultMaxInactivityDuration = 30000

	// DefaultMaxInactivityInitialDelay is the proposed grace period in
	// milliseconds before inactivity monitoring starts.
	DefaultMaxInactivityInitialDelay = 10000

	// DefaultMaxFrameSize is the proposed bound on a single frame.
	DefaultMaxFrameSize = 100 * 1024 * 1024
)

// Format is a negotiated OpenWire codec instance. One Format is shared
// by the reader and writer of a single link; all methods are safe for
// concurrent use.
type Format struct {
	mu sync.RWMutex

	version              int
	stackTraceEnabled    bool
	cacheEnabled         bool
	tcpNoDelayEnabled    bool
	tightEncodingEnabled bool
	sizePrefixDisabled   bool

	maxInactivityDuration            int64
	maxInactivityDurationInitalDelay int64
	maxFrameSize                     int64

	negotiated bool
}

// NewFormat returns a Format proposing the newest protocol revision and
// the default capability set.
func NewFormat() *Format {
	return &Format{
		version:                          MaxVersion,
		stackTraceEnabled:                true,
		cacheEnabled:                     true,
		tcpNoDelayEnabled:                true,
		tightEncodingEnabled:             true,
		maxInactivityDuration:            DefaultMaxInactivityDuration,
		maxInactivityDurationInitalDelay: DefaultMaxInactivityInitialDelay,
		maxFrameSize:                     DefaultMaxFrameSize,
	}
}

// ApplyOptions applies "wireFormat."-prefixed URI options. Unknown keys
// under the prefix are an error; keys without the prefix are ignored so
// a transport can pass its full option map through.
func (f *Format) ApplyOptions(opts map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for k, v := range opts {
		if !strings.HasPrefix(k, "wireFormat.") {
			continue
		}
		name := strings.TrimPrefix(k, "wireFormat.")
		var err error
		switch name {
		case "stackTraceEnabled":
			f.stackTraceEnabled, err = parseBool(v)
		case "cacheEnabled":
			f.cacheEnabled, err = parseBool(v)
		case "tcpNoDelayEnabled":
			f.tcpNoDelayEnabled, err = parseBool(v)
		case "tightEncodingEnabled":
			f.tightEncodingEnabled, err = parseBool(v)
		case "sizePrefixDisabled":
			f.sizePrefixDisabled, err = parseBool(v)
		case "maxInactivityDuration":
			f.maxInactivityDuration, err = strconv.ParseInt(v, 10, 64)
		case "maxInactivityDurationInitalDelay":
			f.maxInactivityDurationInitalDelay, err = strconv.ParseInt(v, 10, 64)
		case "maxFrameSize":
			f.maxFrameSize, err = strconv.ParseInt(v, 10, 64)
		case "version":
			var n int64
			n, err = strconv.ParseInt(v, 10, 32)
			if err == nil && (n < MinVersion || n > MaxVersion) {
				err = fmt.Errorf("version %d out of range", n)
			}
			f.version = int(n)
		default:
			return fmt.Errorf("openwire: unknown wire format option %q", k)
		}
		if err != nil {
			return fmt.Errorf("openwire: bad value for %s: %w", k, err)
		}
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch v {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

// Preferred returns the WireFormatInfo this side proposes on connect.
func (f *Format) Preferred() *commands.WireFormatInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &commands.WireFormatInfo{
		Magic:                            append([]byte(nil), commands.WireFormatMagic...),
		Version:                          int32(f.version),
		StackTraceEnabled:                f.stackTraceEnabled,
		CacheEnabled:                     f.cacheEnabled,
		TCPNoDelayEnabled:                f.tcpNoDelayEnabled,
		TightEncodingEnabled:             f.tightEncodingEnabled,
		SizePrefixDisabled:               f.sizePrefixDisabled,
		MaxInactivityDuration:            f.maxInactivityDuration,
		MaxInactivityDurationInitalDelay: f.maxInactivityDurationInitalDelay,
		MaxFrameSize:                     f.maxFrameSize,
	}
}

// Renegotiate folds the peer's proposal into this codec: the minimum of
// the versions, the AND of the capability flags, the minimum of the
// bounds. A second handshake that would change the version is fatal.
func (f *Format) Renegotiate(info *commands.WireFormatInfo) error {
	if !bytes.Equal(info.Magic, commands.WireFormatMagic) {
		return newProtocolError("bad wire format magic %q", info.Magic)
	}
	if info.Version < MinVersion {
		return newProtocolError("peer wire format version %d unsupported", info.Version)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	version := f.version
	if int(info.Version) < version {
		version = int(info.Version)
	}
	if f.negotiated && version != f.version {
		return ErrVersionChange
	}
	f.version = version
	f.stackTraceEnabled = f.stackTraceEnabled && info.StackTraceEnabled
	f.cacheEnabled = f.cacheEnabled && info.CacheEnabled
	f.tcpNoDelayEnabled = f.tcpNoDelayEnabled && info.TCPNoDelayEnabled
	f.tightEncodingEnabled = f.tightEncodingEnabled && info.TightEncodingEnabled
	f.sizePrefixDisabled = f.sizePrefixDisabled && info.SizePrefixDisabled
	if info.MaxInactivityDuration < f.maxInactivityDuration {
		f.maxInactivityDuration = info.MaxInactivityDuration
	}
	if info.MaxInactivityDurationInitalDelay < f.maxInactivityDurationInitalDelay {
		f.maxInactivityDurationInitalDelay = info.MaxInactivityDurationInitalDelay
	}
	if info.MaxFrameSize != 0 && (f.maxFrameSize == 0 || info.MaxFrameSize < f.maxFrameSize) {
		f.maxFrameSize = info.MaxFrameSize
	}
	f.negotiated = true
	return nil
}

// Version returns the revision currently in effect.
func (f *Format) Version() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// TightEncodingEnabled reports whether frames are encoded tight.
func (f *Format) TightEncodingEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tightEncodingEnabled
}

// MaxInactivityDuration returns the negotiated read window in
// milliseconds; zero disables inactivity monitoring.
func (f *Format) MaxInactivityDuration() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maxInactivityDuration
}

// MaxInactivityInitialDelay returns the negotiated monitoring grace
// period in milliseconds.
func (f *Format) MaxInactivityInitialDelay() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maxInactivityDurationInitalDelay
}

// Marshal encodes one command, including the size prefix unless it was
// negotiated off.
func (f *Format) Marshal(ds commands.DataStructure, w io.Writer) error {
	f.mu.RLock()
	version := f.version
	tight := f.tightEncodingEnabled
	sizePrefix := !f.sizePrefixDisabled
	f.mu.RUnlock()

	typ := ds.DataStructureType()
	if commands.New(typ) == nil {
		return newProtocolError("unknown data type: %d", typ)
	}
	out := &dataOutput{w: w}

	if tight {
		bs := &BooleanStream{}
		sizer := &tightSizer{f: f, bs: bs, version: version}
		ds.Walk(sizer, version)
		if sizer.err != nil {
			return sizer.err
		}
		size := 1 + bs.MarshalledSize() + sizer.size
		if sizePrefix {
			out.writeInt32(int32(size))
		}
		out.writeByte(typ)
		bs.Marshal(out)
		ds.Walk(&tightWriter{f: f, bs: bs, version: version, out: out}, version)
		return out.err
	}

	if !sizePrefix {
		out.writeByte(typ)
		ds.Walk(&looseWriter{f: f, version: version, out: out}, version)
		return out.err
	}

	// Loose mode cannot know the frame length up front; buffer the
	// payload to compute it.
	var buf bytes.Buffer
	bufOut := &dataOutput{w: &buf}
	bufOut.writeByte(typ)
	ds.Walk(&looseWriter{f: f, version: version, out: bufOut}, version)
	if bufOut.err != nil {
		return bufOut.err
	}
	out.writeInt32(int32(buf.Len()))
	out.write(buf.Bytes())
	return out.err
}

// Unmarshal decodes one command. With the size prefix enabled it
// consumes exactly prefix+4 bytes from r; any decode failure is
// terminal for the link.
func (f *Format) Unmarshal(r io.Reader) (commands.Command, error) {
	f.mu.RLock()
	version := f.version
	tight := f.tightEncodingEnabled
	sizePrefix := !f.sizePrefixDisabled
	maxFrameSize := f.maxFrameSize
	f.mu.RUnlock()

	in := &dataInput{r: r}
	if sizePrefix {
		size := in.readInt32()
		if in.err != nil {
			return nil, in.err
		}
		if size < 1 {
			return nil, newProtocolError("bad frame size %d", size)
		}
		if maxFrameSize > 0 && int64(size) > maxFrameSize {
			return nil, newProtocolError("frame of %d bytes exceeds max frame size %d", size, maxFrameSize)
		}
		body := make([]byte, size)
		in.readFull(body)
		if in.err != nil {
			return nil, in.err
		}
		in = &dataInput{r: bytes.NewReader(body)}
	}

	typ := in.readByte()
	if in.err != nil {
		return nil, in.err
	}
	if typ == commands.NullType {
		return nil, newProtocolError("null command frame")
	}
	ds := commands.New(typ)
	if ds == nil {
		return nil, newProtocolError("unknown data type: %d", typ)
	}

	if tight {
		bs := &BooleanStream{}
		bs.Unmarshal(in)
		if in.err != nil {
			return nil, in.err
		}
		ds.Walk(&tightReader{f: f, bs: bs, version: version, in: in}, version)
	} else {
		ds.Walk(&looseReader{f: f, version: version, in: in}, version)
	}
	if in.err != nil {
		return nil, in.err
	}

	cmd, ok := ds.(commands.Command)
	if !ok {
		return nil, newProtocolError("unmarshalled a non command type %d", typ)
	}
	return cmd, nil
}

// stringTag values used by the tagged string form of the property
// codec: short strings take the 16 bit length prefix, long ones the 32
// bit form.
const (
	stringTag    byte = 9
	bigStringTag byte = 13
)

// WriteString writes a type-tag byte and then the 16 or 32 bit prefixed
// form depending on the encoded length.
func WriteString(w io.Writer, s string) error {
	enc := ASCIIToModifiedUTF8(s)
	out := &dataOutput{w: w}
	if len(enc) <= math.MaxInt16/4 {
		out.writeByte(stringTag)
		out.writeString16(enc)
	} else {
		out.writeByte(bigStringTag)
		out.writeString32(enc)
	}
	return out.err
}

// ReadString reverses WriteString.
func ReadString(r io.Reader) (string, error) {
	in := &dataInput{r: r}
	var raw []byte
	switch tag := in.readByte(); tag {
	case stringTag:
		raw = in.readString16()
	case bigStringTag:
		raw = in.readString32()
	default:
		if in.err != nil {
			return "", in.err
		}
		return "", newProtocolError("unknown string tag %d", tag)
	}
	if in.err != nil {
		return "", in.err
	}
	return ModifiedUTF8ToASCII(raw)
}
