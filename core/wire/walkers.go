// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"math"

	"github.com/apexmq/apexmq/core/wire/commands"
)

// The codec drives each command's Walk method with one of five Walker
// implementations: tight mode runs tightSizer (pass one: sizes and
// boolean stream bits), tightWriter (pass two: payload bytes) and
// tightReader; loose mode runs looseWriter and looseReader. All five
// visit fields in the identical order, which is what keeps the layout
// consistent across passes.

// tightSizer computes the pass-two payload size and populates the
// boolean stream.
type tightSizer struct {
	f       *Format
	bs      *BooleanStream
	version int
	size    int
	err     error
}

func (s *tightSizer) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *tightSizer) Bool(v *bool) {
	s.bs.WriteBool(*v)
}

func (s *tightSizer) Byte(v *byte) {
	s.size++
}

func (s *tightSizer) Int32(v *int32) {
	s.size += 4
}

func (s *tightSizer) Long(v *int64) {
	x := uint64(*v)
	switch {
	case x == 0:
		s.bs.WriteBool(false)
		s.bs.WriteBool(false)
	case x&0xFFFFFFFFFFFF0000 == 0:
		s.bs.WriteBool(false)
		s.bs.WriteBool(true)
		s.size += 2
	case x&0xFFFFFFFF00000000 == 0:
		s.bs.WriteBool(true)
		s.bs.WriteBool(false)
		s.size += 4
	default:
		s.bs.WriteBool(true)
		s.bs.WriteBool(true)
		s.size += 8
	}
}

func (s *tightSizer) String(v *string) {
	present := *v != ""
	s.bs.WriteBool(present)
	if !present {
		return
	}
	enc := ASCIIToModifiedUTF8(*v)
	s.bs.WriteBool(len(enc) == len(*v))
	if len(enc) > math.MaxInt16 {
		s.fail(newProtocolError("string of %d bytes exceeds 16 bit length prefix", len(enc)))
		return
	}
	s.size += 2 + len(enc)
}

func (s *tightSizer) Bytes(v *[]byte) {
	present := *v != nil
	s.bs.WriteBool(present)
	if present {
		s.size += 4 + len(*v)
	}
}

func (s *tightSizer) Nested(v *commands.DataStructure) {
	ds := *v
	s.bs.WriteBool(ds != nil)
	if ds == nil {
		return
	}
	if ma, ok := ds.(commands.MarshalAware); ok {
		seq := ma.MarshaledForm()
		s.bs.WriteBool(len(seq) > 0)
		if len(seq) > 0 {
			s.size += 1 + len(seq)
			return
		}
	}
	s.size++ // type tag
	ds.Walk(s, s.version)
}

func (s *tightSizer) NestedArray(v *[]commands.DataStructure) {
	present := *v != nil
	s.bs.WriteBool(present)
	if !present {
		return
	}
	s.size += 2
	for i := range *v {
		s.Nested(&(*v)[i])
	}
}

func (s *tightSizer) Throwable(v **commands.BrokerError) {
	e := *v
	s.bs.WriteBool(e != nil)
	if e == nil {
		return
	}
	s.String(&e.ExceptionClass)
	s.String(&e.Message)
	if s.f.stackTraceEnabled {
		s.size += 2
		for i := range e.StackTrace {
			el := &e.StackTrace[i]
			s.String(&el.ClassName)
			s.String(&el.MethodName)
			s.String(&el.FileName)
			s.size += 4
		}
		s.Throwable(&e.Cause)
	}
}

// tightWriter emits the pass-two payload, consuming the boolean stream
// bits populated by the sizer.
type tightWriter struct {
	f       *Format
	bs      *BooleanStream
	version int
	out     *dataOutput
}

func (w *tightWriter) Bool(v *bool) {
	w.bs.ReadBool()
}

func (w *tightWriter) Byte(v *byte) {
	w.out.writeByte(*v)
}

func (w *tightWriter) Int32(v *int32) {
	w.out.writeInt32(*v)
}

func (w *tightWriter) Long(v *int64) {
	if w.bs.ReadBool() {
		if w.bs.ReadBool() {
			w.out.writeInt64(*v)
		} else {
			w.out.writeInt32(int32(*v))
		}
	} else if w.bs.ReadBool() {
		w.out.writeInt16(int16(*v))
	}
}

func (w *tightWriter) String(v *string) {
	if !w.bs.ReadBool() {
		return
	}
	w.bs.ReadBool()
	w.out.writeString16(ASCIIToModifiedUTF8(*v))
}

func (w *tightWriter) Bytes(v *[]byte) {
	if !w.bs.ReadBool() {
		return
	}
	w.out.writeInt32(int32(len(*v)))
	w.out.write(*v)
}

func (w *tightWriter) Nested(v *commands.DataStructure) {
	if !w.bs.ReadBool() {
		return
	}
	ds := *v
	w.out.writeByte(ds.DataStructureType())
	if ma, ok := ds.(commands.MarshalAware); ok && w.bs.ReadBool() {
		w.out.write(ma.MarshaledForm())
		return
	}
	ds.Walk(w, w.version)
}

func (w *tightWriter) NestedArray(v *[]commands.DataStructure) {
	if !w.bs.ReadBool() {
		return
	}
	w.out.writeInt16(int16(len(*v)))
	for i := range *v {
		w.Nested(&(*v)[i])
	}
}

func (w *tightWriter) Throwable(v **commands.BrokerError) {
	if !w.bs.ReadBool() {
		return
	}
	e := *v
	w.String(&e.ExceptionClass)
	w.String(&e.Message)
	if w.f.stackTraceEnabled {
		w.out.writeInt16(int16(len(e.StackTrace)))
		for i := range e.StackTrace {
			el := &e.StackTrace[i]
			w.String(&el.ClassName)
			w.String(&el.MethodName)
			w.String(&el.FileName)
			w.out.writeInt32(el.LineNumber)
		}
		w.Throwable(&e.Cause)
	}
}

// tightReader decodes a tight frame, consuming boolean stream bits and
// payload bytes in step.
type tightReader struct {
	f       *Format
	bs      *BooleanStream
	version int
	in      *dataInput
}

func (r *tightReader) Bool(v *bool) {
	*v = r.bs.ReadBool()
}

func (r *tightReader) Byte(v *byte) {
	*v = r.in.readByte()
}

func (r *tightReader) Int32(v *int32) {
	*v = r.in.readInt32()
}

func (r *tightReader) Long(v *int64) {
	if r.bs.ReadBool() {
		if r.bs.ReadBool() {
			*v = r.in.readInt64()
		} else {
			*v = int64(uint32(r.in.readInt32()))
		}
	} else if r.bs.ReadBool() {
		*v = int64(uint16(r.in.readInt16()))
	} else {
		*v = 0
	}
}

func (r *tightReader) String(v *string) {
	if !r.bs.ReadBool() {
		*v = ""
		return
	}
	ascii := r.bs.ReadBool()
	raw := r.in.readString16()
	if r.in.err != nil {
		return
	}
	if ascii {
		*v = string(raw)
		return
	}
	s, err := ModifiedUTF8ToASCII(raw)
	if err != nil {
		r.in.fail(err)
		return
	}
	*v = s
}

func (r *tightReader) Bytes(v *[]byte) {
	if !r.bs.ReadBool() {
		*v = nil
		return
	}
	n := int(r.in.readInt32())
	if r.in.err != nil {
		return
	}
	if n < 0 {
		r.in.fail(newProtocolError("negative byte array length %d", n))
		return
	}
	buf := make([]byte, n)
	r.in.readFull(buf)
	*v = buf
}

func (r *tightReader) Nested(v *commands.DataStructure) {
	if !r.bs.ReadBool() {
		*v = nil
		return
	}
	typ := r.in.readByte()
	if r.in.err != nil {
		return
	}
	ds := commands.New(typ)
	if ds == nil {
		r.in.fail(newProtocolError("unknown data type: %d", typ))
		return
	}
	if _, ok := ds.(commands.MarshalAware); ok && r.bs.ReadBool() {
		// The nested structure was sent as its pre-marshalled frame:
		// size, type tag, its own boolean stream, then the payload.
		r.in.readInt32()
		r.in.readByte()
		sub := &BooleanStream{}
		sub.Unmarshal(r.in)
		inner := &tightReader{f: r.f, bs: sub, version: r.version, in: r.in}
		ds.Walk(inner, r.version)
	} else {
		ds.Walk(r, r.version)
	}
	*v = ds
}

func (r *tightReader) NestedArray(v *[]commands.DataStructure) {
	if !r.bs.ReadBool() {
		*v = nil
		return
	}
	n := int(r.in.readInt16())
	if r.in.err != nil {
		return
	}
	if n < 0 {
		r.in.fail(newProtocolError("negative array length %d", n))
		return
	}
	arr := make([]commands.DataStructure, n)
	for i := range arr {
		r.Nested(&arr[i])
		if r.in.err != nil {
			return
		}
	}
	*v = arr
}

func (r *tightReader) Throwable(v **commands.BrokerError) {
	if !r.bs.ReadBool() {
		*v = nil
		return
	}
	e := new(commands.BrokerError)
	r.String(&e.ExceptionClass)
	r.String(&e.Message)
	if r.f.stackTraceEnabled {
		n := int(r.in.readInt16())
		if r.in.err != nil {
			return
		}
		if n < 0 {
			r.in.fail(newProtocolError("negative stack trace length %d", n))
			return
		}
		if n > 0 {
			e.StackTrace = make([]commands.StackTraceElement, n)
		}
		for i := range e.StackTrace {
			el := &e.StackTrace[i]
			r.String(&el.ClassName)
			r.String(&el.MethodName)
			r.String(&el.FileName)
			el.LineNumber = r.in.readInt32()
		}
		r.Throwable(&e.Cause)
	}
	*v = e
}

// looseWriter emits the loose form: every nullable field carries an
// inline presence byte, primitives are full width.
type looseWriter struct {
	f       *Format
	version int
	out     *dataOutput
}

func (w *looseWriter) Bool(v *bool) {
	w.out.writeBool(*v)
}

func (w *looseWriter) Byte(v *byte) {
	w.out.writeByte(*v)
}

func (w *looseWriter) Int32(v *int32) {
	w.out.writeInt32(*v)
}

func (w *looseWriter) Long(v *int64) {
	w.out.writeInt64(*v)
}

func (w *looseWriter) String(v *string) {
	present := *v != ""
	w.out.writeBool(present)
	if present {
		w.out.writeString16(ASCIIToModifiedUTF8(*v))
	}
}

func (w *looseWriter) Bytes(v *[]byte) {
	present := *v != nil
	w.out.writeBool(present)
	if present {
		w.out.writeInt32(int32(len(*v)))
		w.out.write(*v)
	}
}

func (w *looseWriter) Nested(v *commands.DataStructure) {
	ds := *v
	w.out.writeBool(ds != nil)
	if ds == nil {
		return
	}
	w.out.writeByte(ds.DataStructureType())
	ds.Walk(w, w.version)
}

func (w *looseWriter) NestedArray(v *[]commands.DataStructure) {
	present := *v != nil
	w.out.writeBool(present)
	if !present {
		return
	}
	w.out.writeInt16(int16(len(*v)))
	for i := range *v {
		w.Nested(&(*v)[i])
	}
}

func (w *looseWriter) Throwable(v **commands.BrokerError) {
	e := *v
	w.out.writeBool(e != nil)
	if e == nil {
		return
	}
	w.String(&e.ExceptionClass)
	w.String(&e.Message)
	if w.f.stackTraceEnabled {
		w.out.writeInt16(int16(len(e.StackTrace)))
		for i := range e.StackTrace {
			el := &e.StackTrace[i]
			w.String(&el.ClassName)
			w.String(&el.MethodName)
			w.String(&el.FileName)
			w.out.writeInt32(el.LineNumber)
		}
		w.Throwable(&e.Cause)
	}
}

// looseReader mirrors looseWriter.
type looseReader struct {
	f       *Format
	version int
	in      *dataInput
}

func (r *looseReader) Bool(v *bool) {
	*v = r.in.readBool()
}

func (r *looseReader) Byte(v *byte) {
	*v = r.in.readByte()
}

func (r *looseReader) Int32(v *int32) {
	*v = r.in.readInt32()
}

func (r *looseReader) Long(v *int64) {
	*v = r.in.readInt64()
}

func (r *looseReader) String(v *string) {
	if !r.in.readBool() {
		*v = ""
		return
	}
	raw := r.in.readString16()
	if r.in.err != nil {
		return
	}
	s, err := ModifiedUTF8ToASCII(raw)
	if err != nil {
		r.in.fail(err)
		return
	}
	*v = s
}

func (r *looseReader) Bytes(v *[]byte) {
	if !r.in.readBool() {
		*v = nil
		return
	}
	n := int(r.in.readInt32())
	if r.in.err != nil {
		return
	}
	if n < 0 {
		r.in.fail(newProtocolError("negative byte array length %d", n))
		return
	}
	buf := make([]byte, n)
	r.in.readFull(buf)
	*v = buf
}

func (r *looseReader) Nested(v *commands.DataStructure) {
	if !r.in.readBool() {
		*v = nil
		return
	}
	typ := r.in.readByte()
	if r.in.err != nil {
		return
	}
	ds := commands.New(typ)
	if ds == nil {
		r.in.fail(newProtocolError("unknown data type: %d", typ))
		return
	}
	ds.Walk(r, r.version)
	*v = ds
}

func (r *looseReader) NestedArray(v *[]commands.DataStructure) {
	if !r.in.readBool() {
		*v = nil
		return
	}
	n := int(r.in.readInt16())
	if r.in.err != nil {
		return
	}
	if n < 0 {
		r.in.fail(newProtocolError("negative array length %d", n))
		return
	}
	arr := make([]commands.DataStructure, n)
	for i := range arr {
		r.Nested(&arr[i])
		if r.in.err != nil {
			return
		}
	}
	*v = arr
}

func (r *looseReader) Throwable(v **commands.BrokerError) {
	if !r.in.readBool() {
		*v = nil
		return
	}
	e := new(commands.BrokerError)
	r.String(&e.ExceptionClass)
	r.String(&e.Message)
	if r.f.stackTraceEnabled {
		n := int(r.in.readInt16())
		if r.in.err != nil {
			return
		}
		if n < 0 {
			r.in.fail(newProtocolError("negative stack trace length %d", n))
			return
		}
		if n > 0 {
			e.StackTrace = make([]commands.StackTraceElement, n)
		}
		for i := range e.StackTrace {
			el := &e.StackTrace[i]
			r.String(&el.ClassName)
			r.String(&el.MethodName)
			r.String(&el.FileName)
			el.LineNumber = r.in.readInt32()
		}
		r.Throwable(&e.Cause)
	}
	*v = e
}
