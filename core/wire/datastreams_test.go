// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModifiedUTF8RoundTrip(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"queue://some.queue.name",
		"embedded\x00nul",
		"high bytes \xff\xfe\x80",
		string([]byte{0, 1, 127, 128, 255}),
	}
	for _, s := range cases {
		enc := ASCIIToModifiedUTF8(s)
		back, err := ModifiedUTF8ToASCII(enc)
		require.NoError(t, err, "input %q", s)
		assert.Equal(t, s, back, "input %q", s)
	}
}

func TestModifiedUTF8ExpandsHighBytes(t *testing.T) {
	enc := ASCIIToModifiedUTF8("a\x80b")
	// 'a' and 'b' pass through, 0x80 takes two bytes.
	assert.Len(t, enc, 4)

	enc = ASCIIToModifiedUTF8("plain ascii")
	assert.Equal(t, []byte("plain ascii"), enc)
}

func TestModifiedUTF8RejectsWideCodePoints(t *testing.T) {
	// Three byte sequence encodes a code point above 0xFF.
	_, err := ModifiedUTF8ToASCII([]byte{0xE1, 0x80, 0x80})
	require.Error(t, err)

	// Two byte sequence with payload bits above 0xFF.
	_, err = ModifiedUTF8ToASCII([]byte{0xDF, 0xBF})
	require.Error(t, err)

	// Truncated sequence.
	_, err = ModifiedUTF8ToASCII([]byte{0xC2})
	require.Error(t, err)

	// Bad continuation byte.
	_, err = ModifiedUTF8ToASCII([]byte{0xC2, 0x00})
	require.Error(t, err)
}

func TestTaggedStringForms(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "short"))
	assert.Equal(t, stringTag, buf.Bytes()[0])
	got, err := ReadString(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "short", got)

	long := string(bytes.Repeat([]byte{'x'}, 10000))
	buf.Reset()
	require.NoError(t, WriteString(&buf, long))
	assert.Equal(t, bigStringTag, buf.Bytes()[0])
	got, err = ReadString(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, long, got)

	_, err = ReadString(bytes.NewReader([]byte{42, 0, 0}))
	require.Error(t, err)
}

func TestDataInputShortRead(t *testing.T) {
	in := &dataInput{r: bytes.NewReader([]byte{0x00, 0x01})}
	in.readInt32()
	require.Error(t, in.err)
	var pe *ProtocolError
	assert.ErrorAs(t, in.err, &pe)
}
