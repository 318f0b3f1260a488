package sessions

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const sessionCodecVersion byte = 1

// ErrCorruptSession is returned when a stored session blob cannot be decoded.
var ErrCorruptSession = errors.New("corrupt session record")

func encodeSession(sess *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionCodecVersion)

	if err := binary.Write(&buf, binary.BigEndian, sess.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, sess.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{sess.SessionID, sess.UserID, sess.Role} {
		if len(field) > math.MaxUint16 {
			return nil, ErrCorruptSession
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	buf := bytes.NewReader(data)

	version, err := buf.ReadByte()
	if err != nil || version != sessionCodecVersion {
		return nil, ErrCorruptSession
	}

	var sess Session
	if err := binary.Read(buf, binary.BigEndian, &sess.CreatedAt); err != nil {
		return nil, ErrCorruptSession
	}
	if err := binary.Read(buf, binary.BigEndian, &sess.ExpiresAt); err != nil {
		return nil, ErrCorruptSession
	}

	fields := []*string{&sess.SessionID, &sess.UserID, &sess.Role}
	for _, field := range fields {
		var length uint16
		if err := binary.Read(buf, binary.BigEndian, &length); err != nil {
			return nil, ErrCorruptSession
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(buf, raw); err != nil {
			return nil, ErrCorruptSession
		}
		*field = string(raw)
	}

	return &sess, nil
}
