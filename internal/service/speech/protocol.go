package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// openspeech 二进制帧格式：
//
//	byte0  version(4) | header words(4)
//	byte1  frame type(4) | flags(4)
//	byte2  serialization(4) | compression(4)
//	byte3  reserved
//	[sequence int32] [event int32 [session id] [connect id]] [error code] size uint32, payload
const protocolVersion = 0b0001

type frameType uint8

const (
	frameFullClient  frameType = 0b0001
	frameAudioOnly   frameType = 0b0010
	frameFullServer  frameType = 0b1001
	frameAudioServer frameType = 0b1011
	frameError       frameType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence  frameFlags = 0b0000
	flagPositiveSeq frameFlags = 0b0001
	flagLastNoSeq   frameFlags = 0b0010
	flagNegativeSeq frameFlags = 0b0011
	flagEvent       frameFlags = 0b0100

	sequenceMask frameFlags = 0b0011
)

type serialization uint8

const (
	serialRaw  serialization = 0b0000
	serialJSON serialization = 0b0001
)

type compression uint8

const (
	compressNone compression = 0b0000
	compressGzip compression = 0b0001
)

// eventType 表示服务端事件编号
type eventType int32

const (
	eventNone               eventType = 0
	eventStartConnection    eventType = 1
	eventFinishConnection   eventType = 2
	eventConnectionStarted  eventType = 50
	eventConnectionFailed   eventType = 51
	eventConnectionFinished eventType = 52
	eventSessionStarted     eventType = 150
	eventSessionFinished    eventType = 152
	eventSessionFailed      eventType = 153
)

type frame struct {
	kind        frameType
	flags       frameFlags
	serial      serialization
	compress    compression
	headerWords uint8

	sequence  int32
	event     eventType
	sessionID string
	connectID string
	errorCode uint32
	payload   []byte
}

func (f *frame) hasSequence() bool {
	switch f.flags & sequenceMask {
	case flagPositiveSeq, flagNegativeSeq:
		return true
	}
	return false
}

func (f *frame) hasEvent() bool {
	return f.flags&flagEvent != 0
}

// isLast 判断是否为最后一包
func (f *frame) isLast() bool {
	switch f.flags & sequenceMask {
	case flagLastNoSeq, flagNegativeSeq:
		return true
	}
	return false
}

func (f *frame) finishesSession() bool {
	return f.hasEvent() && f.event == eventSessionFinished
}

// marshal 编码完整帧
func (f *frame) marshal() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		protocolVersion<<4 | 0b0001,
		byte(f.kind)<<4 | byte(f.flags&0x0F),
		byte(f.serial)<<4 | byte(f.compress&0x0F),
		0x00,
	})

	if f.hasSequence() {
		putUint32(&buf, uint32(f.sequence))
	}
	if f.hasEvent() {
		putUint32(&buf, uint32(f.event))
		if carriesSessionID(f.event) {
			putString(&buf, f.sessionID)
		}
		if carriesConnectID(f.event) {
			putString(&buf, f.connectID)
		}
	}
	if f.kind == frameError {
		putUint32(&buf, f.errorCode)
	}

	putUint32(&buf, uint32(len(f.payload)))
	buf.Write(f.payload)
	return buf.Bytes()
}

// parseFrame 解码服务端返回的一帧
func parseFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if version := head[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}

	f := &frame{
		headerWords: head[0] & 0x0F,
		kind:        frameType(head[1] >> 4),
		flags:       frameFlags(head[1] & 0x0F),
		serial:      serialization(head[2] >> 4),
		compress:    compression(head[2] & 0x0F),
	}

	if extra := int(f.headerWords)*4 - 4; extra > 0 {
		if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	if f.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.sequence = int32(seq)
	}

	if f.hasEvent() {
		ev, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.event = eventType(int32(ev))
		if carriesSessionID(f.event) {
			if f.sessionID, err = readString(r); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if carriesConnectID(f.event) {
			if f.connectID, err = readString(r); err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}

	if f.kind == frameError {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		f.errorCode = code
	}

	size, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if size > 0 {
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("payload truncated: want %d bytes, have %d", size, r.Len())
		}
		f.payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}

	return f, nil
}

// decodedPayload 返回解压后的 payload
func (f *frame) decodedPayload() ([]byte, error) {
	return decompressPayload(f.payload, f.compress)
}

func newFullClientFrame(payload []byte, c compression) *frame {
	return &frame{kind: frameFullClient, flags: flagNoSequence, serial: serialJSON, compress: c, payload: payload}
}

// newAudioFrame 创建音频包，最后一包使用负序号
func newAudioFrame(chunk []byte, sequence int32, last bool, c compression) *frame {
	f := &frame{kind: frameAudioOnly, serial: serialRaw, compress: c, sequence: sequence, payload: chunk}
	switch {
	case last && sequence != 0:
		f.flags = flagNegativeSeq
		f.sequence = -sequence
	case last:
		f.flags = flagLastNoSeq
	case sequence > 0:
		f.flags = flagPositiveSeq
	default:
		f.flags = flagNoSequence
	}
	return f
}

func carriesSessionID(ev eventType) bool {
	switch ev {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return false
	}
	return true
}

func carriesConnectID(ev eventType) bool {
	switch ev {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("string truncated: want %d bytes, have %d", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
