package speech

import (
	"bytes"
	"testing"
)

func TestFrameRoundTripFullClient(t *testing.T) {
	payload := []byte(`{"hello":"plant"}`)
	compressed, err := compressPayload(payload, compressGzip)
	if err != nil {
		t.Fatalf("compress err: %v", err)
	}

	parsed, err := parseFrame(newFullClientFrame(compressed, compressGzip).marshal())
	if err != nil {
		t.Fatalf("parseFrame err: %v", err)
	}
	if parsed.kind != frameFullClient || parsed.compress != compressGzip || parsed.serial != serialJSON {
		t.Fatalf("unexpected header: %+v", parsed)
	}

	got, err := parsed.decodedPayload()
	if err != nil {
		t.Fatalf("decode payload err: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestAudioFrameSequenceFlags(t *testing.T) {
	mid, err := parseFrame(newAudioFrame([]byte("a"), 2, false, compressNone).marshal())
	if err != nil {
		t.Fatalf("parse mid err: %v", err)
	}
	if mid.sequence != 2 || mid.isLast() {
		t.Fatalf("mid frame: seq=%d last=%v", mid.sequence, mid.isLast())
	}

	last, err := parseFrame(newAudioFrame([]byte("b"), 5, true, compressNone).marshal())
	if err != nil {
		t.Fatalf("parse last err: %v", err)
	}
	if last.sequence != -5 || !last.isLast() {
		t.Fatalf("last frame: seq=%d last=%v", last.sequence, last.isLast())
	}

	bare := newAudioFrame([]byte("c"), 0, true, compressNone)
	if bare.flags != flagLastNoSeq || bare.hasSequence() {
		t.Fatalf("expected last-without-sequence flags, got %04b", bare.flags)
	}
}

func TestEventFrameCarriesIDs(t *testing.T) {
	session := &frame{kind: frameFullServer, flags: flagEvent, serial: serialJSON, event: eventSessionFinished, sessionID: "sess-1", payload: []byte("{}")}
	parsed, err := parseFrame(session.marshal())
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if !parsed.finishesSession() || parsed.sessionID != "sess-1" {
		t.Fatalf("unexpected event frame: %+v", parsed)
	}

	conn := &frame{kind: frameFullServer, flags: flagEvent, event: eventConnectionStarted, connectID: "conn-9"}
	parsed, err = parseFrame(conn.marshal())
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if parsed.sessionID != "" || parsed.connectID != "conn-9" {
		t.Fatalf("connection event ids: session=%q connect=%q", parsed.sessionID, parsed.connectID)
	}
}

func TestErrorFrameCode(t *testing.T) {
	parsed, err := parseFrame((&frame{kind: frameError, errorCode: 45000001, payload: []byte("bad request")}).marshal())
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if parsed.errorCode != 45000001 || string(parsed.payload) != "bad request" {
		t.Fatalf("unexpected error frame: %+v", parsed)
	}
}

func TestParseFrameRejectsBadInput(t *testing.T) {
	if _, err := parseFrame([]byte{0x21, 0x10, 0x00, 0x00, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected version error")
	}

	truncated := newFullClientFrame([]byte("0123456789"), compressNone).marshal()
	if _, err := parseFrame(truncated[:len(truncated)-3]); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("leaf spot "), 50)
	compressed, err := compressPayload(data, compressGzip)
	if err != nil {
		t.Fatalf("compress err: %v", err)
	}
	if len(compressed) >= len(data) {
		t.Fatalf("expected compression, got %d >= %d", len(compressed), len(data))
	}
	back, err := decompressPayload(compressed, compressGzip)
	if err != nil {
		t.Fatalf("decompress err: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("gzip round trip mismatch")
	}

	if _, err := compressPayload(data, compression(0b0111)); err == nil {
		t.Fatal("expected unsupported compression error")
	}
}
