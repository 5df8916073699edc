package speech

import (
	"bytes"
	"testing"
)

// TestProtocolEncoding 测试二进制协议编解码
func TestProtocolEncoding(t *testing.T) {
	testPayload := []byte("test payload data")
	header := NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, GzipCompression)

	originalMsg := &Message{
		Header:      header,
		PayloadSize: uint32(len(testPayload)),
		Payload:     testPayload,
	}

	encodedData, err := EncodeMessage(originalMsg)
	if err != nil {
		t.Fatalf("Failed to encode message: %v", err)
	}

	decodedMsg, err := DecodeFrame(encodedData)
	if err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}

	if decodedMsg.Header.MessageType != originalMsg.Header.MessageType {
		t.Errorf("Message type mismatch: got %v, want %v", decodedMsg.Header.MessageType, originalMsg.Header.MessageType)
	}
	if decodedMsg.PayloadSize != originalMsg.PayloadSize {
		t.Errorf("Payload size mismatch: got %v, want %v", decodedMsg.PayloadSize, originalMsg.PayloadSize)
	}
	if !bytes.Equal(decodedMsg.Payload, originalMsg.Payload) {
		t.Errorf("Payload mismatch: got %v, want %v", decodedMsg.Payload, originalMsg.Payload)
	}
}

func TestAudioOnlyRequestSequence(t *testing.T) {
	cases := []struct {
		name     string
		sequence int32
		last     bool
		wantSeq  int32
		wantLast bool
	}{
		{name: "middle chunk", sequence: 3, last: false, wantSeq: 3, wantLast: false},
		{name: "last chunk", sequence: 4, last: true, wantSeq: -4, wantLast: true},
		{name: "last without sequence", sequence: 0, last: true, wantSeq: 0, wantLast: true},
	}

	for _, tc := range cases {
		data, err := EncodeMessage(CreateAudioOnlyRequest([]byte{1, 2}, tc.sequence, tc.last, NoCompression))
		if err != nil {
			t.Fatalf("%s: encode failed: %v", tc.name, err)
		}
		msg, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", tc.name, err)
		}
		if msg.Sequence != tc.wantSeq {
			t.Errorf("%s: sequence = %d, want %d", tc.name, msg.Sequence, tc.wantSeq)
		}
		if msg.IsLastPacket() != tc.wantLast {
			t.Errorf("%s: IsLastPacket = %v, want %v", tc.name, msg.IsLastPacket(), tc.wantLast)
		}
	}
}

func TestEventFrameRoundTrip(t *testing.T) {
	msg := &Message{
		Header:    NewHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		EventType: EventTypeConnectionStarted,
		ConnectID: "conn-1",
		Payload:   []byte("{}"),
	}
	msg.PayloadSize = uint32(len(msg.Payload))

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.EventType != EventTypeConnectionStarted || got.ConnectID != "conn-1" || got.SessionID != "" {
		t.Fatalf("unexpected event frame: %+v", got)
	}
}

func TestErrorFrameCarriesCode(t *testing.T) {
	msg := &Message{
		Header:      NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode:   45000001,
		Payload:     []byte("bad request"),
		PayloadSize: 11,
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !got.IsErrorMessage() || got.ErrorCode != 45000001 || string(got.Payload) != "bad request" {
		t.Fatalf("unexpected error frame: %+v", got)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := DecodeFrame([]byte{0x21, 0x10, 0x10, 0x00, 0, 0, 0, 0}); err == nil {
		t.Fatalf("expected version error")
	}
}

// TestCompressionFunctions 测试压缩功能
func TestCompressionFunctions(t *testing.T) {
	testData := []byte("This is a test string for compression testing. " +
		"It should be long enough to see the compression effect. " +
		"Repeat: This is a test string for compression testing.")

	compressed, err := CompressPayload(testData, GzipCompression)
	if err != nil {
		t.Fatalf("Failed to compress data: %v", err)
	}

	decompressed, err := DecompressPayload(compressed, GzipCompression)
	if err != nil {
		t.Fatalf("Failed to decompress data: %v", err)
	}
	if !bytes.Equal(decompressed, testData) {
		t.Errorf("Decompressed data doesn't match original")
	}

	if _, err := CompressPayload(testData, CustomCompression); err == nil {
		t.Errorf("expected error for custom compression")
	}
}
