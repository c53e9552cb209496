package protocol

import (
	"encoding/base64"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Width: 640, Height: 480, Format: "jpeg"},
			wantErr: false,
		},
		{
			name:    "label message",
			msgType: TypeLabel,
			data:    LabelData{State: "result", Text: "Recognized Sign: Hello", Label: "Hello"},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypeTrigger,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeFrame,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestFrameMessage(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10} // Fake JPEG header

	msg, err := NewFrameMessage(640, 480, jpegData, 1)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	parsed, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	frameData, err := parsed.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}
	if frameData.Width != 640 {
		t.Errorf("Width = %v, want 640", frameData.Width)
	}
	if frameData.Format != "jpeg" {
		t.Errorf("Format = %v, want jpeg", frameData.Format)
	}

	decoded, err := frameData.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if len(decoded) != len(jpegData) {
		t.Errorf("Decoded length = %v, want %v", len(decoded), len(jpegData))
	}
}

func TestDecodeFrameDataURL(t *testing.T) {
	payload := []byte("jpeg-bytes")
	fd := &FrameData{
		Format: "jpeg",
		Data:   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload),
	}
	decoded, err := fd.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if string(decoded) != "jpeg-bytes" {
		t.Errorf("decoded = %q", decoded)
	}

	empty := &FrameData{Data: "data:image/jpeg;base64,"}
	if _, err := empty.DecodeFrameData(); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestDeviceErrorMessage(t *testing.T) {
	msg, err := NewDeviceErrorMessage("NotAllowedError", "Permission denied")
	if err != nil {
		t.Fatalf("NewDeviceErrorMessage() error = %v", err)
	}
	data, err := msg.GetDeviceErrorData()
	if err != nil {
		t.Fatalf("GetDeviceErrorData() error = %v", err)
	}
	if data.Kind != "NotAllowedError" {
		t.Errorf("Kind = %q", data.Kind)
	}

	if _, err := msg.GetFrameData(); err == nil {
		t.Error("GetFrameData on a device_error message should fail")
	}
}

func TestLabelMessage(t *testing.T) {
	msg, err := NewLabelMessage(LabelData{State: "processing", Text: "Recognized Sign: Processing...", Seq: 3})
	if err != nil {
		t.Fatalf("NewLabelMessage() error = %v", err)
	}
	data, err := msg.GetLabelData()
	if err != nil {
		t.Fatalf("GetLabelData() error = %v", err)
	}
	if data.State != "processing" || data.Seq != 3 {
		t.Errorf("label = %+v", data)
	}
}

func TestPingPongMessage(t *testing.T) {
	ping, err := NewPingMessage("abc")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}
	pingData, err := ping.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "abc" || pingData.Timestamp == 0 {
		t.Errorf("ping = %+v", pingData)
	}

	pong, err := NewPongMessage("abc", 1000, 1025)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}
	pongData, err := pong.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.LatencyMs != 25 {
		t.Errorf("LatencyMs = %d, want 25", pongData.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "hello"},
		{"empty object", "{}"},
		{"array", "[1,2,3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.input)); err == nil {
				t.Errorf("ParseMessage(%q) should fail", tt.input)
			}
		})
	}
}
