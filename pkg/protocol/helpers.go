package protocol

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Message Constructors
// =============================================================================

// NewFrameMessage creates a frame message from JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewDeviceErrorMessage creates a device error report
func NewDeviceErrorMessage(kind, message string) (*Message, error) {
	return NewMessage(TypeDeviceError, DeviceErrorData{Kind: kind, Message: message})
}

// NewTriggerMessage creates a sample trigger request
func NewTriggerMessage() (*Message, error) {
	return NewMessage(TypeTrigger, nil)
}

// NewLabelMessage creates a display update
func NewLabelMessage(label LabelData) (*Message, error) {
	return NewMessage(TypeLabel, label)
}

// NewRetryMessage asks capture clients to reacquire their camera
func NewRetryMessage() (*Message, error) {
	return NewMessage(TypeRetry, nil)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage creates a pong response
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	latency := int64(0)
	if pingTS > 0 {
		latency = pongTS - pingTS
	}
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: latency,
	})
}

// =============================================================================
// Message Data Extractors
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	if m.Type != TypeFrame {
		return nil, fmt.Errorf("expected frame message, got %s", m.Type)
	}
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 frame data. A leading data URL prefix
// ("data:image/jpeg;base64,") as produced by canvas.toDataURL is stripped.
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	payload := f.Data
	if strings.HasPrefix(payload, "data:") {
		if i := strings.IndexByte(payload, ','); i >= 0 {
			payload = payload[i+1:]
		}
	}
	if payload == "" {
		return nil, fmt.Errorf("empty frame data")
	}
	return base64.StdEncoding.DecodeString(payload)
}

// GetDeviceErrorData extracts a device error report from a message
func (m *Message) GetDeviceErrorData() (*DeviceErrorData, error) {
	if m.Type != TypeDeviceError {
		return nil, fmt.Errorf("expected device_error message, got %s", m.Type)
	}
	var data DeviceErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetLabelData extracts a display update from a message
func (m *Message) GetLabelData() (*LabelData, error) {
	if m.Type != TypeLabel {
		return nil, fmt.Errorf("expected label message, got %s", m.Type)
	}
	var data LabelData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	if m.Type != TypePing {
		return nil, fmt.Errorf("expected ping message, got %s", m.Type)
	}
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	if m.Type != TypePong {
		return nil, fmt.Errorf("expected pong message, got %s", m.Type)
	}
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
