package capture

import (
	"bytes"
	"testing"
)

func TestNALTypes(t *testing.T) {
	stream := []byte{
		0, 0, 0, 1, 0x67, 0xAA, // SPS
		0, 0, 1, 0x68, 0xBB, // PPS
		0, 0, 0, 1, 0x65, 0xCC, // IDR
	}
	got := nalTypes(stream)
	want := []byte{nalSPS, nalPPS, nalIDR}
	if !bytes.Equal(got, want) {
		t.Errorf("nalTypes() = %v, want %v", got, want)
	}
}

func TestAssemblerWaitsForKeyframe(t *testing.T) {
	a := newH264Assembler(0)

	// Single NAL unit packets: the payload is the NAL itself.
	need, err := a.Write([]byte{0x41, 0x01, 0x02}) // non-IDR slice
	if err != nil {
		t.Fatal(err)
	}
	if !need || a.Ready() {
		t.Fatalf("slice before SPS: need=%v ready=%v", need, a.Ready())
	}

	for _, nal := range [][]byte{
		{0x67, 0x42, 0x00, 0x1F}, // SPS
		{0x68, 0xCE, 0x3C, 0x80}, // PPS
		{0x65, 0x88, 0x84, 0x00}, // IDR
	} {
		if need, err := a.Write(nal); err != nil || need {
			t.Fatalf("Write(%x) = %v, %v", nal[0], need, err)
		}
	}
	if !a.Ready() {
		t.Fatal("assembler should be ready after SPS+IDR")
	}

	a.Write([]byte{0x41, 0x9A, 0x02})
	snap := a.Snapshot()
	if got := nalTypes(snap); !bytes.Equal(got, []byte{nalSPS, nalPPS, nalIDR, nalSlice}) {
		t.Errorf("snapshot NAL types = %v", got)
	}
}

func TestAssemblerNewSPSResets(t *testing.T) {
	a := newH264Assembler(0)
	a.Write([]byte{0x67, 0x01})
	a.Write([]byte{0x65, 0x01})
	a.Write([]byte{0x41, 0x01})
	a.Write([]byte{0x67, 0x02})

	if a.Ready() {
		t.Error("a new SPS starts a new GOP that has no IDR yet")
	}
	if got := nalTypes(a.Snapshot()); !bytes.Equal(got, []byte{nalSPS}) {
		t.Errorf("snapshot NAL types = %v", got)
	}
}

func TestAssemblerCap(t *testing.T) {
	a := newH264Assembler(16)
	a.Write([]byte{0x67, 0x01})
	a.Write([]byte{0x65, 0x01})
	need, _ := a.Write(append([]byte{0x41}, make([]byte, 32)...))
	if !need {
		t.Error("exceeding the cap should request a keyframe")
	}
	if a.Ready() || len(a.Snapshot()) != 0 {
		t.Error("exceeding the cap should drop the GOP")
	}
}

func TestLastJPEG(t *testing.T) {
	first := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0xFF, 0xE0, 2, 0xFF, 0xD9}
	truncated := []byte{0xFF, 0xD8, 0xFF, 0xE0, 3}

	tests := []struct {
		name    string
		stream  []byte
		want    []byte
		wantErr bool
	}{
		{"single", first, first, false},
		{"picks last", append(append([]byte{}, first...), second...), second, false},
		{"skips truncated", append(append([]byte{}, first...), truncated...), first, false},
		{"only truncated", truncated, nil, true},
		{"garbage", []byte("not a jpeg"), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lastJPEG(tt.stream)
			if (err != nil) != tt.wantErr {
				t.Fatalf("lastJPEG() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("lastJPEG() = %x, want %x", got, tt.want)
			}
		})
	}
}
