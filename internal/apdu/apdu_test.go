package apdu

import (
	"bytes"
	"testing"
)

func TestLoadAuthKey(t *testing.T) {
	key := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	got := LoadAuthKey(0x00, key)
	want := []byte{0xFF, 0x82, 0x00, 0x00, 0x06, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Fatalf("LoadAuthKey() = % X, want % X", got, want)
	}
}

func TestAuthenticateV207(t *testing.T) {
	got := AuthenticateV207(0x04, KeyTypeA, 0x00)
	want := []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, 0x04, 0x60, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("AuthenticateV207() = % X, want % X", got, want)
	}
}

func TestAuthenticateV201(t *testing.T) {
	got := AuthenticateV201(0x04, KeyTypeA, 0x00)
	want := []byte{0xFF, 0x88, 0x00, 0x04, 0x60, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("AuthenticateV201() = % X, want % X", got, want)
	}
}

func TestGetUID(t *testing.T) {
	got := GetUID()
	want := []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("GetUID() = % X, want % X", got, want)
	}
}

func TestSelectAID(t *testing.T) {
	aid := []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	got := SelectAID(aid)
	want := []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("SelectAID() = % X, want % X", got, want)
	}
}

func TestUpdateBinary(t *testing.T) {
	got := UpdateBinary(0x01, []byte{0x01, 0x02, 0x03, 0x04})
	want := []byte{0xFF, 0xD6, 0x00, 0x01, 0x04, 0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(got, want) {
		t.Fatalf("UpdateBinary() = % X, want % X", got, want)
	}
}

func TestReadBinary(t *testing.T) {
	got := ReadBinary(0xFF, 0x0004, 16)
	want := []byte{0xFF, 0xB0, 0x00, 0x04, 0x10}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadBinary() = % X, want % X", got, want)
	}
}

func TestParseSuccess(t *testing.T) {
	resp, err := Parse([]byte{0x11, 0x22, 0x90, 0x00})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !resp.Success() {
		t.Fatalf("Success() = false, want true")
	}
	if !bytes.Equal(resp.Data, []byte{0x11, 0x22}) {
		t.Fatalf("Data = % X, want 11 22", resp.Data)
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := Parse([]byte{0x90}); err == nil {
		t.Fatal("Parse() error = nil, want error for short response")
	}
}

func TestParseFileNotFound(t *testing.T) {
	resp, err := Parse([]byte{0x6A, 0x82})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if resp.Status != StatusFileNotFound {
		t.Fatalf("Status = %04X, want 6A82", resp.Status)
	}
}
