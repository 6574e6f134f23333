package recordlayer

import (
	"bytes"
	"testing"
)

func testKeys(t *testing.T) Keys {
	t.Helper()
	psk := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, 16)
	keys, err := DeriveKeys(psk, iv)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	return keys
}

// TestEncryptDecryptRoundTrip models a client Framer talking to a mirror-role
// appliance Framer: the client's outbound (tagE) frames are verified by the
// appliance's inbound (tagE) check, and vice versa.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := testKeys(t)
	client := NewFramer(keys, RoleClient)
	appliance := NewFramer(keys, RoleServer)

	messages := [][]byte{
		[]byte(`{"resource":"/ro/values"}`),
		[]byte(""),
		bytes.Repeat([]byte("x"), 1000),
	}
	for _, m := range messages {
		frame, err := client.Encrypt(m)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := appliance.Decrypt(frame)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, m) {
			t.Fatalf("got %q, want %q", got, m)
		}

		reply, err := appliance.Encrypt([]byte("ack"))
		if err != nil {
			t.Fatalf("appliance Encrypt: %v", err)
		}
		if _, err := client.Decrypt(reply); err != nil {
			t.Fatalf("client Decrypt reply: %v", err)
		}
	}
}

// TestReflectionIsRejected exercises the reason direction tags exist: a
// frame the client sent, bounced straight back at it, must fail the client's
// own inbound verification instead of being accepted as if it came from the
// appliance.
func TestReflectionIsRejected(t *testing.T) {
	keys := testKeys(t)
	client := NewFramer(keys, RoleClient)

	frame, err := client.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := client.Decrypt(frame); err != ErrTagMismatch {
		t.Fatalf("expected reflected frame to be rejected, got %v", err)
	}
}

func TestMACChainOrderMatters(t *testing.T) {
	keys := testKeys(t)
	client := NewFramer(keys, RoleClient)

	frameA, err := client.Encrypt([]byte("A"))
	if err != nil {
		t.Fatalf("Encrypt A: %v", err)
	}
	frameB, err := client.Encrypt([]byte("B"))
	if err != nil {
		t.Fatalf("Encrypt B: %v", err)
	}

	appliance := NewFramer(keys, RoleServer)
	// Decrypting B before A must fail: B's tag was computed against A's tag as
	// the previous-tag input, but the appliance's rolling state is still all-zero.
	if _, err := appliance.Decrypt(frameB); err != ErrTagMismatch {
		t.Fatalf("expected ErrTagMismatch decrypting B first, got %v", err)
	}
	if appliance.LastRxHMAC() != ([16]byte{}) {
		t.Fatalf("rolling rx MAC must be unchanged after a failed verification")
	}

	if _, err := appliance.Decrypt(frameA); err != nil {
		t.Fatalf("Decrypt A: %v", err)
	}
	if _, err := appliance.Decrypt(frameB); err != nil {
		t.Fatalf("Decrypt B after A: %v", err)
	}
}

func TestDecryptRejectsShortFrame(t *testing.T) {
	keys := testKeys(t)
	rx := NewFramer(keys, RoleClient)
	if _, err := rx.Decrypt(make([]byte, 31)); err != ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestDecryptRejectsMisalignedFrame(t *testing.T) {
	keys := testKeys(t)
	rx := NewFramer(keys, RoleClient)
	if _, err := rx.Decrypt(make([]byte, 33)); err != ErrFrameMisaligned {
		t.Fatalf("expected ErrFrameMisaligned, got %v", err)
	}
}

func TestDecryptRejectsBadTag(t *testing.T) {
	keys := testKeys(t)
	client := NewFramer(keys, RoleClient)
	appliance := NewFramer(keys, RoleServer)

	frame, err := client.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF
	if _, err := appliance.Decrypt(frame); err != ErrTagMismatch {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
	if appliance.LastRxHMAC() != ([16]byte{}) {
		t.Fatalf("rolling rx MAC must be unchanged after a failed verification")
	}
}

func TestPaddingNeverProducesLengthOnePad(t *testing.T) {
	// Exercise every remainder so the pad_len==1 -> +=16 rule is hit (remainder 15).
	for l := 0; l < 32; l++ {
		padded, err := pad(make([]byte, l))
		if err != nil {
			t.Fatalf("pad(%d): %v", l, err)
		}
		if len(padded)%16 != 0 {
			t.Fatalf("pad(%d): length %d not a multiple of 16", l, len(padded))
		}
		padLen := int(padded[len(padded)-1])
		if padLen < 2 || padLen > 32 {
			t.Fatalf("pad(%d): pad_len %d out of [2,32]", l, padLen)
		}
		back, err := unpad(padded)
		if err != nil {
			t.Fatalf("unpad(%d): %v", l, err)
		}
		if len(back) != l {
			t.Fatalf("unpad(%d): got length %d", l, len(back))
		}
	}
}
