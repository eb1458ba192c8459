package queue

import "testing"

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		EvaluationID: "eval-1",
		RequestID:    "req-1",
		EnqueuedAt:   "2025-06-01T12:00:00Z",
		Version:      1,
	}

	raw, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage error: %v", err)
	}
	decoded, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if decoded != msg {
		t.Errorf("decoded = %+v, want %+v", decoded, msg)
	}
}

func TestDecodeMessageFieldNames(t *testing.T) {
	raw := []byte(`{"evaluationId":"eval-2","requestId":"req-2","enqueuedAt":"2025-06-01T12:00:00Z","version":1}`)
	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage error: %v", err)
	}
	if msg.EvaluationID != "eval-2" || msg.RequestID != "req-2" || msg.Version != 1 {
		t.Errorf("decoded = %+v", msg)
	}
}

func TestDecodeMessageRejectsBadJSON(t *testing.T) {
	if _, err := DecodeMessage([]byte("{not json")); err == nil {
		t.Fatal("DecodeMessage accepted malformed payload")
	}
}
