package pbxstream

import (
	"slices"
	"testing"
)

func TestSubscriptionRequest_RoundTrip(t *testing.T) {
	encoded, err := NewSubscriptionRequest([]int{30011}).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(encoded) != `{"topic_list":[30011]}` {
		t.Fatalf("Encode() = %s", encoded)
	}
	decoded, err := DecodeSubscriptionRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeSubscriptionRequest() error = %v", err)
	}
	if !slices.Equal(decoded.Topics, []int{30011}) {
		t.Fatalf("Topics = %v, want [30011]", decoded.Topics)
	}
}

func TestSubscriptionRequest_EmptyAndDuplicates(t *testing.T) {
	encoded, err := NewSubscriptionRequest(nil).Encode()
	if err != nil || string(encoded) != `{"topic_list":[]}` {
		t.Fatalf("Encode(nil) = %s, %v", encoded, err)
	}
	if got := NewSubscriptionRequest([]int{30011, 30012, 30011}).Topics; !slices.Equal(got, []int{30011, 30012}) {
		t.Fatalf("Topics = %v", got)
	}
	if _, err := DecodeSubscriptionRequest([]byte(`{"other":1}`)); err == nil {
		t.Fatalf("expected error for missing topic_list")
	}
}

func TestClassifyFrame(t *testing.T) {
	tests := []struct {
		frame string
		want  FrameKind
	}{
		{frame: "heartbeat response", want: FrameHeartbeatAck},
		{frame: "Heartbeat", want: FrameHeartbeatAck},
		{frame: `{"errcode":0,"errmsg":"heartbeat ok"}`, want: FrameHeartbeatAck},
		{frame: `{"type":30011,"msg":"{\"note\":\"heartbeat\"}"}`, want: FrameEnvelope},
		{frame: `{"type":30011,"msg":"{}"}`, want: FrameEnvelope},
		{frame: `{"errcode":0,"errmsg":"SUCCESS"}`, want: FrameEnvelope},
		{frame: `{broken`, want: FrameMalformed},
		{frame: `[1,2]`, want: FrameMalformed},
		{frame: ``, want: FrameMalformed},
	}
	for _, tt := range tests {
		if got := ClassifyFrame([]byte(tt.frame)); got != tt.want {
			t.Fatalf("ClassifyFrame(%q) = %v, want %v", tt.frame, got, tt.want)
		}
	}
}
