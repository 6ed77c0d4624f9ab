package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeFanout(t *testing.T) {
	gid := uuid.New()
	body, _ := json.Marshal(FanoutPayload{Audience: AudienceGroup, GroupID: &gid, Message: "status changed", Type: "request"})
	job := &Job{ID: "1", Type: JobTypeNotificationFanout, Payload: body}

	p, err := DecodeFanout(job)
	if err != nil {
		t.Fatalf("DecodeFanout: %v", err)
	}
	if p.Audience != AudienceGroup || p.GroupID == nil || *p.GroupID != gid || p.Message != "status changed" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestDecodeFanout_UnknownType(t *testing.T) {
	if _, err := DecodeFanout(&Job{Type: "other"}); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestDecodeFanout_BadPayload(t *testing.T) {
	if _, err := DecodeFanout(&Job{Type: JobTypeNotificationFanout, Payload: json.RawMessage(`"x"`)}); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
