package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	for _, role := range AllRoles {
		if !role.Valid() {
			t.Errorf("Expected %s to be valid", role)
		}
	}
	for _, role := range []Role{"", "admin", "JANITOR"} {
		if role.Valid() {
			t.Errorf("Expected %q to be invalid", role)
		}
	}
}

func TestRoomNames(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{UserRoom("u1"), "notifications:user:u1"},
		{RoleRoom(RoleTeacher), "notifications:TEACHER"},
		{ClassRoom("5b"), "notifications:class:5b"},
		{ChatRoom("7"), "chat:7"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Expected room %q, got %q", tt.want, tt.got)
		}
	}
	if !IsChatRoom("chat:7") || IsChatRoom("notifications:user:7") {
		t.Error("IsChatRoom misclassified a room")
	}
}

func TestNotification_TargetRooms(t *testing.T) {
	n := &Notification{
		TargetRoles:   []Role{RoleTeacher, RoleStudent},
		TargetUsers:   []string{"u1"},
		TargetClasses: []string{"c9"},
	}
	got := n.TargetRooms()
	want := []string{"notifications:TEACHER", "notifications:STUDENT", "notifications:user:u1", "notifications:class:c9"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestNotification_Validate(t *testing.T) {
	valid := Notification{Type: "GRADE", Title: "New grade", TargetRoles: []Role{RoleStudent}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid notification, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(n *Notification)
	}{
		{"missing type", func(n *Notification) { n.Type = "" }},
		{"missing title", func(n *Notification) { n.Title = "" }},
		{"bad role", func(n *Notification) { n.TargetRoles = []Role{"JANITOR"} }},
		{"bad user", func(n *Notification) { n.TargetUsers = []string{"not valid!"} }},
		{"bad priority", func(n *Notification) { n.Priority = "MEH" }},
		{"no targets", func(n *Notification) { n.TargetRoles = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid
			tt.mutate(&n)
			err := n.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestIdentity_Validate(t *testing.T) {
	if err := (Identity{UserID: "u1", Role: RoleTeacher}).Validate(); err != nil {
		t.Errorf("Expected valid identity, got %v", err)
	}
	if err := (Identity{UserID: "", Role: RoleTeacher}).Validate(); err != ErrInvalidUserID {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
	if err := (Identity{UserID: "u1", Role: "ROOT"}).Validate(); err != ErrInvalidRole {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestDecodeInbound_Variants(t *testing.T) {
	tests := []struct {
		raw  string
		want InboundEvent
	}{
		{`{"event":"join-chat","data":{"chatId":7}}`, JoinChat{ChatID: "7"}},
		{`{"event":"leave-chat","data":{"chatId":"abc"}}`, LeaveChat{ChatID: "abc"}},
		{`{"event":"message-read","data":{"chatId":1,"messageId":"m1"}}`, MessageRead{ChatID: "1", MessageID: "m1"}},
		{`{"event":"typing-start","data":{"chatId":"c"}}`, Typing{ChatID: "c"}},
		{`{"event":"typing-stop","data":{"chatId":"c"}}`, Typing{ChatID: "c", Stop: true}},
		{`{"event":"typing-stop","data":{"chatId":3.0}}`, Typing{ChatID: "3", NumericChatID: true, Stop: true}},
		{`{"event":"user-online"}`, UserOnline{}},
		{`{"event":"get-unread-count","data":{}}`, GetUnreadCount{}},
		{`{"event":"mark-notification-read","data":{"notificationId":"n1"}}`, MarkNotificationRead{NotificationID: "n1"}},
	}
	for _, tt := range tests {
		t.Run(tt.want.EventName(), func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeInbound failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestDecodeInbound_MessageSentKeepsPayload(t *testing.T) {
	got, err := DecodeInbound([]byte(`{"event":"message-sent","data":{"chatId":7,"message":{"text":"hi"}}}`))
	if err != nil {
		t.Fatalf("DecodeInbound failed: %v", err)
	}
	sent, ok := got.(MessageSent)
	if !ok {
		t.Fatalf("Expected MessageSent, got %T", got)
	}
	if sent.ChatID != "7" {
		t.Errorf("Expected chat 7, got %s", sent.ChatID)
	}
	var msg map[string]string
	if err := json.Unmarshal(sent.Message, &msg); err != nil || msg["text"] != "hi" {
		t.Errorf("Expected message text hi, got %s (%v)", sent.Message, err)
	}
}

func TestDecodeInbound_JoinNotifications(t *testing.T) {
	got, err := DecodeInbound([]byte(`{"event":"join-notifications","data":{"roles":["TEACHER","ADMIN"],"classIds":[3,"4a"]}}`))
	if err != nil {
		t.Fatalf("DecodeInbound failed: %v", err)
	}
	join := got.(JoinNotifications)
	if len(join.Roles) != 2 || join.Roles[0] != RoleTeacher {
		t.Errorf("Unexpected roles %v", join.Roles)
	}
	if len(join.ClassIDs) != 2 || join.ClassIDs[0] != "3" || join.ClassIDs[1] != "4a" {
		t.Errorf("Unexpected class ids %v", join.ClassIDs)
	}
}

func TestDecodeInbound_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":            `{{`,
		"missing event":       `{"data":{}}`,
		"unknown event":       `{"event":"drop-tables","data":{}}`,
		"missing data":        `{"event":"join-chat"}`,
		"data not object":     `{"event":"join-chat","data":7}`,
		"missing chat id":     `{"event":"join-chat","data":{}}`,
		"bool chat id":        `{"event":"join-chat","data":{"chatId":true}}`,
		"null message":        `{"event":"message-sent","data":{"chatId":1,"message":null}}`,
		"missing message":     `{"event":"message-sent","data":{"chatId":1}}`,
		"missing message id":  `{"event":"message-read","data":{"chatId":1}}`,
		"missing roles":       `{"event":"join-notifications","data":{}}`,
		"unknown role":        `{"event":"join-notifications","data":{"roles":["JANITOR"]}}`,
		"missing notif id":    `{"event":"mark-notification-read","data":{}}`,
		"oversized frame":     `{"event":"message-sent","data":{"chatId":1,"message":"` + strings.Repeat("x", 70000) + `"}}`,
		"wrong roles type":    `{"event":"join-notifications","data":{"roles":"TEACHER"}}`,
		"empty chat id":       `{"event":"typing-start","data":{"chatId":""}}`,
		"object as chat id":   `{"event":"leave-chat","data":{"chatId":{"id":1}}}`,
		"array as envelope":   `[]`,
		"null notification":   `{"event":"mark-notification-read","data":{"notificationId":null}}`,
		"whitespace chat id":  `{"event":"join-chat","data":{"chatId":"   "}}`,
		"typing without data": `{"event":"typing-stop"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(raw))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestFrame_Encode(t *testing.T) {
	data, err := Frame{Event: EventUnreadCount, Data: UnreadCount{Count: 3}}.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"event":"unread-count","data":{"count":3}}` {
		t.Errorf("Unexpected frame %s", data)
	}
}

func TestFlexID_NormalizesNumbers(t *testing.T) {
	tests := map[string]FlexID{
		`7`:      "7",
		`7.0`:    "7",
		`7e0`:    "7",
		`1e1`:    "10",
		`-3`:     "-3",
		`2.5`:    "2.5",
		`"7.0"`:  "7.0",
		`" ab "`: "ab",
	}
	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			var id FlexID
			if err := json.Unmarshal([]byte(raw), &id); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if id != want {
				t.Errorf("Expected %q, got %q", want, id)
			}
		})
	}
}
