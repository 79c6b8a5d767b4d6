package models

import "testing"

func TestDisplayTextTombstone(t *testing.T) {
	msg := Message{ID: "m1", Content: "hi", SenderID: "u1", ReceiverID: "u2", IsDeleted: true}

	if got := msg.DisplayText("u1"); got != "You deleted this message" {
		t.Errorf("sender view: got %q", got)
	}
	if got := msg.DisplayText("u2"); got != "This message was deleted" {
		t.Errorf("receiver view: got %q", got)
	}

	msg.IsDeleted = false
	if got := msg.DisplayText("u2"); got != "hi" {
		t.Errorf("live message: got %q", got)
	}
}

func TestBetween(t *testing.T) {
	msg := Message{SenderID: "u1", ReceiverID: "u2"}
	if !msg.Between("u1", "u2") || !msg.Between("u2", "u1") {
		t.Error("expected message to belong to u1/u2 in both directions")
	}
	if msg.Between("u1", "u3") {
		t.Error("message should not belong to u1/u3")
	}
}

func TestPageCursor(t *testing.T) {
	var p Page
	if p.Cursor() != "" {
		t.Errorf("expected empty cursor, got %q", p.Cursor())
	}
	next := "42"
	p.NextCursor = &next
	if p.Cursor() != "42" {
		t.Errorf("expected 42, got %q", p.Cursor())
	}
}

func TestRegistrationValidate(t *testing.T) {
	valid := Registration{Username: "bob", Email: "bob@example.com", Password: "secret1", ConfirmPassword: "secret1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid registration, got %v", err)
	}

	tests := []struct {
		name string
		mut  func(r *Registration)
		want error
	}{
		{"missing username", func(r *Registration) { r.Username = " " }, ErrUsernameRequired},
		{"short username", func(r *Registration) { r.Username = "b" }, ErrUsernameShort},
		{"missing email", func(r *Registration) { r.Email = "" }, ErrEmailRequired},
		{"bad email", func(r *Registration) { r.Email = "bob-at-example" }, ErrEmailInvalid},
		{"short password", func(r *Registration) { r.Password, r.ConfirmPassword = "abc", "abc" }, ErrPasswordShort},
		{"mismatch", func(r *Registration) { r.ConfirmPassword = "other12" }, ErrPasswordMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mut(&r)
			if err := r.Validate(); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
