package command

import (
	"errors"
	"testing"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Command
		wantErr error
	}{
		{"register number value", `{"type":"register","register":1044,"value":0}`, RegisterWrite(1044, "0"), nil},
		{"register string value", `{"type":"register","register":1044,"value":"12"}`, RegisterWrite(1044, "12"), nil},
		{"multiregister", `{"type":"multiregister","start_register":1070,"end_register":1071,"value":"00640001"}`, MultiRegisterWrite(1070, 1071, "00640001"), nil},
		{"read", `{"type":"read","register":3}`, Read(3), nil},
		{"custom", `{"type":"custom","method":"PUT","url":"http://h/x"}`, Custom("PUT", "http://h/x"), nil},
		{"custom without type", `{"url":"http://h/x"}`, Custom("GET", "http://h/x"), nil},
		{"template", `{"type":"template","name":"t"}`, TemplateRef("t"), nil},
		{"unknown", `{"type":"reboot"}`, Command{}, ErrUnknownCommandType},
		{"empty object", `{}`, Command{}, ErrUnknownCommandType},
		{"not json", `curl -X PUT`, Command{}, ErrMalformedPayload},
		{"register null value", `{"type":"register","register":1,"value":null}`, Command{}, ErrMalformedPayload},
		{"read no register", `{"type":"read"}`, Command{}, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload([]byte(tt.data))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParsePayload() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePayload() error = %v", err)
			}
			if got.String() != tt.want.String() {
				t.Errorf("ParsePayload() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{RegisterWrite(1044, "0"), `{"type":"register","register":1044,"value":0}`},
		{RegisterWrite(1044, "on"), `{"type":"register","register":1044,"value":"on"}`},
		{Read(1070), `{"type":"read","register":1070}`},
		{MultiRegisterWrite(1070, 1071, "0001"), `{"type":"multiregister","value":"0001","start_register":1070,"end_register":1071}`},
		{Custom("", "http://h"), `{"type":"custom","method":"GET","url":"http://h"}`},
	}
	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}

func TestParseRegisterValue(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"42", 42, true},
		{" 7 ", 7, true},
		{"19:15", 1915, true},
		{"00:05", 5, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"on", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseRegisterValue(tt.in)
		if tt.ok != (err == nil) || got != tt.want {
			t.Errorf("ParseRegisterValue(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestValidKind(t *testing.T) {
	if !ValidKind(KindCustom) || ValidKind("reboot") {
		t.Error("ValidKind() mismatch")
	}
	if RegisterWrite(1, "1").IsWrite() != true || Read(1).IsWrite() {
		t.Error("IsWrite() mismatch")
	}
}
