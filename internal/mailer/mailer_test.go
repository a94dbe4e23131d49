package mailer

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "noreply@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"}, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.config).IsConfigured(); got != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSendWithoutConfig(t *testing.T) {
	err := NewService(Config{}).Send(Message{To: "a@example.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestComposeAndSend(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "modhub", BaseURL: "https://mods.example.com/"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}

	msg, err := svc.Compose("sam@example.com", NotificationData{
		RecipientName: "Sam",
		Kind:          "update_approved",
		Summary:       "Version 1.2.0 of <Better Trees> is live",
		Link:          "/items/item_1",
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if msg.Subject != "[modhub] Your update was approved" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "&lt;Better Trees&gt;") {
		t.Fatalf("expected escaped summary in html: %s", msg.HTML)
	}
	if !strings.Contains(msg.Text, "https://mods.example.com/items/item_1") {
		t.Fatalf("expected absolute link in text: %s", msg.Text)
	}

	if err := svc.Send(msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" || len(gotTo) != 1 || gotTo[0] != "sam@example.com" {
		t.Fatalf("unexpected envelope: %s %s %v", gotAddr, gotFrom, gotTo)
	}
	if !strings.Contains(string(gotBody), "From: modhub <noreply@example.com>") {
		t.Fatalf("missing From header: %s", gotBody)
	}
}
