package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockChatModelSequence(t *testing.T) {
	mock := &MockChatModel{
		Responses: []ChatOut{
			{Text: "first"},
			{Text: "second"},
		},
	}
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second", "second"} {
		out, err := mock.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}})
		if err != nil {
			t.Fatalf("Chat() error: %v", err)
		}
		if out.Text != want {
			t.Errorf("Chat() = %q, want %q", out.Text, want)
		}
	}
	if mock.CallCount() != 4 {
		t.Errorf("CallCount() = %d, want 4", mock.CallCount())
	}
}

func TestMockChatModelError(t *testing.T) {
	boom := errors.New("rate limited")
	mock := &MockChatModel{Err: boom}

	_, err := mock.Chat(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Chat() error = %v, want %v", err, boom)
	}
	// The failed call is still recorded.
	if mock.CallCount() != 1 {
		t.Errorf("CallCount() = %d, want 1", mock.CallCount())
	}
}

func TestMockChatModelReset(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
	ctx := context.Background()

	mock.Chat(ctx, nil)
	mock.Chat(ctx, nil)
	mock.Reset()

	out, err := mock.Chat(ctx, nil)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if out.Text != "a" {
		t.Errorf("Chat() after Reset = %q, want a", out.Text)
	}
	if mock.CallCount() != 1 {
		t.Errorf("CallCount() after Reset = %d, want 1", mock.CallCount())
	}
}

func TestMockChatModelHonorsContext(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{{Text: "x"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mock.Chat(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Chat() error = %v, want context.Canceled", err)
	}
}
