package chat_test

import (
	"context"
	"errors"
	"testing"

	model "github.com/verdantsentinel/backend/internal/model/chat"
	chat "github.com/verdantsentinel/backend/internal/service/chat"
)

func newService(t *testing.T, size int) *chat.Service {
	t.Helper()
	svc, err := chat.NewService(size)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return svc
}

func TestServiceGetSession(t *testing.T) {
	svc := newService(t, 8)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "es-ES")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("unexpected session ID: got %s want %s", got.ID, session.ID)
	}
	if got.Language != "es-ES" {
		t.Fatalf("unexpected language: got %s", got.Language)
	}

	defaulted, _ := svc.CreateSession(ctx, "")
	if defaulted.Language != "en-US" {
		t.Fatalf("expected default language, got %s", defaulted.Language)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := newService(t, 8)
	if _, err := svc.GetSession(context.Background(), "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceEvictsLeastRecentlyUsed(t *testing.T) {
	svc := newService(t, 2)
	ctx := context.Background()

	first, _ := svc.CreateSession(ctx, "")
	msg, _ := svc.AppendUserMessage(ctx, first.ID, "hello")
	second, _ := svc.CreateSession(ctx, "")

	// touch first so second becomes the eviction candidate
	if _, err := svc.GetSession(ctx, first.ID); err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if _, err := svc.CreateSession(ctx, ""); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if _, err := svc.GetSession(ctx, second.ID); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected second session evicted, got %v", err)
	}
	if _, ok := svc.Message(ctx, msg.ID); !ok {
		t.Fatal("messages of the surviving session should remain addressable")
	}
	if svc.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", svc.Len())
	}

	svc.DeleteSession(ctx, first.ID)
	if _, ok := svc.Message(ctx, msg.ID); ok {
		t.Fatal("deleted session messages should be gone")
	}
}

func TestHistoryExcludesPendingPlaceholder(t *testing.T) {
	svc := newService(t, 8)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if _, err := svc.AppendUserMessage(ctx, session.ID, "   "); !errors.Is(err, chat.ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	svc.AppendUserMessage(ctx, session.ID, "My fern is brown")
	svc.AppendModelMessage(ctx, session.ID, "Try more humidity.")
	pending, err := svc.AppendPendingUserMessage(ctx, session.ID)
	if err != nil {
		t.Fatalf("AppendPendingUserMessage err: %v", err)
	}

	turns, _ := svc.History(ctx, session.ID)
	if len(turns) != 2 {
		t.Fatalf("expected 2 confirmed turns, got %d", len(turns))
	}
	msgs, _ := svc.Messages(ctx, session.ID)
	if len(msgs) != 3 || !msgs[2].Pending {
		t.Fatalf("placeholder should be visible in Messages: %+v", msgs)
	}

	finalized, ok := svc.FinalizeUserMessage(ctx, pending.ID, "Should I mist it?")
	if !ok || finalized.Pending {
		t.Fatalf("FinalizeUserMessage failed: %+v", finalized)
	}
	turns, _ = svc.History(ctx, session.ID)
	if len(turns) != 3 || turns[2].Content != "Should I mist it?" || turns[2].Role != model.RoleUser {
		t.Fatalf("unexpected history after finalize: %+v", turns)
	}

	if _, ok := svc.FinalizeUserMessage(ctx, pending.ID, "again"); ok {
		t.Fatal("finalizing a confirmed message should be rejected")
	}
}

func TestRemoveMessageRollsBackPlaceholder(t *testing.T) {
	svc := newService(t, 8)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	pending, _ := svc.AppendPendingUserMessage(ctx, session.ID)
	if !svc.RemoveMessage(ctx, pending.ID) {
		t.Fatal("expected placeholder removal")
	}
	msgs, _ := svc.Messages(ctx, session.ID)
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
	if svc.RemoveMessage(ctx, pending.ID) {
		t.Fatal("second removal should be a no-op")
	}
}

func TestTurnInFlight(t *testing.T) {
	svc := newService(t, 8)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if err := svc.BeginTurn(ctx, session.ID); err != nil {
		t.Fatalf("BeginTurn err: %v", err)
	}
	if err := svc.BeginTurn(ctx, session.ID); !errors.Is(err, chat.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}
	svc.EndTurn(ctx, session.ID)
	if err := svc.BeginTurn(ctx, session.ID); err != nil {
		t.Fatalf("BeginTurn after EndTurn err: %v", err)
	}
	if err := svc.BeginTurn(ctx, "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPlaybackSingleActiveMessage(t *testing.T) {
	svc := newService(t, 8)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	a, _ := svc.AppendModelMessage(ctx, session.ID, "first")
	b, _ := svc.AppendModelMessage(ctx, session.ID, "second")
	svc.AttachAudio(ctx, a.ID, "data:audio/mpeg;base64,AA==")
	svc.AttachAudio(ctx, b.ID, "data:audio/mpeg;base64,AA==")

	changed := svc.HandlePlaybackEvent(ctx, a.ID, model.PlaybackPlay, 0)
	if len(changed) != 1 || !changed[0].IsPlaying {
		t.Fatalf("unexpected play result: %+v", changed)
	}
	svc.HandlePlaybackEvent(ctx, a.ID, model.PlaybackTimeUpdate, 40)

	changed = svc.HandlePlaybackEvent(ctx, b.ID, model.PlaybackPlay, 0)
	if len(changed) != 2 {
		t.Fatalf("expected previous and new message to change, got %d", len(changed))
	}
	if changed[0].ID != a.ID || changed[0].IsPlaying || changed[0].PlaybackProgress != 0 {
		t.Fatalf("previous message not cleared: %+v", changed[0])
	}

	msgs, _ := svc.Messages(ctx, session.ID)
	playing := 0
	for _, m := range msgs {
		if m.IsPlaying {
			playing++
		}
	}
	if playing != 1 {
		t.Fatalf("expected exactly one playing message, got %d", playing)
	}
}

func TestPlaybackEventTransitions(t *testing.T) {
	svc := newService(t, 8)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")
	msg, _ := svc.AppendModelMessage(ctx, session.ID, "reply")

	if changed := svc.HandlePlaybackEvent(ctx, msg.ID, model.PlaybackPlay, 0); changed != nil {
		t.Fatalf("play without audio should be ignored, got %+v", changed)
	}
	svc.AttachAudio(ctx, msg.ID, "data:audio/mpeg;base64,AA==")

	if changed := svc.HandlePlaybackEvent(ctx, msg.ID, model.PlaybackTimeUpdate, 30); changed != nil {
		t.Fatal("timeupdate while idle should be ignored")
	}

	svc.HandlePlaybackEvent(ctx, msg.ID, model.PlaybackPlay, 0)
	changed := svc.HandlePlaybackEvent(ctx, msg.ID, model.PlaybackTimeUpdate, 150)
	if changed[0].PlaybackProgress != 100 {
		t.Fatalf("progress should clamp to 100, got %v", changed[0].PlaybackProgress)
	}

	changed = svc.HandlePlaybackEvent(ctx, msg.ID, model.PlaybackPause, 0)
	if changed[0].IsPlaying || changed[0].PlaybackProgress != 0 || changed[0].PlaybackState != model.PlaybackPaused {
		t.Fatalf("unexpected pause state: %+v", changed[0])
	}

	svc.HandlePlaybackEvent(ctx, msg.ID, model.PlaybackPlay, 0)
	changed = svc.HandlePlaybackEvent(ctx, msg.ID, model.PlaybackEnd, 0)
	if changed[0].PlaybackState != model.PlaybackEnded || changed[0].PlaybackProgress != 0 {
		t.Fatalf("unexpected end state: %+v", changed[0])
	}

	if changed := svc.HandlePlaybackEvent(ctx, "unknown", model.PlaybackPlay, 0); changed != nil {
		t.Fatal("unknown message should be a no-op")
	}
}

func TestUpdatePlaybackStatePatch(t *testing.T) {
	svc := newService(t, 8)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")
	a, _ := svc.AppendModelMessage(ctx, session.ID, "a")
	b, _ := svc.AppendModelMessage(ctx, session.ID, "b")

	on, off := true, false
	progress := -5.0

	svc.UpdatePlaybackState(ctx, a.ID, model.PlaybackPatch{IsPlaying: &on})
	changed := svc.UpdatePlaybackState(ctx, b.ID, model.PlaybackPatch{IsPlaying: &on, Progress: &progress})
	if len(changed) != 2 || changed[0].ID != a.ID || changed[0].IsPlaying {
		t.Fatalf("expected a to be stopped first: %+v", changed)
	}
	if changed[1].PlaybackProgress != 0 {
		t.Fatalf("progress should clamp to 0, got %v", changed[1].PlaybackProgress)
	}

	midway := 40.0
	svc.UpdatePlaybackState(ctx, b.ID, model.PlaybackPatch{Progress: &midway})
	changed = svc.UpdatePlaybackState(ctx, b.ID, model.PlaybackPatch{IsPlaying: &off})
	if len(changed) != 1 || changed[0].IsPlaying {
		t.Fatalf("unexpected stop result: %+v", changed)
	}
	if changed[0].PlaybackProgress != 0 || changed[0].PlaybackState != model.PlaybackPaused {
		t.Fatalf("pause should reset progress: %+v", changed[0])
	}

	// an explicit progress in the same patch is kept
	svc.UpdatePlaybackState(ctx, b.ID, model.PlaybackPatch{IsPlaying: &on})
	changed = svc.UpdatePlaybackState(ctx, b.ID, model.PlaybackPatch{IsPlaying: &off, Progress: &midway})
	if changed[0].PlaybackProgress != 40 {
		t.Fatalf("expected explicit progress 40, got %v", changed[0].PlaybackProgress)
	}

	if changed := svc.UpdatePlaybackState(ctx, "nope", model.PlaybackPatch{IsPlaying: &on}); changed != nil {
		t.Fatal("unknown message should be a no-op")
	}
}
