package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
)

type recordingAppender struct {
	document string
	turns    []model.ChatTurn
	err      error
}

func (r *recordingAppender) Append(_ context.Context, document string, turns ...model.ChatTurn) error {
	if r.err != nil {
		return r.err
	}
	r.document = document
	r.turns = append(r.turns, turns...)
	return nil
}

func TestHandleAppendsTurns(t *testing.T) {
	repo := &recordingAppender{}
	w := NewTurnPersistWorker(nil, repo, "q", nil)

	event := model.TurnEvent{
		Document: "a.txt",
		Turns: []model.ChatTurn{
			{Role: model.RoleUser, Content: "q", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			{Role: model.RoleAssistant, Content: "a", CreatedAt: time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)},
		},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), body))
	assert.Equal(t, "a.txt", repo.document)
	assert.Equal(t, event.Turns, repo.turns)
}

func TestHandleRejectsBadEvents(t *testing.T) {
	w := NewTurnPersistWorker(nil, &recordingAppender{}, "q", nil)

	for _, body := range []string{
		`not json`,
		`{"document":"","turns":[]}`,
		`{"document":"a.txt","turns":[{"role":"system","content":"x"}]}`,
	} {
		assert.ErrorIs(t, w.handle(context.Background(), []byte(body)), errBadEvent, body)
	}
}

func TestHandlePropagatesStoreError(t *testing.T) {
	boom := errors.New("disk full")
	w := NewTurnPersistWorker(nil, &recordingAppender{err: boom}, "q", nil)

	err := w.handle(context.Background(), []byte(`{"document":"a.txt","turns":[{"role":"user","content":"x"}]}`))
	assert.ErrorIs(t, err, boom)
}
