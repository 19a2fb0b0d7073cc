package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"invoiceocr/internal/pipeline"
)

func TestOCRHandlerBadPayloadSkipsRetry(t *testing.T) {
	h := NewOCRHandler(&fakeRunner{})
	err := h(context.Background(), asynq.NewTask(TypeOCRProcess, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed payload must not be retried, got %v", err)
	}
}

func TestOCRHandlerRunnerError(t *testing.T) {
	payload, _ := json.Marshal(jobPayload{TaskID: "t1", Input: pipeline.Input{UploadPath: "x.png"}})
	h := NewOCRHandler(&fakeRunner{err: errors.New("engine crashed")})
	err := h(context.Background(), asynq.NewTask(TypeOCRProcess, payload))
	if err == nil {
		t.Fatal("expected pipeline failure to propagate")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("pipeline failures archive through the queue, not SkipRetry: %v", err)
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	in := pipeline.Input{UploadPath: "uploads/a.pdf", OutputDir: "outputs", Language: "fr", UseGPU: true}
	raw, err := json.Marshal(jobPayload{TaskID: "t9", Input: in})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got jobPayload
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TaskID != "t9" || got.Input != in {
		t.Fatalf("payload did not survive the queue: %+v", got)
	}
}
