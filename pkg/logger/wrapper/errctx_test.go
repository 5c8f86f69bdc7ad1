package wrap

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorCtxRestoresWrappedLogCtx(t *testing.T) {
	ctx := WithAction(context.Background(), "trip_request")
	ctx = WithTripID(ctx, "t1")
	err := Error(ctx, errors.New("boom"))

	restored := ErrorCtx(context.Background(), err)
	lc, ok := restored.Value(LogCtxKey).(LogCtx)
	if !ok {
		t.Fatal("restored context carries no LogCtx")
	}
	if lc.Action != "trip_request" || lc.TripID != "t1" {
		t.Errorf("LogCtx = %+v, want action trip_request and trip t1", lc)
	}
}

func TestErrorCtxSurvivesFurtherWrapping(t *testing.T) {
	ctx := WithUserID(context.Background(), "u1")
	err := fmt.Errorf("request failed: %w", Error(ctx, errors.New("boom")))

	lc, ok := ErrorCtx(context.Background(), err).Value(LogCtxKey).(LogCtx)
	if !ok || lc.UserID != "u1" {
		t.Errorf("LogCtx = %+v, want user u1", lc)
	}
}

func TestErrorCtxLeavesPlainErrorsAlone(t *testing.T) {
	ctx := context.Background()
	if got := ErrorCtx(ctx, errors.New("boom")); got != ctx {
		t.Error("context changed for an error without LogCtx")
	}
}
