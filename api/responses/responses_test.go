package responses

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
)

func TestWriteSuccessWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"status": "ok"})

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var envelope SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := envelope.Data.(map[string]any)
	if !ok || data["status"] != "ok" {
		t.Fatalf("data = %v", envelope.Data)
	}
}

func TestWriteErrorMapsCodeToStatus(t *testing.T) {
	cases := []struct {
		code       pkgerrors.Code
		wantStatus int
	}{
		{pkgerrors.CodeValidation, 400},
		{pkgerrors.CodeUnauthorized, 401},
		{pkgerrors.CodeForbidden, 403},
		{pkgerrors.CodeNotFound, 404},
		{pkgerrors.CodeStateConflict, 422},
		{pkgerrors.CodeInsufficientFunds, 422},
		{pkgerrors.CodeDependency, 503},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(context.Background(), nil, rec, pkgerrors.New(tc.code, "boom"))
		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: status = %d, want %d", tc.code, rec.Code, tc.wantStatus)
		}
	}
}

func TestWriteErrorHidesInternalMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeInternal, "secret database detail"))

	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Message == "secret database detail" {
		t.Fatalf("internal message must not surface")
	}
}

func TestWriteErrorSurfacesValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
		WithDetails(map[string]string{"amount_cents": "is required"})
	WriteError(context.Background(), nil, rec, err)

	var envelope ErrorEnvelope
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &envelope); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if envelope.Error.Details == nil {
		t.Fatalf("validation details should surface")
	}
}
