package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/db"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	"github.com/hackgods/panchakarma-booking/internal/functions"
	"github.com/hackgods/panchakarma-booking/internal/notify"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("service", "functions-lambda")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, MinConns: 1}, logger)
	cancel()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}

	dir := directory.NewService(directory.NewPgStore(pool), cfg.DefaultSlotTimes)
	appts := appointment.NewService(appointment.NewPgRepository(pool), nil, dir, cfg, logger)
	fns := functions.New(appts, notify.DispatcherFromConfig(cfg, logger), cfg.Location, logger)

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, fns, evt)
	})
}

func handle(ctx context.Context, fns *functions.Functions, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if method == http.MethodOptions {
		return respond(http.StatusOK, "ok"), nil
	}
	if method != http.MethodPost {
		return respond(http.StatusMethodNotAllowed, ""), nil
	}

	var run func(context.Context, []byte) (int, any)
	switch {
	case strings.HasSuffix(path, "/get-booked-slots"):
		run = fns.BookedSlots
	case strings.HasSuffix(path, "/send-booking-confirmation"):
		run = fns.SendConfirmation
	default:
		return respond(http.StatusNotFound, ""), nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return respondJSON(http.StatusBadRequest, functions.ErrorPayload{Error: "invalid body"}), nil
	}
	status, payload := run(ctx, body)
	return respondJSON(status, payload), nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func respond(status int, body string) events.APIGatewayV2HTTPResponse {
	headers := make(map[string]string, len(corsHeaders)+1)
	for k, v := range corsHeaders {
		headers[k] = v
	}
	return events.APIGatewayV2HTTPResponse{StatusCode: status, Headers: headers, Body: body}
}

func respondJSON(status int, payload any) events.APIGatewayV2HTTPResponse {
	data, err := json.Marshal(payload)
	if err != nil {
		status, data = http.StatusInternalServerError, []byte(`{"error":"could not encode response"}`)
	}
	resp := respond(status, string(data))
	resp.Headers["Content-Type"] = "application/json"
	return resp
}
