package main

import (
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/poolgate/internal/handler"
)

func setupRouter(log *slog.Logger, gateway *handler.Gateway, admin *handler.Admin, exposition http.Handler, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	gateway.Register(mux)
	admin.Register(mux)

	if exposition != nil {
		mux.Handle("GET "+metricsPath, exposition)
	}

	return handler.Logging(log, mux)
}
