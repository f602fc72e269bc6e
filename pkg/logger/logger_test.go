package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poolgate/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("New", func() {
		It("should default to info for invalid level", func() {
			log := logger.New("invalid", false, "dev")
			Expect(log.Enabled(context.Background(), slog.LevelInfo)).To(BeTrue())
			Expect(log.Enabled(context.Background(), slog.LevelDebug)).To(BeFalse())
		})

		DescribeTable("levels",
			func(level string, enabled, disabled slog.Level) {
				log := logger.New(level, false, "dev")
				Expect(log.Enabled(context.Background(), enabled)).To(BeTrue())
				Expect(log.Enabled(context.Background(), disabled)).To(BeFalse())
			},
			Entry("debug", "debug", slog.LevelDebug, slog.LevelDebug-1),
			Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
			Entry("warn", "WARN", slog.LevelWarn, slog.LevelInfo),
			Entry("error", "error", slog.LevelError, slog.LevelWarn),
		)

		It("should write JSON with the environment in prod", func() {
			var buf bytes.Buffer
			log := logger.NewWithWriter(&buf, "info", false, "prod")
			log.Info("Received request")

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record["environment"]).To(Equal("prod"))
			Expect(record["msg"]).To(Equal("Received request"))
		})

		It("should write text outside prod", func() {
			var buf bytes.Buffer
			log := logger.NewWithWriter(&buf, "info", false, "dev")
			log.Info("Received request")

			Expect(buf.String()).To(ContainSubstring("environment=dev"))
			Expect(buf.String()).To(ContainSubstring(`msg="Received request"`))
		})
	})

	Describe("request ids", func() {
		It("should round-trip through the context", func() {
			ctx := logger.WithRequestID(context.Background(), "req-1")
			Expect(logger.RequestID(ctx)).To(Equal("req-1"))
			Expect(logger.RequestID(context.Background())).To(BeEmpty())
		})

		It("should attach the request id to the logger", func() {
			var buf bytes.Buffer
			base := logger.NewWithWriter(&buf, "info", false, "dev")

			ctx := logger.WithRequestID(context.Background(), "req-42")
			logger.FromContext(ctx, base).Info("Request served")

			Expect(buf.String()).To(ContainSubstring("request_id=req-42"))
		})

		It("should return the base logger without a request id", func() {
			base := logger.New("info", false, "dev")
			Expect(logger.FromContext(context.Background(), base)).To(BeIdenticalTo(base))
		})
	})
})
