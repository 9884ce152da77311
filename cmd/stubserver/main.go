// Command stubserver stands in for the speaker-verification and
// speech-to-text services during local development. It accepts the same
// multipart uploads the real clients send and answers with canned results.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
	"github.com/AnnixInvestments/annix-sub033/internal/verification"
)

type stubConfig struct {
	addr       string
	text       string
	language   string
	confidence float64
	minRMS     float64
	speakerID  string
	delay      time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := stubConfig{}

	cmd := &cobra.Command{
		Use:          "stubserver",
		Short:        "Fake verification and transcription endpoints for local testing",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			logger.Info("Stub server starting",
				slog.String("address", cfg.addr),
				slog.String("verify", "http://"+cfg.addr+"/verify"),
				slog.String("transcribe", "http://"+cfg.addr+"/v1/audio/transcriptions"),
			)
			return http.ListenAndServe(cfg.addr, newStubHandler(cfg, logger))
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "127.0.0.1:9000", "Listen address")
	cmd.Flags().StringVar(&cfg.text, "text", "This is a test transcription.", "Text returned for every transcription")
	cmd.Flags().StringVar(&cfg.language, "language", "en", "Language reported by transcriptions")
	cmd.Flags().Float64Var(&cfg.confidence, "confidence", 0.9, "Confidence returned for audible verification requests")
	cmd.Flags().Float64Var(&cfg.minRMS, "min-rms", 0.005, "Verification audio quieter than this scores zero")
	cmd.Flags().StringVar(&cfg.speakerID, "speaker", "", "Only this speaker id is authorized; empty accepts any")
	cmd.Flags().DurationVar(&cfg.delay, "delay", 50*time.Millisecond, "Simulated processing time")
	return cmd
}

func newStubHandler(cfg stubConfig, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", func(w http.ResponseWriter, r *http.Request) {
		data, speakerID, err := readUpload(r, "speaker_id")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		samples, _, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		time.Sleep(cfg.delay)

		resp := verification.Response{SpeakerID: speakerID}
		if audio.RMS(samples) >= cfg.minRMS {
			resp.Confidence = cfg.confidence
		}
		resp.Authorized = cfg.speakerID == "" || cfg.speakerID == speakerID

		logger.Info("Verification request",
			slog.String("speaker_id", speakerID),
			slog.Int("samples", len(samples)),
			slog.Float64("confidence", resp.Confidence),
			slog.Bool("authorized", resp.Authorized),
		)
		writeJSON(w, resp)
	})

	mux.HandleFunc("POST /v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		data, model, err := readUpload(r, "model")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		time.Sleep(cfg.delay)

		resp := transcription.Response{Text: cfg.text, Language: cfg.language}
		if info, err := audio.GetWAVInfo(data); err == nil {
			resp.Duration = info.Duration
		}

		logger.Info("Transcription request",
			slog.String("model", model),
			slog.Int("bytes", len(data)),
			slog.Float64("duration", resp.Duration),
		)
		writeJSON(w, resp)
	})

	return mux
}

// readUpload returns the "file" part and one form field.
func readUpload(r *http.Request, field string) ([]byte, string, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", fmt.Errorf("error parsing form: %w", err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("error getting audio file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("error reading audio file: %w", err)
	}
	return data, r.FormValue(field), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
