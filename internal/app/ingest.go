package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/solai17/bytefeed/internal/cli"
	"github.com/solai17/bytefeed/internal/ingest"
	payloadschema "github.com/solai17/bytefeed/schema"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	file := fs.String("file", "", "Path to a JSON document payload, or - for stdin")
	sender := fs.String("sender", "", "Sender identity, e.g. \"Habit Weekly <news@example.com>\"")
	subject := fs.String("subject", "", "Document subject line")
	text := fs.String("text", "", "Plain-text body")
	html := fs.String("html", "", "HTML body")
	userID := fs.String("user", "", "Optional user to subscribe to the resolved source")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	raw, code := resolvePayload(fs, *file, *sender, *subject, *text, *html, *userID)
	if code != 0 {
		return code
	}

	doc, err := payloadschema.ValidateInboundDocument(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid document payload: %v\n", err)
		return 2
	}

	ctx, cancel, pool, cfg, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	service := ingest.NewService(pool, buildPipeline(cfg, logger), logger)
	result, err := service.IngestDocument(ctx, ingest.RequestFromDocument(doc))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	if err := printJSON(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}
	return 0
}

// resolvePayload builds the wire payload from --file or from the individual
// field flags.
func resolvePayload(fs *flag.FlagSet, file, sender, subject, text, html, userID string) ([]byte, int) {
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "ingest does not accept positional arguments")
		return nil, 2
	}

	if strings.TrimSpace(file) != "" {
		raw, err := readPayloadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
			return nil, 1
		}
		return raw, 0
	}

	if strings.TrimSpace(sender) == "" || strings.TrimSpace(subject) == "" {
		fmt.Fprintln(os.Stderr, "Either --file or both --sender and --subject are required")
		return nil, 2
	}
	if strings.TrimSpace(text) == "" && strings.TrimSpace(html) == "" {
		fmt.Fprintln(os.Stderr, "One of --text or --html is required")
		return nil, 2
	}

	payload := map[string]any{
		"payload_version": "v1",
		"sender_identity": sender,
		"subject":         subject,
	}
	if strings.TrimSpace(text) != "" {
		payload["body_text"] = text
	}
	if strings.TrimSpace(html) != "" {
		payload["body_html"] = html
	}
	if strings.TrimSpace(userID) != "" {
		payload["user_id"] = userID
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode payload: %v\n", err)
		return nil, 1
	}
	return raw, 0
}

func readPayloadFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
