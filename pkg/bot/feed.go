package bot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/markybot/marky/pkg/bus"
	"github.com/markybot/marky/pkg/logger"
	"github.com/markybot/marky/pkg/markov"
)

// isTextAttachment accepts plain-text uploads by content type, falling back
// to the filename extension when the transport did not set one.
func isTextAttachment(att bus.Attachment) bool {
	if strings.HasPrefix(att.ContentType, "text/") {
		return true
	}
	if att.ContentType != "" {
		return false
	}
	name := strings.ToLower(att.Filename)
	return strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".md")
}

// feedAttachment downloads a text upload and bulk-trains the conversation's
// model from it. Oversized files are rejected, by the declared size before
// any bytes move and again while reading in case the declaration lied.
func (b *Bot) feedAttachment(ctx context.Context, id string, att bus.Attachment) {
	maxBytes := int64(b.cfg.Storage.MaxFeedFileKB) * 1024
	if maxBytes > 0 && int64(att.Size) > maxBytes {
		logger.WarnCF("bot", "Skipping oversized attachment", map[string]any{
			"conversation": id,
			"filename":     att.Filename,
			"size":         att.Size,
			"limit":        maxBytes,
		})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		logger.ErrorCF("bot", "Bad attachment URL", map[string]any{
			"conversation": id,
			"error":        err.Error(),
		})
		return
	}
	resp, err := b.client.Do(req)
	if err != nil {
		logger.ErrorCF("bot", "Attachment download failed", map[string]any{
			"conversation": id,
			"filename":     att.Filename,
			"error":        err.Error(),
		})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.WarnCF("bot", "Attachment download rejected", map[string]any{
			"conversation": id,
			"status":       resp.StatusCode,
		})
		return
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}

	lines, transitions, err := b.Feed(id, body, maxBytes)
	if err != nil {
		logger.WarnCF("bot", "Attachment feed aborted", map[string]any{
			"conversation": id,
			"filename":     att.Filename,
			"error":        err.Error(),
		})
		return
	}
	logger.InfoCF("bot", "Fed attachment into model", map[string]any{
		"conversation": id,
		"filename":     att.Filename,
		"lines":        lines,
		"transitions":  transitions,
	})
}

// Feed tokenizes r line by line and trains the conversation's model. Each
// line is one utterance, so sentences never bleed across line boundaries.
// A maxBytes of zero disables the size check.
func (b *Bot) Feed(id string, r io.Reader, maxBytes int64) (lines, transitions int, err error) {
	var read int64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		read += int64(len(line)) + 1
		if maxBytes > 0 && read > maxBytes {
			return lines, transitions, fmt.Errorf("input exceeds %d byte limit", maxBytes)
		}

		tokens := markov.Tokenize(line)
		if len(tokens) < minIngestTokens {
			continue
		}
		transitions += b.store.Ingest(id, tokens)
		lines++
	}
	if err := scanner.Err(); err != nil {
		return lines, transitions, err
	}
	return lines, transitions, nil
}
