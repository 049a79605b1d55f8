package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/fileinspect"
	"github.com/hazyhaar/convo/store"
)

const (
	noticeFileError    = "Sorry, I encountered an error processing your file."
	noticeImagePrefix  = "Image Analysis:\n\n"
	noticeFileReceived = "File received: %s\nType: %s\nFile has been stored in the database."
)

// handleUpload processes file attachments outside the state machine: the
// user's current session is returned unchanged no matter what happens here,
// so an upload mid-flow never disturbs the flow.
func (e *Engine) handleUpload(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	sess := e.sessions.Get(u.Identity)

	if !u.Registered() {
		return sess, []string{noticeNotRegistered}, nil
	}

	att := msg.Attachments[0]
	if att.Type == "image" {
		return e.handleImage(ctx, u, sess, att)
	}
	return e.handleDocument(ctx, u, sess, att)
}

// handleImage downloads the image, runs the vision model, and logs the
// analysis. The file is logged iff the analysis succeeded.
func (e *Engine) handleImage(ctx context.Context, u *store.User, sess Session, att channels.Attachment) (Session, []string, error) {
	data, err := e.fetch(ctx, att.URL)
	if err != nil {
		e.logger.WarnContext(ctx, "image download failed",
			"identity", u.Identity, "error", err)
		return sess, []string{noticeFileError}, nil
	}

	analysis, err := e.ai.DescribeImage(ctx, data, att.MimeType)
	if err != nil {
		e.logger.WarnContext(ctx, "image analysis failed",
			"identity", u.Identity, "error", err)
		e.record(ctx, u.Identity, sess, "ai_failure", false)
		return sess, []string{noticeFileError}, nil
	}

	entry := store.FileEntry{
		ID:       e.newID(),
		FileRef:  att.Ref,
		FileName: att.Filename,
		FileType: "image",
		Analysis: analysis,
	}
	if err := e.store.AppendFile(ctx, u.Identity, entry); err != nil {
		return sess, nil, err
	}
	e.record(ctx, u.Identity, sess, "file_analyzed", true)

	return sess, []string{noticeImagePrefix + analysis}, nil
}

// handleDocument logs document metadata without an AI pass. PDFs get a
// best-effort page count; inspection failure never blocks the log entry.
func (e *Engine) handleDocument(ctx context.Context, u *store.User, sess Session, att channels.Attachment) (Session, []string, error) {
	fileType := att.MimeType
	if fileType == "" {
		fileType = "document"
	}

	entry := store.FileEntry{
		ID:       e.newID(),
		FileRef:  att.Ref,
		FileName: att.Filename,
		FileType: fileType,
	}

	pages := 0
	if fileinspect.IsPDF(att.MimeType, att.Filename) && att.URL != "" {
		if data, err := e.fetch(ctx, att.URL); err == nil {
			if n, err := fileinspect.PDFPageCount(data); err == nil {
				pages = n
				entry.Analysis = fmt.Sprintf("PDF document, %d pages", n)
			}
		}
	}

	if err := e.store.AppendFile(ctx, u.Identity, entry); err != nil {
		return sess, nil, err
	}
	e.record(ctx, u.Identity, sess, "file_stored", true)

	var b strings.Builder
	fmt.Fprintf(&b, noticeFileReceived, att.Filename, fileType)
	if pages > 0 {
		fmt.Fprintf(&b, "\nPages: %d", pages)
	}
	return sess, []string{b.String()}, nil
}
