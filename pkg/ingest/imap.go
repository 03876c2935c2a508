package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/cartuerr"
	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/pipeline"
)

// IMAPPollerConfig configures an IMAP mailbox poller.
type IMAPPollerConfig struct {
	DB       *gorm.DB
	Source   models.ImportSource
	Pipeline Submitter
	Interval time.Duration
	Logger   hclog.Logger
}

// IMAPPoller imports attachments from unseen messages in one mailbox.
// Each poll opens a fresh connection; handled messages are either moved
// to the processed folder or flagged seen, so a message is imported at
// most once.
//
// Error messages recorded on the source never include credentials.
type IMAPPoller struct {
	db       *gorm.DB
	source   models.ImportSource
	pipeline Submitter
	interval time.Duration
	logger   hclog.Logger
}

// NewIMAPPoller creates a poller for one IMAP source.
func NewIMAPPoller(cfg IMAPPollerConfig) *IMAPPoller {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &IMAPPoller{
		db:       cfg.DB,
		source:   cfg.Source,
		pipeline: cfg.Pipeline,
		interval: interval,
		logger:   logger.Named("imap-poller").With("source_id", cfg.Source.ID),
	}
}

// Run polls until the context is cancelled. Poll failures are recorded
// on the source; polling continues on the next tick regardless.
func (p *IMAPPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *IMAPPoller) poll(ctx context.Context) {
	if err := p.pollOnce(ctx); err != nil {
		p.logger.Warn("mailbox poll failed", "host", p.source.IMAPHost, "error", err)
		if rerr := p.source.RecordError(p.db, err.Error()); rerr != nil {
			p.logger.Error("failed to record source error", "error", rerr)
		}
		return
	}
	if err := p.source.RecordRun(p.db); err != nil {
		p.logger.Warn("failed to record source run", "error", err)
	}
}

// Poll runs a single mailbox pass. Exported for on-demand source tests
// from the API.
func (p *IMAPPoller) Poll(ctx context.Context) error {
	return p.pollOnce(ctx)
}

func (p *IMAPPoller) pollOnce(ctx context.Context) error {
	src := p.source
	addr := fmt.Sprintf("%s:%d", src.IMAPHost, src.IMAPPort)

	var c *client.Client
	var err error
	if src.IMAPUseSSL {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer c.Logout()

	if err := c.Login(src.IMAPUsername, src.IMAPPassword); err != nil {
		// Do not wrap with account details.
		return fmt.Errorf("login to %s rejected", addr)
	}

	mailbox := src.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search mailbox: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	p.logger.Debug("unseen messages found", "count", len(ids))

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.Fetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope}, messages)
	}()

	// One broken message must not block the rest of the mailbox, so
	// failures are collected and reported together after the pass.
	var errs *multierror.Error
	handled := new(imap.SeqSet)
	for msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.importMessage(ctx, msg, section); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("message %d: %w", msg.SeqNum, err))
			continue
		}
		handled.AddNum(msg.SeqNum)
	}
	if err := <-fetchDone; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	if !handled.Empty() {
		if err := p.finishMessages(c, handled); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// importMessage submits each importable attachment of one message. A
// nil return means the message was fully handled and may be marked
// processed.
func (p *IMAPPoller) importMessage(ctx context.Context, msg *imap.Message, section *imap.BodySectionName) error {
	subject := ""
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}
	logger := p.logger.With("seq", msg.SeqNum, "subject", subject)

	body := msg.GetBody(section)
	if body == nil {
		return fmt.Errorf("message body missing from fetch")
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		// Not going to get better on retry; mark processed.
		logger.Warn("unreadable message, marking processed", "error", err)
		return nil
	}

	imported := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read message part: %w", err)
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		// Filename decodes RFC 2047 encoded words for us.
		filename, err := header.Filename()
		if err != nil || filename == "" || !Importable(filename) {
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("failed to read attachment %s: %w", filename, err)
		}

		doc, err := p.pipeline.Submit(ctx, pipeline.SubmitRequest{
			OwnerID:  p.source.OwnerID,
			Filename: filename,
			Content:  bytes.NewReader(content),
		})
		switch {
		case err == nil:
			logger.Info("imported attachment", "filename", filename, "document_id", doc.ID)
			imported++
		case errors.Is(err, cartuerr.ErrDuplicate):
			logger.Info("skipping duplicate attachment", "filename", filename)
			imported++
		default:
			return fmt.Errorf("failed to import attachment %s: %w", filename, err)
		}
	}

	if imported == 0 {
		logger.Debug("no importable attachments")
	}
	return nil
}

// finishMessages moves handled messages to the processed folder, or
// just flags them seen when no folder is configured.
func (p *IMAPPoller) finishMessages(c *client.Client, handled *imap.SeqSet) error {
	folder := p.source.IMAPProcessedFolder
	if folder == "" {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.Store(handled, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return fmt.Errorf("failed to flag messages seen: %w", err)
		}
		return nil
	}

	// Create is a no-op failure when the folder already exists.
	if err := c.Create(folder); err != nil {
		p.logger.Debug("processed folder create returned", "folder", folder, "error", err)
	}
	if err := c.Copy(handled, folder); err != nil {
		return fmt.Errorf("failed to copy messages to %s: %w", folder, err)
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(handled, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("failed to flag messages deleted: %w", err)
	}
	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge mailbox: %w", err)
	}
	return nil
}
