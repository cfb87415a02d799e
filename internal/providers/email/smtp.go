package email

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	TemplateDir string
}

type SMTPProvider struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, send: smtp.SendMail}
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := p.render(msg.Template, msg.Data)
	if err != nil {
		return err
	}
	raw, err := buildMessage(p.cfg.From, msg, body, time.Now())
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	return p.send(addr, auth, p.cfg.From, msg.To, raw)
}

// render prefers TemplateDir and falls back to the embedded templates.
func (p *SMTPProvider) render(name string, data map[string]any) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("email template is required")
	}

	var (
		t   *template.Template
		err error
	)
	if dir := strings.TrimSpace(p.cfg.TemplateDir); dir != "" {
		path := filepath.Join(dir, name+".html")
		if _, statErr := os.Stat(path); statErr == nil {
			t, err = template.ParseFiles(path)
		}
	}
	if t == nil && err == nil {
		t, err = template.ParseFS(embeddedTemplates, "templates/"+name+".html")
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return body.String(), nil
}

func buildMessage(from string, msg Message, htmlBody string, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, "From", from)
	writeHeader(&buf, "To", strings.Join(msg.To, ", "))
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", subjectFor(msg)))
	writeHeader(&buf, "Date", at.UTC().Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(msg.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", `text/html; charset="UTF-8"`)
		writeHeader(&buf, "Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		writeBase64(&buf, []byte(htmlBody))
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/html; charset="UTF-8"`},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	writeBase64(htmlPart, []byte(htmlBody))

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(att.Filename))
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})},
		})
		if err != nil {
			return nil, err
		}
		writeBase64(part, att.Data)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func subjectFor(msg Message) string {
	if s := strings.TrimSpace(msg.Subject); s != "" {
		return s
	}
	switch msg.Template {
	case TemplateDeliveryAttachments:
		return "Your purchase is ready"
	case TemplateDeliveryService:
		return "Payment confirmation"
	default:
		return "Notification"
	}
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// writeBase64 wraps encoded output at 76 columns.
func writeBase64(w io.Writer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		_, _ = w.Write([]byte(encoded[:76] + "\r\n"))
		encoded = encoded[76:]
	}
	_, _ = w.Write([]byte(encoded + "\r\n"))
}
