package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// MailConfig configures the HTTP mail gateway notifier.
type MailConfig struct {
	// EmailAPIURL is the gateway endpoint notifications are POSTed to
	// (spec §6's EMAIL_API_URL), not a host:port pair — the gateway speaks
	// HTTP+JSON, not SMTP.
	EmailAPIURL string
	// EmailTo is the default recipient (spec §6's NOTIFICATION_EMAIL).
	EmailTo string
}

// gatewayRequest is the JSON body the mail gateway expects, matching the
// original platform's send_email_notification contract exactly:
// {to_email, subject, content, content_type}.
type gatewayRequest struct {
	ToEmail     string `json:"to_email"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// Mail delivers each notification as an HTTP POST to the configured email
// gateway, adapted from the teacher's Mail middleware (which emailed job
// execution results via SMTP) onto the HTTP gateway contract this platform's
// EMAIL_API_URL actually defines.
type Mail struct {
	cfg    MailConfig
	log    *logrus.Logger
	client *http.Client
}

// NewMail returns a Mail notifier, or nil if the config is incomplete.
func NewMail(cfg MailConfig, log *logrus.Logger) *Mail {
	if cfg.EmailAPIURL == "" || cfg.EmailTo == "" {
		return nil
	}
	return &Mail{cfg: cfg, log: log, client: &http.Client{Timeout: 10 * time.Second}}
}

func (m *Mail) Notify(p Payload) bool {
	subject, body := render(p)

	payload, err := json.Marshal(gatewayRequest{
		ToEmail:     m.cfg.EmailTo,
		Subject:     subject,
		Content:     body,
		ContentType: "html",
	})
	if err != nil {
		m.log.WithError(err).WithField("kind", p.Kind).Error("notification payload encoding failed")
		return false
	}

	req, err := http.NewRequest(http.MethodPost, m.cfg.EmailAPIURL, bytes.NewReader(payload))
	if err != nil {
		m.log.WithError(err).WithField("kind", p.Kind).Error("notification request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).WithField("kind", p.Kind).Error("notification delivery failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.log.WithField("kind", p.Kind).WithField("status", resp.StatusCode).
			Error("notification gateway returned an error status")
		return false
	}
	return true
}

var notificationTemplate = template.Must(template.New("notification").Parse(`
<p><b>{{.Kind}}</b> — workflow <b>{{.WorkflowName}}</b> (id {{.WorkflowID}})</p>
<ul>
{{if .ModuleName}}<li>module: {{.ModuleName}}{{if .ModuleID}} (id {{.ModuleID}}){{end}}</li>{{end}}
{{if .ModuleInfo}}<li>module info: <pre>{{.ModuleInfo}}</pre></li>{{end}}
{{if .ErrorMessage}}<li>error: {{.ErrorMessage}}</li>{{end}}
{{if .ExceptionMessage}}<li>exception: {{.ExceptionMessage}}</li>{{end}}
{{if .ExecutionID}}<li>execution: {{.ExecutionID}}</li>{{end}}
{{if .TimeoutSeconds}}<li>elapsed: {{.ElapsedSeconds}}s (timeout {{.TimeoutSeconds}}s)</li>{{end}}
<li>at: {{.FailureTime}}</li>
</ul>
`))

func render(p Payload) (subject, body string) {
	subject = fmt.Sprintf("[%s] workflow %q", p.Kind, p.WorkflowName)

	buf := bytes.NewBuffer(nil)
	_ = notificationTemplate.Execute(buf, p)
	return subject, buf.String()
}
