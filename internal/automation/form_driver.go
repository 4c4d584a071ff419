package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/services"
	"ferry/internal/transfer"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	maxResponseBytes    = 64 * 1024
)

// Endpoints are the remote paths the form driver posts to.
type Endpoints struct {
	Login       string
	Ready       string
	Individual  string
	GroupMode   string
	GroupMember string
	GroupSubmit string
	Logout      string
}

// FormOptions configure a FormDriver.
type FormOptions struct {
	BaseURL        string
	Username       string
	Password       string
	Endpoints      Endpoints
	RequestTimeout time.Duration
	PollInterval   time.Duration
	Transport      http.RoundTripper
}

// FormOptionsFromConfig maps the remote section onto FormOptions.
func FormOptionsFromConfig(cfg *config.Config) FormOptions {
	r := cfg.Remote
	return FormOptions{
		BaseURL:  r.BaseURL,
		Username: r.Username,
		Password: r.Password,
		Endpoints: Endpoints{
			Login:       r.LoginPath,
			Ready:       r.ReadyPath,
			Individual:  r.IndividualPath,
			GroupMode:   r.GroupModePath,
			GroupMember: r.GroupMemberPath,
			GroupSubmit: r.GroupSubmitPath,
			Logout:      r.LogoutPath,
		},
		RequestTimeout: cfg.RemoteRequestTimeout(),
	}
}

// FormDriver submits records through the remote system's HTTP form endpoints.
type FormDriver struct {
	opts     FormOptions
	base     *url.URL
	client   *http.Client
	logger   *slog.Logger
	loggedIn bool
}

// remoteReply is the JSON body the remote returns for form posts.
type remoteReply struct {
	OK      bool   `json:"ok"`
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// NewFormDriver validates opts and builds a driver with its own cookie jar.
func NewFormDriver(opts FormOptions, logger *slog.Logger) (*FormDriver, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "automation", "new form driver", "remote base_url must be an absolute URL", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FormDriver{
		opts: opts,
		base: base,
		client: &http.Client{
			Jar:       jar,
			Timeout:   opts.RequestTimeout,
			Transport: opts.Transport,
		},
		logger: logger,
	}, nil
}

// Initialize logs in and stores the session cookie.
func (d *FormDriver) Initialize(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", d.opts.Username)
	form.Set("password", d.opts.Password)
	status, reply, err := d.post(ctx, d.opts.Endpoints.Login, form)
	if err != nil {
		return unavailable("login", err)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: login refused: %s", transfer.ErrDriverUnavailable, replyMessage(status, reply))
	case status >= 300:
		return fmt.Errorf("%w: login failed: %s", transfer.ErrDriverUnavailable, replyMessage(status, reply))
	}
	d.loggedIn = true
	d.logger.Debug("remote session established", logging.String("base_url", d.base.String()))
	return nil
}

// WaitReady polls the readiness endpoint until the remote reports ready or
// ctx ends.
func (d *FormDriver) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		status, reply, err := d.get(ctx, d.opts.Endpoints.Ready)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: remote not ready: %w", transfer.ErrDriverUnavailable, ctx.Err())
			}
			return unavailable("ready", err)
		}
		if status == http.StatusUnauthorized {
			return fmt.Errorf("%w: session rejected while waiting for readiness", transfer.ErrDriverUnavailable)
		}
		if status < 300 && reply.Ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: remote not ready: %w", transfer.ErrDriverUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

// SubmitIndividual posts one individual entry.
func (d *FormDriver) SubmitIndividual(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	return d.submit(ctx, "submit individual", d.opts.Endpoints.Individual, encodeForm(form))
}

// EnterGroupMode switches the remote session to group entry.
func (d *FormDriver) EnterGroupMode(ctx context.Context) error {
	status, reply, err := d.post(ctx, d.opts.Endpoints.GroupMode, url.Values{})
	if err != nil {
		return d.requestFault(ctx, "enter group mode", err)
	}
	if fault := sessionFault(status, reply); fault != nil {
		return fault
	}
	if status >= 300 || !reply.OK {
		return services.Wrap(services.ErrExternalTool, "automation", "enter group mode", replyMessage(status, reply), nil)
	}
	return nil
}

// AddGroupMember adds one student to the open group entry.
func (d *FormDriver) AddGroupMember(ctx context.Context, member transfer.MemberRef) (transfer.Admission, error) {
	form := url.Values{}
	form.Set("record_id", strconv.FormatInt(member.RecordID, 10))
	form.Set("student_number", member.StudentNumber)
	form.Set("student_name", member.StudentName)
	status, reply, err := d.post(ctx, d.opts.Endpoints.GroupMember, form)
	if err != nil {
		return transfer.Admission{}, d.requestFault(ctx, "add group member", err)
	}
	if fault := sessionFault(status, reply); fault != nil {
		return transfer.Admission{}, fault
	}
	if status < 300 && reply.OK {
		return transfer.Admission{Accepted: true}, nil
	}
	return transfer.Admission{Reason: replyMessage(status, reply)}, nil
}

// SubmitGroup posts the shared group form.
func (d *FormDriver) SubmitGroup(ctx context.Context, form transfer.RemoteForm) (transfer.SubmitResult, error) {
	return d.submit(ctx, "submit group", d.opts.Endpoints.GroupSubmit, encodeForm(form))
}

// Shutdown logs out when a session exists and releases idle connections.
func (d *FormDriver) Shutdown(ctx context.Context) error {
	defer d.client.CloseIdleConnections()
	if !d.loggedIn || d.opts.Endpoints.Logout == "" {
		return nil
	}
	d.loggedIn = false
	status, reply, err := d.post(ctx, d.opts.Endpoints.Logout, url.Values{})
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("logout: %s", replyMessage(status, reply))
	}
	return nil
}

func (d *FormDriver) submit(ctx context.Context, operation, path string, form url.Values) (transfer.SubmitResult, error) {
	status, reply, err := d.post(ctx, path, form)
	if err != nil {
		return transfer.SubmitResult{}, d.requestFault(ctx, operation, err)
	}
	if fault := sessionFault(status, reply); fault != nil {
		return transfer.SubmitResult{}, fault
	}
	if status >= 500 {
		return transfer.SubmitResult{}, services.Wrap(services.ErrTransient, "automation", operation, replyMessage(status, reply), nil)
	}
	if status < 300 && reply.OK {
		return transfer.SubmitResult{Success: true, Message: reply.Message}, nil
	}
	return transfer.SubmitResult{Message: replyMessage(status, reply)}, nil
}

// requestFault classifies a transport error. Context expiry belongs to the
// item; anything else means the remote is gone.
func (d *FormDriver) requestFault(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", operation, ctxErr)
	}
	return unavailable(operation, err)
}

func (d *FormDriver) get(ctx context.Context, path string) (int, remoteReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.resolve(path), nil)
	if err != nil {
		return 0, remoteReply{}, err
	}
	return d.do(req)
}

func (d *FormDriver) post(ctx context.Context, path string, form url.Values) (int, remoteReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.resolve(path), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, remoteReply{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.do(req)
}

func (d *FormDriver) do(req *http.Request) (int, remoteReply, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, remoteReply{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, remoteReply{}, fmt.Errorf("read response: %w", err)
	}
	var reply remoteReply
	if len(body) > 0 && json.Unmarshal(body, &reply) != nil {
		reply.Message = strings.TrimSpace(string(body))
	}
	return resp.StatusCode, reply, nil
}

func (d *FormDriver) resolve(path string) string {
	return d.base.JoinPath(path).String()
}

func encodeForm(form transfer.RemoteForm) url.Values {
	values := make(url.Values, len(form))
	for key, value := range form {
		values.Set(key, value)
	}
	return values
}

// sessionFault reports an expired or revoked session.
func sessionFault(status int, reply remoteReply) error {
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: session expired: %s", transfer.ErrDriverUnavailable, replyMessage(status, reply))
	}
	return nil
}

func unavailable(operation string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %s timed out: %w", transfer.ErrDriverUnavailable, operation, err)
	}
	return fmt.Errorf("%w: %s: %w", transfer.ErrDriverUnavailable, operation, err)
}

func replyMessage(status int, reply remoteReply) string {
	if msg := strings.TrimSpace(reply.Message); msg != "" {
		return msg
	}
	if status == 0 {
		return "no response"
	}
	return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
}
