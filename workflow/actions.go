package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// maxHTTPResponseBytes caps captured response bodies so a misbehaving
// endpoint cannot bloat step outputs.
const maxHTTPResponseBytes = 64 * 1024

// Mailer sends workflow emails.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Messenger sends workflow SMS messages.
type Messenger interface {
	SendSMS(ctx context.Context, to, message string) error
}

// CodeRunner executes run_code nodes in a sandbox.
type CodeRunner interface {
	Run(ctx context.Context, language, code string, input map[string]interface{}) (json.RawMessage, error)
}

// Assistant serves ai_assistant nodes.
type Assistant interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Directory applies contact and CRM mutations (tags, fields, lists,
// campaigns, tasks, deals, calls). The engine treats these uniformly as
// named operations against a contact.
type Directory interface {
	Apply(ctx context.Context, action, contactID string, params map[string]interface{}) (json.RawMessage, error)
}

// ActionDeps are the external collaborators action nodes call out to.
// Any collaborator may be nil; executing a node that needs it then fails
// with a configuration error.
type ActionDeps struct {
	HTTPClient *http.Client
	Mailer     Mailer
	Messenger  Messenger
	CodeRunner CodeRunner
	Assistant  Assistant
	Directory  Directory

	// SetGlobal persists a global-scoped variable write.
	SetGlobal func(workspaceID, name string, value interface{}) error
}

// ActionSet executes action nodes against their collaborators.
type ActionSet struct {
	deps ActionDeps
	log  *zap.SugaredLogger
}

// NewActionSet creates the action executor.
func NewActionSet(deps ActionDeps, log *zap.SugaredLogger) *ActionSet {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ActionSet{deps: deps, log: log}
}

// Execute runs one action node. data is the node's config with templates
// already resolved against the run context.
func (a *ActionSet) Execute(ctx context.Context, run *Run, node *Node, data map[string]interface{}) (json.RawMessage, error) {
	switch node.SubType {
	case "http_request", "webhook":
		return a.httpRequest(ctx, node, data)

	case "send_email":
		return a.sendEmail(ctx, run, data)

	case "send_sms":
		return a.sendSMS(ctx, run, data)

	case "set_variable":
		return a.setVariable(run, data)

	case "data_transformer":
		return a.transform(data)

	case "run_code":
		if a.deps.CodeRunner == nil {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "no code runner configured")
		}
		language, _ := data["language"].(string)
		code, _ := data["code"].(string)
		input, _ := data["input"].(map[string]interface{})
		return a.deps.CodeRunner.Run(ctx, language, code, input)

	case "ai_assistant":
		if a.deps.Assistant == nil {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "no assistant configured")
		}
		prompt, _ := data["prompt"].(string)
		response, err := a.deps.Assistant.Complete(ctx, prompt)
		if err != nil {
			return nil, errors.Wrap(err, "assistant call failed")
		}
		return json.Marshal(map[string]string{"response": response})

	case "track_conversion":
		return json.Marshal(map[string]interface{}{
			"goal":    stringify(data["goal"]),
			"tracked": true,
		})

	default:
		// Contact, tag, list, campaign, CRM and call actions all route
		// through the directory as named operations
		if a.deps.Directory == nil {
			return nil, errors.Wrapf(errors.ErrInvalidRequest,
				"no directory configured for action %q", node.SubType)
		}
		contactID := stringify(lookupOrNil(run.Contact, "id"))
		return a.deps.Directory.Apply(ctx, node.SubType, contactID, data)
	}
}

func (a *ActionSet) httpRequest(ctx context.Context, node *Node, data map[string]interface{}) (json.RawMessage, error) {
	url, _ := data["url"].(string)
	if url == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "node %s missing url", node.ID)
	}
	method, _ := data["method"].(string)
	if method == "" {
		method = http.MethodPost // webhook default
	}

	var body io.Reader
	if rawBody, ok := data["body"]; ok && rawBody != nil {
		switch v := rawBody.(type) {
		case string:
			body = bytes.NewBufferString(v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, errors.Wrap(err, "failed to encode request body")
			}
			body = bytes.NewBuffer(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid http request for node %s", node.ID)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := data["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			req.Header.Set(key, stringify(value))
		}
	}

	resp, err := a.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "http request to %s failed", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read http response")
	}

	if resp.StatusCode >= 400 {
		return nil, errors.Newf("http request to %s returned %d: %s", url, resp.StatusCode, truncate(string(respBody), 200))
	}

	a.log.Debugw("HTTP action completed", "node_id", node.ID, "url", url, "status", resp.StatusCode)

	return json.Marshal(map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	})
}

func (a *ActionSet) sendEmail(ctx context.Context, run *Run, data map[string]interface{}) (json.RawMessage, error) {
	if a.deps.Mailer == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "no mailer configured")
	}

	to := stringify(data["to"])
	if to == "" {
		to = stringify(lookupOrNil(run.Contact, "email"))
	}
	if to == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "send_email has no recipient")
	}

	subject := stringify(data["subject"])
	body := stringify(data["body"])
	if err := a.deps.Mailer.SendEmail(ctx, to, subject, body); err != nil {
		return nil, errors.Wrapf(err, "failed to send email to %s", to)
	}

	return json.Marshal(map[string]interface{}{"sent": true, "to": to})
}

func (a *ActionSet) sendSMS(ctx context.Context, run *Run, data map[string]interface{}) (json.RawMessage, error) {
	if a.deps.Messenger == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "no messenger configured")
	}

	to := stringify(data["to"])
	if to == "" {
		to = stringify(lookupOrNil(run.Contact, "phone"))
	}
	if to == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "send_sms has no recipient")
	}

	message := stringify(data["message"])
	if err := a.deps.Messenger.SendSMS(ctx, to, message); err != nil {
		return nil, errors.Wrapf(err, "failed to send sms to %s", to)
	}

	return json.Marshal(map[string]interface{}{"sent": true, "to": to})
}

// setVariable writes a run-scoped variable, or a shared global one when
// scope is "global". Globals are last-writer-wins across runs.
func (a *ActionSet) setVariable(run *Run, data map[string]interface{}) (json.RawMessage, error) {
	name, _ := data["name"].(string)
	if name == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "set_variable missing name")
	}
	value := data["value"]
	scope, _ := data["scope"].(string)

	if scope == "global" {
		if a.deps.SetGlobal == nil {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "no global variable store configured")
		}
		if err := a.deps.SetGlobal(run.WorkspaceID, name, value); err != nil {
			return nil, err
		}
	} else {
		scope = "workflow"
		run.SetVariable(name, value)
	}

	return json.Marshal(map[string]interface{}{"name": name, "value": value, "scope": scope})
}

// transform builds an output object from the node's mappings. Source
// values have already been template-resolved, so each mapping is a plain
// target/value pair by now.
func (a *ActionSet) transform(data map[string]interface{}) (json.RawMessage, error) {
	rawMappings, ok := data["mappings"].([]interface{})
	if !ok {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "data_transformer mappings must be a list")
	}

	output := make(map[string]interface{}, len(rawMappings))
	for _, rawMapping := range rawMappings {
		mapping, ok := rawMapping.(map[string]interface{})
		if !ok {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "malformed data_transformer mapping")
		}
		target, _ := mapping["target"].(string)
		if target == "" {
			return nil, errors.Wrap(errors.ErrInvalidRequest, "data_transformer mapping missing target")
		}
		output[target] = mapping["source"]
	}

	return json.Marshal(output)
}

func lookupOrNil(m map[string]interface{}, path string) interface{} {
	value, _ := lookupPath(m, path)
	return value
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
