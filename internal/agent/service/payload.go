package service

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	agentdomain "github.com/smallbiznis/pushrelay/internal/agent/domain"
)

const webhookSchemaURL = "https://pushrelay.smallbiznis.dev/schemas/agent_webhook.json"

//go:embed schema/agent_webhook.json
var webhookSchemaJSON []byte

func compileWebhookSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(webhookSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("decode agent webhook schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(webhookSchemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(webhookSchemaURL)
}

func parsePayload(schema *jsonschema.Schema, body []byte) (*agentdomain.WebhookPayload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &agentdomain.PayloadError{Fields: map[string]string{"body": "empty payload"}}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, &agentdomain.PayloadError{Fields: map[string]string{"body": "malformed json"}}
	}

	if err := schema.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &agentdomain.PayloadError{Fields: fieldErrors(verr)}
		}
		return nil, err
	}

	var payload agentdomain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &agentdomain.PayloadError{Fields: map[string]string{"body": "malformed json"}}
	}
	payload.Raw = append([]byte(nil), body...)
	return &payload, nil
}

// fieldErrors flattens schema output into one message per top-level field.
// Errors at the document root (missing properties, wrong type) land on "body".
func fieldErrors(verr *jsonschema.ValidationError) map[string]string {
	fields := map[string]string{}
	out := verr.BasicOutput()
	for _, unit := range out.Errors {
		if unit.Error == nil {
			continue
		}
		field := strings.TrimPrefix(unit.InstanceLocation, "/")
		if idx := strings.Index(field, "/"); idx >= 0 {
			field = field[:idx]
		}
		if field == "" {
			field = "body"
		}
		if _, exists := fields[field]; !exists {
			fields[field] = unit.Error.String()
		}
	}
	if len(fields) == 0 {
		fields["body"] = verr.Error()
	}
	return fields
}
