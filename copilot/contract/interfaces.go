package contract

import "context"

// ModelClient is the external LLM collaborator. Implementations own prompt
// transport, auth and retries; callers own prompt content and must treat the
// returned text as untrusted.
type ModelClient interface {
	Complete(ctx context.Context, instructions, input string) (string, error)
}

// ERPCaller is the external ERP collaborator. Session handling with the ERP
// (login, cookies, re-auth) is entirely owned by the implementation.
type ERPCaller interface {
	Do(ctx context.Context, method, path, rawQuery string, body map[string]any) (status int, bodyPreview string, err error)
}
