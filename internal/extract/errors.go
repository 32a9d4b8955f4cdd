package extract

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures for callers.
type Kind string

const (
	KindAPIKeyMissing   Kind = "API_KEY_MISSING"
	KindAuthRequired    Kind = "AUTH_REQUIRED"
	KindRemote          Kind = "REMOTE_FAILURE"
	KindUnprocessable   Kind = "UNPROCESSABLE"
	KindInvalidDocument Kind = "INVALID_DOCUMENT"
)

// User-facing messages.
const (
	MessageAuthFailed    = "A autenticação falhou. Por favor, conecte sua chave novamente."
	MessageProcessFailed = "Falha ao processar o documento. Verifique sua conexão ou permissões da chave."
	MessageNoResults     = "Nenhum resultado de exame pôde ser extraído do documento."
)

// Error is returned for every failed extraction.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" if err is not an extraction error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsAuthRequired reports whether the caller should (re)authenticate.
// Both a missing key and a rejected key qualify.
func IsAuthRequired(err error) bool {
	switch KindOf(err) {
	case KindAPIKeyMissing, KindAuthRequired:
		return true
	default:
		return false
	}
}

// UserMessage maps an error to the message shown to end users.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindAPIKeyMissing, KindAuthRequired:
		return MessageAuthFailed
	case KindUnprocessable:
		return MessageNoResults
	case KindInvalidDocument:
		var e *Error
		errors.As(err, &e)
		return e.Message
	default:
		return MessageProcessFailed
	}
}
