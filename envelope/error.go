package envelope

import (
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// CodeInternal reports that the handler of a message failed.
	CodeInternal = "InternalError"
	// CodeMessageDecode reports that a message could not be decoded.
	CodeMessageDecode = "MessageDecodeError"
)

// ErrorPayload is the content of an Error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p ErrorPayload) Error() string {
	return p.Code + ": " + p.Message
}

// NewError builds an Error envelope.
func NewError(code, message string) Envelope {
	content, err := sjson.Set(`{}`, "code", code)
	if err == nil {
		content, err = sjson.Set(content, "message", message)
	}
	if err != nil {
		// sjson only fails on malformed paths
		panic(err)
	}
	env := New(KindError)
	env.Content = content
	env.Header.ContentType = ContentTypeJSON
	return env
}

// AsError extracts the payload of an Error envelope.
func AsError(env Envelope) (ErrorPayload, bool) {
	if !env.Is(KindError) {
		return ErrorPayload{}, false
	}
	return ErrorPayload{
		Code:    env.Field("code").String(),
		Message: env.Field("message").String(),
	}, true
}

// ReplyAddress reads the reply address of raw message data without decoding
// the rest of it, so a malformed message can still be answered.
func ReplyAddress(data []byte) (Address, bool) {
	raw := gjson.GetBytes(data, "reply")
	if !raw.IsObject() {
		return Address{}, false
	}
	var addr Address
	if err := json.Unmarshal([]byte(raw.Raw), &addr); err != nil || addr.IsZero() {
		return Address{}, false
	}
	return addr, true
}
