// Package cursor implements opaque pagination tokens encoding
// {sortFieldValue, id}, stable across ties by breaking on id.
package cursor

import (
	"encoding/base64"
	"encoding/json"

	"github.com/ovmeet/control-plane/internal/apierror"
)

// Token is the decoded form of an opaque cursor.
type Token struct {
	SortValue string `json:"v"`
	ID        string `json:"id"`
}

// Encode produces an opaque, URL-safe cursor string for (sortValue, id).
func Encode(sortValue, id string) string {
	raw, _ := json.Marshal(Token{SortValue: sortValue, ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses an opaque cursor string produced by Encode. An empty
// string decodes to the zero Token, representing "start of sequence".
func Decode(s string) (Token, error) {
	if s == "" {
		return Token{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, apierror.Wrap(apierror.Validation, err, "malformed cursor")
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, apierror.Wrap(apierror.Validation, err, "malformed cursor")
	}
	return tok, nil
}
